// Package delivery decides whether a downloaded file needs a transcode pass
// before handoff and owns working-file cleanup.
package delivery

import (
	"context"
	"log/slog"
	"os"
)

// Transcoder re-encodes a file to fit a byte budget.
type Transcoder interface {
	Transcode(ctx context.Context, path string) (string, error)
}

type Gate struct {
	ceiling    int64
	transcoder Transcoder
}

func NewGate(ceiling int64, transcoder Transcoder) *Gate {
	return &Gate{ceiling: ceiling, transcoder: transcoder}
}

// Oversized reports whether the file at path exceeds the transport ceiling.
func (g *Gate) Oversized(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return fi.Size() > g.ceiling, nil
}

// Prepare measures the file and returns the path to hand to the transport.
// Files over the ceiling get one transcode pass; a transcoder failure falls
// back to the original, oversized file, deferring the size-limit error to the
// transport layer. Degraded but deliberate: a missing or crashing encoder
// must not fail the job.
func (g *Gate) Prepare(ctx context.Context, path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if fi.Size() <= g.ceiling {
		return path, nil
	}

	slog.Info("file over transport ceiling, transcoding",
		slog.String("path", path),
		slog.Int64("size", fi.Size()),
		slog.Int64("ceiling", g.ceiling),
	)

	compressed, err := g.transcoder.Transcode(ctx, path)
	if err != nil {
		slog.Warn("transcode failed, delivering original file",
			slog.String("path", path),
			slog.Any("err", err),
		)
		return path, nil
	}

	return compressed, nil
}

// Cleanup removes every tracked path. Best effort: already-missing files are
// fine and nothing here may mask the job's true outcome.
func (g *Gate) Cleanup(paths ...string) {
	seen := make(map[string]bool)

	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("cleanup failed", slog.String("path", p), slog.Any("err", err))
		}
	}
}

// CleanupDir removes a job's whole working directory.
func (g *Gate) CleanupDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("cleanup failed", slog.String("path", dir), slog.Any("err", err))
	}
}
