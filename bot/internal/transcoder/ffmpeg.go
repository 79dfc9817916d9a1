// Package transcoder re-encodes an oversized file down to something the
// transport will accept.
package transcoder

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	videoCodec       = "libx264"
	videoCRF         = "28"
	videoPreset      = "fast"
	compressedSuffix = "-compressed"
)

type FFmpeg struct {
	bin string
}

func NewFFmpeg(bin string) *FFmpeg {
	return &FFmpeg{bin: bin}
}

// Transcode re-encodes path into a smaller mp4 next to it and returns the
// output path. The input file is left in place.
func (f *FFmpeg) Transcode(ctx context.Context, path string) (string, error) {
	output := outputPath(path)

	args := []string{
		"-i", path,
		"-vcodec", videoCodec,
		"-crf", videoCRF,
		"-preset", videoPreset,
		"-acodec", "copy",
		"-y",
		output,
	}

	slog.Info("transcoding",
		slog.String("input", path),
		slog.String("output", output),
	)

	cmd := exec.CommandContext(ctx, f.bin, args...)

	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg: %w: %s", err, string(out))
	}

	return output, nil
}

func outputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + compressedSuffix + ".mp4"
}
