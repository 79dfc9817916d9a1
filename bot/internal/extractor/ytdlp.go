// Package extractor shells out to yt-dlp for metadata resolution and the
// actual byte transfer.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mvellans/tgfetch/bot/common"
)

// CookieSource provides the path of the current cookie jar, or "" when the
// bot runs unauthenticated.
type CookieSource interface {
	FilePath() string
}

type YtDlp struct {
	bin     string
	cookies CookieSource
}

func NewYtDlp(bin string, cookies CookieSource) *YtDlp {
	return &YtDlp{bin: bin, cookies: cookies}
}

// raw shapes of the yt-dlp -J dump, only the fields we read
type rawFormat struct {
	FormatID       string `json:"format_id"`
	Ext            string `json:"ext"`
	Height         int    `json:"height"`
	Filesize       int64  `json:"filesize"`
	FilesizeApprox int64  `json:"filesize_approx"`
}

type rawInfo struct {
	Title          string      `json:"title"`
	Filesize       int64       `json:"filesize"`
	FilesizeApprox int64       `json:"filesize_approx"`
	Formats        []rawFormat `json:"formats"`
}

// Resolve runs a metadata-only extraction and maps the JSON dump to a
// MediaInfo. On process failure the buffered stderr becomes the error text,
// which downstream classification depends on.
func (y *YtDlp) Resolve(ctx context.Context, url string) (*common.MediaInfo, error) {
	args := []string{url, "-J", "--no-playlist", "--no-warnings"}
	args = y.appendCookies(args)

	cmd := exec.CommandContext(ctx, y.bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var bufferedStderr bytes.Buffer
	go func() {
		io.Copy(&bufferedStderr, stderr)
	}()

	slog.Info("resolving media info", slog.String("url", url))

	var raw rawInfo
	decodeErr := json.NewDecoder(stdout).Decode(&raw)

	if err := cmd.Wait(); err != nil {
		return nil, errors.New(bufferedStderr.String())
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	return mapInfo(url, &raw), nil
}

// Fetch downloads the stream selected by selector into destDir and returns
// the resulting file path. destDir must be private to the calling job so the
// produced file can be located by a directory walk.
func (y *YtDlp) Fetch(ctx context.Context, url, selector, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	args := []string{
		url,
		"-f", selector,
		"-o", filepath.Join(destDir, "%(title)s.%(ext)s"),
		"--no-playlist",
		"--no-colors",
		"--no-warnings",
	}
	args = y.appendCookies(args)

	slog.Info("requesting download",
		slog.String("url", url),
		slog.String("selector", selector),
	)

	cmd := exec.CommandContext(ctx, y.bin, args...)

	var bufferedStderr bytes.Buffer
	cmd.Stderr = &bufferedStderr

	if err := cmd.Run(); err != nil {
		return "", errors.New(bufferedStderr.String())
	}

	path, err := locateDownloaded(destDir)
	if err != nil {
		return "", err
	}

	return path, nil
}

func (y *YtDlp) appendCookies(args []string) []string {
	if jar := y.cookies.FilePath(); jar != "" {
		return append(args, "--cookies", jar)
	}
	return args
}

func mapInfo(url string, raw *rawInfo) *common.MediaInfo {
	info := &common.MediaInfo{
		Title:        raw.Title,
		SourceURL:    url,
		DeclaredSize: raw.Filesize,
	}

	if info.DeclaredSize == 0 {
		info.DeclaredSize = raw.FilesizeApprox
	}

	for _, f := range raw.Formats {
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}

		info.Variants = append(info.Variants, common.FormatVariant{
			ID:        f.FormatID,
			Container: f.Ext,
			Height:    f.Height,
			SizeBytes: size,
		})
	}

	return info
}

func locateDownloaded(dir string) (string, error) {
	var found string

	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err == nil && !fi.IsDir() && filepath.Ext(path) != ".part" {
			found = path
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if found == "" {
		return "", fmt.Errorf("no file produced in %s", dir)
	}

	return found, nil
}
