// Package credentials holds the shared cookie jar used by every extractor
// invocation. The jar is refreshed from a remote source and persisted so it
// survives restarts.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// ErrFetchFailed means the refresh source could not be retrieved.
	ErrFetchFailed = errors.New("credentials: fetch failed")
	// ErrInvalidFormat means the retrieved content does not look like a
	// cookie jar.
	ErrInvalidFormat = errors.New("credentials: content is not a cookie jar")
)

const netscapeHeader = "# Netscape HTTP Cookie File"

// Set is one immutable cookie-jar snapshot plus its provenance.
type Set struct {
	Content         []byte
	SourceURL       string
	LastRefreshedAt time.Time
	Validated       bool
}

// Store is the process-wide credential holder. Readers get the current Set
// through an atomic pointer so a refresh never exposes a half-written jar.
type Store struct {
	path    string
	client  *http.Client
	current atomic.Pointer[Set]
}

func NewStore(path string) *Store {
	return &Store{
		path:   path,
		client: &http.Client{Timeout: time.Second * 30},
	}
}

// Current returns the active credential set, or nil when none is installed.
func (s *Store) Current() *Set {
	return s.current.Load()
}

// FilePath returns the on-disk jar path when a set is installed, else "".
// The extractor passes this straight to yt-dlp's --cookies flag.
func (s *Store) FilePath() string {
	if s.current.Load() == nil {
		return ""
	}
	return s.path
}

// Refresh fetches a cookie jar from sourceURL, validates it and atomically
// replaces the persisted set. On any failure the previous set, in memory and
// on disk, stays untouched.
func (s *Store) Refresh(ctx context.Context, sourceURL string) error {
	rawURL := NormalizeRawURL(sourceURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFetchFailed, err)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFetchFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrInvalidFormat, res.StatusCode)
	}

	content, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFetchFailed, err)
	}

	if !looksLikeCookieJar(content) {
		return ErrInvalidFormat
	}

	if err := s.install(content, sourceURL, true); err != nil {
		return err
	}

	slog.Info("credentials refreshed",
		slog.String("source", rawURL),
		slog.Int("bytes", len(content)),
	)

	return nil
}

// InstallContent validates and installs a jar obtained out of band, e.g. an
// uploaded cookies.txt document.
func (s *Store) InstallContent(content []byte, source string) error {
	if !looksLikeCookieJar(content) {
		return ErrInvalidFormat
	}
	return s.install(content, source, true)
}

// LoadOnStartup adopts a jar already present on disk, then attempts one
// refresh when a source URL is configured. Failures are logged, never fatal:
// the bot keeps running unauthenticated and simply serves fewer restricted
// videos.
func (s *Store) LoadOnStartup(ctx context.Context, refreshURL string) {
	if content, err := os.ReadFile(s.path); err == nil && looksLikeCookieJar(content) {
		s.current.Store(&Set{
			Content:   content,
			SourceURL: s.path,
		})
		slog.Info("adopted existing cookie jar", slog.String("path", s.path))
	}

	if refreshURL == "" {
		slog.Warn("no credential refresh URL configured")
		return
	}

	if err := s.Refresh(ctx, refreshURL); err != nil {
		slog.Error("startup credential refresh failed", slog.Any("err", err))
	}
}

func (s *Store) install(content []byte, sourceURL string, validated bool) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %s", ErrFetchFailed, err)
	}

	// temp file + rename so readers never see a partial jar
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "cookies-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFetchFailed, err)
	}

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %s", ErrFetchFailed, err)
	}
	tmp.Close()

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %s", ErrFetchFailed, err)
	}

	s.current.Store(&Set{
		Content:         content,
		SourceURL:       sourceURL,
		LastRefreshedAt: time.Now(),
		Validated:       validated,
	})

	return nil
}

// NormalizeRawURL rewrites known paste-host URLs to their raw-content
// variant so the fetch returns the jar instead of an HTML page.
func NormalizeRawURL(url string) string {
	if strings.Contains(url, "batbin.me/") && !strings.Contains(url, "/raw/") {
		return strings.Replace(url, "batbin.me/", "batbin.me/raw/", 1)
	}
	if strings.Contains(url, "pastebin.com/") && !strings.Contains(url, "/raw/") {
		return strings.Replace(url, "pastebin.com/", "pastebin.com/raw/", 1)
	}
	return url
}

func looksLikeCookieJar(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	text := string(content)
	return strings.HasPrefix(text, netscapeHeader) ||
		strings.Contains(text, ".youtube.com")
}
