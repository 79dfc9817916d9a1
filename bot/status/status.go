// Package status exposes a small read-only HTTP endpoint with the bot's
// runtime state, for container health checks and dashboards.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/mvellans/tgfetch/bot/internal/credentials"
	"github.com/mvellans/tgfetch/bot/internal/pipeline"
	"golang.org/x/sys/unix"
)

// Source is the slice of pipeline state the endpoint reports.
type Source interface {
	Snapshots() []pipeline.Snapshot
	Active() int
}

type cookieStatus struct {
	Configured      bool      `json:"configured"`
	Validated       bool      `json:"validated"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

type response struct {
	ActiveDownloads int                 `json:"active_downloads"`
	Jobs            []pipeline.Snapshot `json:"jobs"`
	Cookies         cookieStatus        `json:"cookies"`
	FreeDisk        string              `json:"free_disk,omitempty"`
}

func handler(src Source, creds *credentials.Store, downloadPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := response{
			ActiveDownloads: src.Active(),
			Jobs:            src.Snapshots(),
			FreeDisk:        FreeDisk(downloadPath),
		}

		if set := creds.Current(); set != nil {
			res.Cookies = cookieStatus{
				Configured:      true,
				Validated:       set.Validated,
				LastRefreshedAt: set.LastRefreshedAt,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// ApplyRouter mounts the status routes on a sub-router.
func ApplyRouter(src Source, creds *credentials.Store, downloadPath string) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", handler(src, creds, downloadPath))
	}
}

// Serve runs the status endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, src Source, creds *credentials.Store, downloadPath string) error {
	r := chi.NewRouter()

	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedHeaders: []string{"*"},
	}).Handler)

	r.Route("/status", ApplyRouter(src, creds, downloadPath))

	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	slog.Info("status endpoint started", slog.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// FreeDisk returns the humanized free space of the volume holding path.
func FreeDisk(path string) string {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return ""
	}
	return humanize.IBytes(stat.Bavail * uint64(stat.Bsize))
}
