package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/mvellans/tgfetch/bot/internal/credentials"
	"github.com/mvellans/tgfetch/bot/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	snapshots []pipeline.Snapshot
}

func (s *staticSource) Snapshots() []pipeline.Snapshot { return s.snapshots }
func (s *staticSource) Active() int                    { return len(s.snapshots) }

func TestStatusHandler(t *testing.T) {
	src := &staticSource{
		snapshots: []pipeline.Snapshot{
			{JobID: "a", StateName: "downloading"},
			{JobID: "b", StateName: "awaiting_selection"},
		},
	}
	creds := credentials.NewStore(filepath.Join(t.TempDir(), "cookies.txt"))

	r := chi.NewRouter()
	r.Route("/status", ApplyRouter(src, creds, t.TempDir()))

	req := httptest.NewRequest(http.MethodGet, "/status/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		ActiveDownloads int `json:"active_downloads"`
		Jobs            []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"jobs"`
		Cookies struct {
			Configured bool `json:"configured"`
		} `json:"cookies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	assert.Equal(t, 2, res.ActiveDownloads)
	require.Len(t, res.Jobs, 2)
	assert.Equal(t, "downloading", res.Jobs[0].State)
	assert.False(t, res.Cookies.Configured, "no jar installed")
}
