package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/mvellans/tgfetch/bot/common"
	"github.com/mvellans/tgfetch/bot/internal/delivery"
	"github.com/mvellans/tgfetch/bot/internal/slots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchURL = "https://youtu.be/abc123"

type fakeExtractor struct {
	info       *common.MediaInfo
	resolveErr error
	fetchErr   error
	fetchSize  int

	mu           sync.Mutex
	resolveCalls int
	lastSelector string
}

func (f *fakeExtractor) Resolve(_ context.Context, url string) (*common.MediaInfo, error) {
	f.mu.Lock()
	f.resolveCalls++
	f.mu.Unlock()

	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.info, nil
}

func (f *fakeExtractor) Fetch(_ context.Context, url, selector, destDir string) (string, error) {
	f.mu.Lock()
	f.lastSelector = selector
	f.mu.Unlock()

	if f.fetchErr != nil {
		return "", f.fetchErr
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(destDir, "video.mp4")
	if err := os.WriteFile(path, make([]byte, f.fetchSize), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeExtractor) selector() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSelector
}

func (f *fakeExtractor) resolved() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCalls
}

type fakeDeliverer struct {
	err error

	mu    sync.Mutex
	path  string
	audio bool
	calls int
}

func (d *fakeDeliverer) Deliver(_ context.Context, _ Snapshot, path string, audio bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	d.path = path
	d.audio = audio
	return d.err
}

func (d *fakeDeliverer) delivered() (string, bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path, d.audio, d.calls
}

type fakeTranscoder struct {
	fail bool

	mu    sync.Mutex
	calls int
}

func (f *fakeTranscoder) Transcode(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.fail {
		return "", errors.New("encoder crashed")
	}

	out := path + ".small.mp4"
	if err := os.WriteFile(out, []byte("tiny"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

type harness struct {
	pipeline *Pipeline
	registry *slots.Registry
	events   chan Snapshot
}

func newHarness(t *testing.T, ex *fakeExtractor, del *fakeDeliverer, tc *fakeTranscoder, ceiling int64, opts Options) *harness {
	t.Helper()

	if opts.DownloadDir == "" {
		opts.DownloadDir = t.TempDir()
	}
	if opts.MaxSourceSize == 0 {
		opts.MaxSourceSize = 500_000
	}

	bus := EventBus.New()
	events := make(chan Snapshot, 64)
	require.NoError(t, bus.Subscribe(StateTopic, func(s Snapshot) { events <- s }))

	reg := slots.NewRegistry()
	gate := delivery.NewGate(ceiling, tc)

	return &harness{
		pipeline: New(opts, reg, ex, gate, del, bus),
		registry: reg,
		events:   events,
	}
}

// waitFor drains events until the wanted state shows up, returning every
// snapshot seen on the way.
func (h *harness) waitFor(t *testing.T, want State) (Snapshot, []Snapshot) {
	t.Helper()

	var seen []Snapshot
	deadline := time.After(time.Second * 3)

	for {
		select {
		case s := <-h.events:
			if s.State == want {
				return s, seen
			}
			seen = append(seen, s)
		case <-deadline:
			t.Fatalf("timed out waiting for state %s (saw %v)", want, seen)
		}
	}
}

func (h *harness) waitSlotFree(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.registry.Active() == 0 },
		time.Second*3, time.Millisecond*10, "slot must be released on every exit path")
}

func testInfo(declared int64) *common.MediaInfo {
	return &common.MediaInfo{
		Title:        "Test Video",
		SourceURL:    watchURL,
		DeclaredSize: declared,
		Variants: []common.FormatVariant{
			{ID: "22", Container: "mp4", Height: 720},
			{ID: "18", Container: "mp4", Height: 480},
			{ID: "140", Container: "m4a", Height: 0},
		},
	}
}

func statesOf(seen []Snapshot) []State {
	out := make([]State, 0, len(seen))
	for _, s := range seen {
		out = append(out, s.State)
	}
	return out
}

func TestHappyPathWithoutCompression(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000), fetchSize: 30_000}
	del := &fakeDeliverer{}
	h := newHarness(t, ex, del, &fakeTranscoder{}, 50_000, Options{})

	job, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	s, _ := h.waitFor(t, StateAwaitingSelection)

	var labels []string
	for _, o := range s.Catalog {
		labels = append(labels, o.Label)
	}
	assert.Equal(t, []string{"720p", "480p", "Audio Only"}, labels)

	require.True(t, h.pipeline.Select(job.ID, "480p"))

	_, seen := h.waitFor(t, StateComplete)
	assert.NotContains(t, statesOf(seen), StateCompressing,
		"a 30k file under a 50k ceiling needs no transcode")
	assert.Contains(t, statesOf(seen), StateSizeChecking)

	assert.Equal(t, "best[height<=480]", ex.selector())

	path, audio, calls := del.delivered()
	assert.Equal(t, 1, calls)
	assert.False(t, audio)
	assert.Equal(t, "video.mp4", filepath.Base(path))

	h.waitSlotFree(t)
	assert.True(t, h.registry.TryAcquire(1), "requester can start a new job")

	require.Eventually(t, func() bool {
		_, err := os.Stat(job.WorkingDir)
		return os.IsNotExist(err)
	}, time.Second*3, time.Millisecond*10, "working files are removed")
}

func TestOversizedFileIsCompressed(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000), fetchSize: 80_000}
	del := &fakeDeliverer{}
	tc := &fakeTranscoder{}
	h := newHarness(t, ex, del, tc, 50_000, Options{})

	job, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	h.waitFor(t, StateAwaitingSelection)
	require.True(t, h.pipeline.Select(job.ID, "720p"))

	_, seen := h.waitFor(t, StateComplete)
	assert.Contains(t, statesOf(seen), StateCompressing)

	path, _, _ := del.delivered()
	assert.Equal(t, "video.mp4.small.mp4", filepath.Base(path))
}

func TestTranscoderFailureDeliversOriginal(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000), fetchSize: 80_000}
	del := &fakeDeliverer{}
	h := newHarness(t, ex, del, &fakeTranscoder{fail: true}, 50_000, Options{})

	job, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	h.waitFor(t, StateAwaitingSelection)
	require.True(t, h.pipeline.Select(job.ID, "720p"))

	_, seen := h.waitFor(t, StateComplete)
	assert.Contains(t, statesOf(seen), StateCompressing)

	path, _, _ := del.delivered()
	assert.Equal(t, "video.mp4", filepath.Base(path), "oversized original still goes out")
}

func TestAudioSelection(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000), fetchSize: 1_000}
	del := &fakeDeliverer{}
	h := newHarness(t, ex, del, &fakeTranscoder{}, 50_000, Options{})

	job, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	h.waitFor(t, StateAwaitingSelection)
	require.True(t, h.pipeline.Select(job.ID, "audio"))
	h.waitFor(t, StateComplete)

	assert.Equal(t, "bestaudio/best", ex.selector())
	_, audio, _ := del.delivered()
	assert.True(t, audio)
}

func TestDeclaredSizeOverLimitNeverOffersSelection(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(600_000)}
	h := newHarness(t, ex, &fakeDeliverer{}, &fakeTranscoder{}, 50_000,
		Options{MaxSourceSize: 500_000})

	_, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	s, seen := h.waitFor(t, StateFailed)
	assert.Equal(t, ReasonTooLarge, s.Reason)
	assert.NotContains(t, statesOf(seen), StateAwaitingSelection)

	h.waitSlotFree(t)
}

func TestNoFormats(t *testing.T) {
	ex := &fakeExtractor{info: &common.MediaInfo{Title: "bare"}}
	h := newHarness(t, ex, &fakeDeliverer{}, &fakeTranscoder{}, 50_000, Options{})

	_, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	s, _ := h.waitFor(t, StateFailed)
	assert.Equal(t, ReasonNoFormats, s.Reason)
	h.waitSlotFree(t)
}

func TestAuthRequiredClassification(t *testing.T) {
	cases := map[string]string{
		"sign in": "ERROR: [youtube] abc123: Sign in to confirm you're not a bot.",
		"cookies": "ERROR: use --cookies or --cookies-from-browser for authentication",
	}

	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			ex := &fakeExtractor{resolveErr: errors.New(msg)}
			h := newHarness(t, ex, &fakeDeliverer{}, &fakeTranscoder{}, 50_000, Options{})

			_, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
			require.NoError(t, err)

			s, _ := h.waitFor(t, StateFailed)
			assert.Equal(t, ReasonAuthRequired, s.Reason)
			h.waitSlotFree(t)
		})
	}
}

func TestDownloadErrorClassification(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000), fetchErr: errors.New("ERROR: connection reset")}
	h := newHarness(t, ex, &fakeDeliverer{}, &fakeTranscoder{}, 50_000, Options{})

	job, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	h.waitFor(t, StateAwaitingSelection)
	require.True(t, h.pipeline.Select(job.ID, "720p"))

	s, _ := h.waitFor(t, StateFailed)
	assert.Equal(t, ReasonDownloadError, s.Reason)
	h.waitSlotFree(t)
}

func TestUnsupportedHostRejectedBeforeExtraction(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000)}
	h := newHarness(t, ex, &fakeDeliverer{}, &fakeTranscoder{}, 50_000, Options{})

	_, err := h.pipeline.Submit(context.Background(), 1, 99, "https://example.com/video")

	assert.ErrorIs(t, err, ErrInvalidURL)
	assert.Zero(t, ex.resolved(), "extractor must never see a rejected URL")
	assert.True(t, h.registry.TryAcquire(1), "no slot is held for a rejected URL")
}

func TestSecondSubmitWhileJobActive(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000), fetchSize: 1_000}
	h := newHarness(t, ex, &fakeDeliverer{}, &fakeTranscoder{}, 50_000, Options{})

	_, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	_, err = h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	assert.ErrorIs(t, err, ErrJobInProgress)

	_, err = h.pipeline.Submit(context.Background(), 2, 99, watchURL)
	assert.NoError(t, err, "distinct requesters proceed independently")
}

func TestStaleAndInvalidSelectionsAreIgnored(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000), fetchSize: 1_000}
	h := newHarness(t, ex, &fakeDeliverer{}, &fakeTranscoder{}, 50_000, Options{})

	job, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	h.waitFor(t, StateAwaitingSelection)

	assert.False(t, h.pipeline.Select("no-such-job", "480p"))
	assert.False(t, h.pipeline.Select(job.ID, "1080p"), "option not in this job's catalog")

	require.True(t, h.pipeline.Select(job.ID, "480p"))
	assert.False(t, h.pipeline.Select(job.ID, "480p"), "duplicate press is a no-op")

	h.waitFor(t, StateComplete)
	assert.False(t, h.pipeline.Select(job.ID, "480p"), "terminal jobs ignore selections")
}

func TestSelectionTimeoutFreesSlot(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000)}
	h := newHarness(t, ex, &fakeDeliverer{}, &fakeTranscoder{}, 50_000,
		Options{SelectionTimeout: time.Millisecond * 50})

	_, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	h.waitFor(t, StateAwaitingSelection)

	s, _ := h.waitFor(t, StateFailed)
	assert.Equal(t, ReasonSelectionExpired, s.Reason)
	h.waitSlotFree(t)
}

func TestTransportTooLarge(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000), fetchSize: 1_000}
	del := &fakeDeliverer{err: ErrPayloadTooLarge}
	h := newHarness(t, ex, del, &fakeTranscoder{}, 50_000, Options{})

	job, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	h.waitFor(t, StateAwaitingSelection)
	require.True(t, h.pipeline.Select(job.ID, "720p"))

	s, _ := h.waitFor(t, StateFailed)
	assert.Equal(t, ReasonTransportTooLarge, s.Reason)
	h.waitSlotFree(t)
}

func TestOtherDeliveryFailure(t *testing.T) {
	ex := &fakeExtractor{info: testInfo(10_000), fetchSize: 1_000}
	del := &fakeDeliverer{err: errors.New("network hiccup")}
	h := newHarness(t, ex, del, &fakeTranscoder{}, 50_000, Options{})

	job, err := h.pipeline.Submit(context.Background(), 1, 99, watchURL)
	require.NoError(t, err)

	h.waitFor(t, StateAwaitingSelection)
	require.True(t, h.pipeline.Select(job.ID, "720p"))

	s, _ := h.waitFor(t, StateFailed)
	assert.Equal(t, ReasonDeliveryFailed, s.Reason)
	h.waitSlotFree(t)
}
