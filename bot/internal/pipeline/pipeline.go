// Package pipeline drives a download job from submitted URL to delivered
// file or terminal failure.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/mvellans/tgfetch/bot/common"
	"github.com/mvellans/tgfetch/bot/internal/delivery"
	"github.com/mvellans/tgfetch/bot/internal/formats"
	"github.com/mvellans/tgfetch/bot/internal/slots"
)

// StateTopic is the event-bus topic carrying job Snapshots on every state
// transition.
const StateTopic = "job:state"

var (
	// ErrInvalidURL rejects a URL that matches none of the supported forms.
	ErrInvalidURL = errors.New("pipeline: unsupported source URL")
	// ErrJobInProgress means the requester already holds a download slot.
	ErrJobInProgress = errors.New("pipeline: download already in progress")
	// ErrPayloadTooLarge is returned by a Deliverer when the transport
	// rejects the file for its size.
	ErrPayloadTooLarge = errors.New("pipeline: payload over transport limit")
)

// Extractor resolves a URL to metadata and transfers the selected stream.
type Extractor interface {
	Resolve(ctx context.Context, url string) (*common.MediaInfo, error)
	Fetch(ctx context.Context, url, selector, destDir string) (string, error)
}

// Deliverer hands the final file to the transport.
type Deliverer interface {
	Deliver(ctx context.Context, job Snapshot, path string, audio bool) error
}

type Options struct {
	// MaxSourceSize rejects media whose declared size exceeds it. Zero
	// disables the check.
	MaxSourceSize int64
	// SelectionTimeout expires a job whose requester never picks a format.
	SelectionTimeout time.Duration
	// DownloadDir is the root under which each job gets its own directory.
	DownloadDir string
}

type Pipeline struct {
	opts      Options
	slots     *slots.Registry
	extractor Extractor
	gate      *delivery.Gate
	deliverer Deliverer
	bus       EventBus.Bus

	jobs map[string]*Job
	mu   sync.RWMutex
}

func New(opts Options, reg *slots.Registry, ex Extractor, gate *delivery.Gate, del Deliverer, bus EventBus.Bus) *Pipeline {
	if opts.SelectionTimeout <= 0 {
		opts.SelectionTimeout = time.Minute * 10
	}

	return &Pipeline{
		opts:      opts,
		slots:     reg,
		extractor: ex,
		gate:      gate,
		deliverer: del,
		bus:       bus,
		jobs:      make(map[string]*Job),
	}
}

// Submit validates the URL, claims the requester's slot and starts the job
// goroutine. The two sentinel errors are the only ways a request is refused
// before a Job exists.
func (p *Pipeline) Submit(ctx context.Context, requesterID, chatID int64, url string) (*Job, error) {
	if !common.ValidSourceURL(url) {
		return nil, ErrInvalidURL
	}

	if !p.slots.TryAcquire(requesterID) {
		return nil, ErrJobInProgress
	}

	job := newJob(requesterID, chatID, url)

	p.mu.Lock()
	p.jobs[job.ID] = job
	p.mu.Unlock()

	slog.Info("job submitted",
		slog.String("id", job.ID),
		slog.Int64("requester", requesterID),
		slog.String("url", url),
	)

	go p.run(ctx, job)

	return job, nil
}

// Select resumes a job waiting on format selection. Events for unknown jobs,
// jobs not awaiting selection, or options absent from the job's own catalog
// are ignored: stale or duplicate button presses must not corrupt state.
func (p *Pipeline) Select(jobID, optionID string) bool {
	p.mu.RLock()
	job, ok := p.jobs[jobID]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	job.mu.Lock()
	if job.State != StateAwaitingSelection || job.Chosen != nil {
		job.mu.Unlock()
		return false
	}

	var chosen *formats.Option
	for i := range job.Catalog {
		if job.Catalog[i].ID == optionID {
			chosen = &job.Catalog[i]
			break
		}
	}
	if chosen == nil {
		job.mu.Unlock()
		return false
	}

	job.Chosen = chosen
	job.mu.Unlock()

	job.selected <- *chosen
	return true
}

// Snapshots returns the state of every live job.
func (p *Pipeline) Snapshots() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Snapshot, 0, len(p.jobs))
	for _, j := range p.jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// Active returns the number of live jobs.
func (p *Pipeline) Active() int {
	return p.slots.Active()
}

func (p *Pipeline) run(ctx context.Context, job *Job) {
	defer p.finalize(job)

	p.transition(job, StateInfoFetching)

	info, err := p.extractor.Resolve(ctx, job.SourceURL)
	if err != nil {
		p.fail(job, classify(err, ReasonExtractionFailed), err)
		return
	}
	if info == nil {
		p.fail(job, ReasonExtractionFailed, nil)
		return
	}

	job.mu.Lock()
	job.Info = info
	job.mu.Unlock()

	// checked before the user is ever shown choices
	if p.opts.MaxSourceSize > 0 && info.DeclaredSize > p.opts.MaxSourceSize {
		p.fail(job, ReasonTooLarge, nil)
		return
	}

	catalog := formats.Build(info)
	if len(catalog) == 0 {
		p.fail(job, ReasonNoFormats, nil)
		return
	}

	job.mu.Lock()
	job.Catalog = catalog
	job.mu.Unlock()

	p.transition(job, StateAwaitingSelection)

	var chosen formats.Option
	select {
	case chosen = <-job.selected:
	case <-time.After(p.opts.SelectionTimeout):
		p.fail(job, ReasonSelectionExpired, nil)
		return
	case <-ctx.Done():
		p.fail(job, ReasonDownloadError, ctx.Err())
		return
	}

	p.transition(job, StateDownloading)

	dest := filepath.Join(p.opts.DownloadDir, job.ID)
	job.mu.Lock()
	job.WorkingDir = dest
	job.mu.Unlock()

	path, err := p.extractor.Fetch(ctx, job.SourceURL, chosen.Selector(), dest)
	if err != nil {
		p.fail(job, classify(err, ReasonDownloadError), err)
		return
	}

	job.mu.Lock()
	job.WorkingFile = path
	job.mu.Unlock()

	p.transition(job, StateSizeChecking)

	oversized, err := p.gate.Oversized(path)
	if err != nil {
		p.fail(job, ReasonDownloadError, err)
		return
	}
	if oversized {
		p.transition(job, StateCompressing)
	}

	finalPath, err := p.gate.Prepare(ctx, path)
	if err != nil {
		p.fail(job, ReasonDownloadError, err)
		return
	}

	p.transition(job, StateDelivering)

	if err := p.deliverer.Deliver(ctx, job.snapshot(), finalPath, chosen.AudioOnly); err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			p.fail(job, ReasonTransportTooLarge, err)
		} else {
			p.fail(job, ReasonDeliveryFailed, err)
		}
		return
	}

	p.transition(job, StateComplete)
}

// finalize runs on every exit path: working files removed, slot released
// unconditionally, job state discarded.
func (p *Pipeline) finalize(job *Job) {
	p.gate.CleanupDir(job.WorkingDir)
	p.slots.Release(job.RequesterID)

	p.mu.Lock()
	delete(p.jobs, job.ID)
	p.mu.Unlock()
}

func (p *Pipeline) transition(job *Job, state State) {
	job.mu.Lock()
	job.State = state
	job.mu.Unlock()

	slog.Info("job state",
		slog.String("id", job.ID),
		slog.String("state", state.String()),
	)

	p.publish(job)
}

func (p *Pipeline) fail(job *Job, reason Reason, err error) {
	job.mu.Lock()
	job.State = StateFailed
	job.Reason = reason
	job.mu.Unlock()

	slog.Error("job failed",
		slog.String("id", job.ID),
		slog.String("reason", reason.String()),
		slog.Any("err", err),
	)

	p.publish(job)
}

func (p *Pipeline) publish(job *Job) {
	if p.bus != nil {
		p.bus.Publish(StateTopic, job.snapshot())
	}
}

// classify maps an extractor error to a failure reason. Matching on the
// error text is a best-effort heuristic, not a contract: yt-dlp gives us
// nothing more structured to go on.
func classify(err error, fallback Reason) Reason {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "sign in") || strings.Contains(msg, "cookies") {
		return ReasonAuthRequired
	}
	return fallback
}
