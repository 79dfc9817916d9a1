package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mvellans/tgfetch/bot/common"
	"github.com/mvellans/tgfetch/bot/internal/formats"
)

type State int

const (
	StatePending State = iota
	StateInfoFetching
	StateAwaitingSelection
	StateDownloading
	StateSizeChecking
	StateCompressing
	StateDelivering
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInfoFetching:
		return "info_fetching"
	case StateAwaitingSelection:
		return "awaiting_selection"
	case StateDownloading:
		return "downloading"
	case StateSizeChecking:
		return "size_checking"
	case StateCompressing:
		return "compressing"
	case StateDelivering:
		return "delivering"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

type Reason int

const (
	ReasonNone Reason = iota
	ReasonInvalidURL
	ReasonExtractionFailed
	ReasonTooLarge
	ReasonNoFormats
	ReasonAuthRequired
	ReasonDownloadError
	ReasonTransportTooLarge
	ReasonDeliveryFailed
	ReasonSelectionExpired
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonInvalidURL:
		return "invalid_url"
	case ReasonExtractionFailed:
		return "extraction_failed"
	case ReasonTooLarge:
		return "too_large"
	case ReasonNoFormats:
		return "no_formats"
	case ReasonAuthRequired:
		return "auth_required"
	case ReasonDownloadError:
		return "download_error"
	case ReasonTransportTooLarge:
		return "transport_too_large"
	case ReasonDeliveryFailed:
		return "delivery_failed"
	case ReasonSelectionExpired:
		return "selection_expired"
	}
	return "unknown"
}

// Job is one requester's attempt to obtain a file from one URL. It is owned
// exclusively by the pipeline goroutine driving it; the mutex only guards
// the fields touched by selection events and snapshot reads.
type Job struct {
	ID          string
	RequesterID int64
	ChatID      int64
	SourceURL   string
	StartedAt   time.Time

	Info        *common.MediaInfo
	Catalog     []formats.Option
	Chosen      *formats.Option
	State       State
	Reason      Reason
	WorkingDir  string
	WorkingFile string

	selected chan formats.Option
	mu       sync.Mutex
}

func newJob(requesterID, chatID int64, url string) *Job {
	return &Job{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		ChatID:      chatID,
		SourceURL:   url,
		StartedAt:   time.Now(),
		State:       StatePending,
		selected:    make(chan formats.Option, 1),
	}
}

// Snapshot is the immutable view of a job published on the event bus and
// served by the status endpoint.
type Snapshot struct {
	JobID       string           `json:"id"`
	RequesterID int64            `json:"requester_id"`
	ChatID      int64            `json:"chat_id"`
	SourceURL   string           `json:"source_url"`
	Title       string           `json:"title"`
	State       State            `json:"-"`
	StateName   string           `json:"state"`
	Reason      Reason           `json:"-"`
	ReasonName  string           `json:"reason,omitempty"`
	Catalog     []formats.Option `json:"-"`
	ChosenLabel string           `json:"chosen,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
}

func (j *Job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		JobID:       j.ID,
		RequesterID: j.RequesterID,
		ChatID:      j.ChatID,
		SourceURL:   j.SourceURL,
		State:       j.State,
		StateName:   j.State.String(),
		Reason:      j.Reason,
		Catalog:     j.Catalog,
		StartedAt:   j.StartedAt,
	}

	if j.Reason != ReasonNone {
		s.ReasonName = j.Reason.String()
	}
	if j.Info != nil {
		s.Title = j.Info.Title
	}
	if j.Chosen != nil {
		s.ChosenLabel = j.Chosen.Label
	}

	return s
}
