// Package progress publishes upload progress outside the upload transaction.
// Readers may observe counts for work that is later rolled back.
package progress

import (
	"context"
	"sync"
)

// Upload states.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Update is one progress sample for an upload job.
type Update struct {
	JobID     string `json:"jobId"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
}

// Reporter publishes progress. Implementations must be safe for concurrent use.
type Reporter interface {
	Report(ctx context.Context, update Update) error
}

// Noop discards every update.
type Noop struct{}

func (Noop) Report(context.Context, Update) error { return nil }

// Recorder keeps every update in memory.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Report(_ context.Context, update Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return nil
}

// Updates returns a copy of the recorded updates.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}
