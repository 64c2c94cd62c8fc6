package notify

import (
	"context"
	"sync"
)

// Recorder is a Notifier that records alerts in memory, for tests and
// dry runs.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify records the alert.
func (r *Recorder) Notify(ctx context.Context, a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

// Alerts returns a snapshot of recorded alerts, oldest first.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Reset discards recorded alerts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = nil
}
