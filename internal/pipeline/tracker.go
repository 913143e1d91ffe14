package pipeline

import (
	"sync"
	"time"
)

// Progress is a point-in-time view of the active run.
type Progress struct {
	RunID           string    `json:"run_id"`
	Running         bool      `json:"running"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
	Total           int       `json:"total"`
	Done            int       `json:"done"`
	Succeeded       int       `json:"succeeded"`
	Failed          int       `json:"failed"`
	RateLimitPauses int       `json:"rate_limit_pauses"`
}

// Tracker publishes run progress to readers outside the driver, such as the status endpoint.
type Tracker struct {
	mu sync.RWMutex
	p  Progress
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Snapshot() Progress {
	if t == nil {
		return Progress{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.p
}

func (t *Tracker) update(fn func(p *Progress)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.p)
}
