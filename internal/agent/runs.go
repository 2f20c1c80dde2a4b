package agent

import (
	"sort"
	"sync"
	"time"
)

// Run describes one in-flight mission execution.
type Run struct {
	MissionID string    `json:"missionId"`
	Mission   string    `json:"mission"`
	Mode      string    `json:"mode"`
	Events    int       `json:"events"`
	StartedAt time.Time `json:"startedAt"`
	LastEvent time.Time `json:"lastEvent"`
}

type Runs struct {
	runs map[string]*Run // missionID → run
	mu   sync.RWMutex
}

func NewRuns() *Runs {
	return &Runs{
		runs: make(map[string]*Run),
	}
}

func (t *Runs) Start(missionID, mission, mode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.runs[missionID] = &Run{
		MissionID: missionID,
		Mission:   mission,
		Mode:      mode,
		StartedAt: now,
		LastEvent: now,
	}
}

func (t *Runs) Touch(missionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.runs[missionID]; ok {
		r.Events++
		r.LastEvent = time.Now()
	}
}

func (t *Runs) Finish(missionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, missionID)
}

// List returns active runs, oldest first.
func (t *Runs) List() []Run {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Run, 0, len(t.runs))
	for _, r := range t.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ListStale returns runs that have not emitted anything for longer than timeout.
func (t *Runs) ListStale(timeout time.Duration) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stale []string
	now := time.Now()
	for id, r := range t.runs {
		if now.Sub(r.LastEvent) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}
