// Package scheduler runs periodic housekeeping on a cron schedule: it drops
// expired cache entries, checks the daily usage budget and reports runs
// that stopped producing events.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/cache"
	"github.com/dotagent/office/internal/config"
)

// staleRunAfter is how long a run may go without events before it is
// reported.
const staleRunAfter = 10 * time.Minute

type BudgetChecker interface {
	CheckBudget(ctx context.Context)
}

type Result struct {
	At        time.Time `json:"at"`
	Expired   int       `json:"expired"`
	StaleRuns []string  `json:"staleRuns,omitempty"`
}

type Sweeper struct {
	cache  *cache.Cache
	budget BudgetChecker
	runs   *agent.Runs

	schedule     string
	pollInterval time.Duration
	now          func() time.Time

	mu   sync.Mutex
	next time.Time
}

func New(cfg config.SchedulerConfig, c *cache.Cache, budget BudgetChecker, runs *agent.Runs) *Sweeper {
	schedule := cfg.SweepSchedule
	if schedule == "" {
		schedule = "*/10 * * * *"
	}
	return &Sweeper{
		cache:        c,
		budget:       budget,
		runs:         runs,
		schedule:     schedule,
		pollInterval: cfg.PollInterval,
		now:          time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("sweeper started", "schedule", s.schedule, "poll_interval", s.pollInterval, "next", s.NextRun())

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll sweeps once the next scheduled tick has passed. The first tick
// counted is the current minute, if the schedule matches it.
func (s *Sweeper) poll(ctx context.Context) bool {
	now := s.now()

	s.mu.Lock()
	if s.next.IsZero() {
		next, err := gronx.NextTickAfter(s.schedule, now.Truncate(time.Minute), true)
		if err != nil {
			s.mu.Unlock()
			slog.Error("invalid sweep schedule", "schedule", s.schedule, "error", err)
			return false
		}
		s.next = next
	}
	if now.Before(s.next) {
		s.mu.Unlock()
		return false
	}
	next, err := gronx.NextTickAfter(s.schedule, now, false)
	if err != nil {
		s.mu.Unlock()
		slog.Error("invalid sweep schedule", "schedule", s.schedule, "error", err)
		return false
	}
	s.next = next
	s.mu.Unlock()

	s.Sweep(ctx)
	return true
}

// Sweep runs every housekeeping step once.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	res := Result{At: s.now().UTC()}

	if s.cache != nil {
		res.Expired = s.cache.CleanExpired()
	}
	if s.budget != nil {
		s.budget.CheckBudget(ctx)
	}
	if s.runs != nil {
		res.StaleRuns = s.runs.ListStale(staleRunAfter)
		for _, id := range res.StaleRuns {
			slog.Warn("mission run has gone quiet", "mission", id, "after", staleRunAfter)
		}
	}

	slog.Info("sweep finished", "expired", res.Expired, "stale_runs", len(res.StaleRuns))
	return res
}

// NextRun reports when the schedule is next due, or the zero time if the
// expression is invalid.
func (s *Sweeper) NextRun() time.Time {
	next, err := gronx.NextTickAfter(s.schedule, s.now(), false)
	if err != nil {
		return time.Time{}
	}
	return next
}
