package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/cache"
	"github.com/dotagent/office/internal/config"
	"github.com/dotagent/office/internal/event"
)

type countingBudget struct{ calls atomic.Int32 }

func (b *countingBudget) CheckBudget(ctx context.Context) { b.calls.Add(1) }

func TestSweepDropsExpiredEntries(t *testing.T) {
	c := cache.New(10, 20*time.Millisecond)
	c.Set("Build a dashboard", []event.Event{event.New(event.Complete{Success: true})})
	time.Sleep(40 * time.Millisecond)

	budget := &countingBudget{}
	s := New(config.SchedulerConfig{}, c, budget, nil)

	res := s.Sweep(context.Background())
	if res.Expired != 1 {
		t.Errorf("expected 1 expired entry, got %d", res.Expired)
	}
	if budget.calls.Load() != 1 {
		t.Errorf("expected budget check, got %d", budget.calls.Load())
	}
}

func TestSweepReportsStaleRuns(t *testing.T) {
	runs := agent.NewRuns()
	runs.Start("m1", "x", config.ModeSimulation)

	s := New(config.SchedulerConfig{}, nil, nil, runs)
	if res := s.Sweep(context.Background()); len(res.StaleRuns) != 0 {
		t.Errorf("fresh run reported stale: %v", res.StaleRuns)
	}
}

func TestPollRunsOncePerMinute(t *testing.T) {
	budget := &countingBudget{}
	s := New(config.SchedulerConfig{SweepSchedule: "* * * * *"}, nil, budget, nil)

	now := time.Date(2026, 3, 1, 10, 15, 5, 0, time.UTC)
	s.now = func() time.Time { return now }

	if !s.poll(context.Background()) {
		t.Fatal("expected sweep when due")
	}
	now = now.Add(20 * time.Second)
	if s.poll(context.Background()) {
		t.Error("expected no second sweep in the same minute")
	}
	now = now.Add(time.Minute)
	if !s.poll(context.Background()) {
		t.Error("expected sweep in the next minute")
	}
	if budget.calls.Load() != 2 {
		t.Errorf("expected 2 sweeps, got %d", budget.calls.Load())
	}
}

func TestPollAtOffsetSecondsSweepsEachDueMinute(t *testing.T) {
	budget := &countingBudget{}
	s := New(config.SchedulerConfig{SweepSchedule: "*/10 * * * *"}, nil, budget, nil)

	now := time.Date(2026, 3, 1, 10, 0, 17, 0, time.UTC)
	s.now = func() time.Time { return now }

	sweptAt := map[int]int{}
	for i := 0; i < 120; i++ {
		if s.poll(context.Background()) {
			sweptAt[now.Minute()]++
		}
		now = now.Add(30 * time.Second)
	}

	if budget.calls.Load() != 6 {
		t.Errorf("expected 6 sweeps in one hour, got %d", budget.calls.Load())
	}
	for _, m := range []int{0, 10, 20, 30, 40, 50} {
		if sweptAt[m] != 1 {
			t.Errorf("expected one sweep at minute %d, got %d", m, sweptAt[m])
		}
	}
}

func TestPollInvalidSchedule(t *testing.T) {
	s := New(config.SchedulerConfig{SweepSchedule: "not a cron"}, nil, nil, nil)
	if s.poll(context.Background()) {
		t.Error("expected no sweep for invalid schedule")
	}
}

func TestPollSkipsWhenNotDue(t *testing.T) {
	s := New(config.SchedulerConfig{SweepSchedule: "0 3 * * *"}, nil, nil, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC) }
	if s.poll(context.Background()) {
		t.Error("expected no sweep outside schedule")
	}
}

func TestNextRun(t *testing.T) {
	s := New(config.SchedulerConfig{SweepSchedule: "*/10 * * * *"}, nil, nil, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 10, 12, 0, 0, time.UTC) }
	want := time.Date(2026, 3, 1, 10, 20, 0, 0, time.UTC)
	if got := s.NextRun(); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	bad := New(config.SchedulerConfig{SweepSchedule: "not a cron"}, nil, nil, nil)
	if !bad.NextRun().IsZero() {
		t.Error("expected zero time for invalid schedule")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(config.SchedulerConfig{PollInterval: 10 * time.Millisecond}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
