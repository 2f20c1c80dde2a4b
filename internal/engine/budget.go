package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dotagent/office/internal/natsbus"
)

// track records a call and raises a budget alert the first time the daily
// limits are breached on a given day.
func (e *Engine) track(ctx context.Context, endpoint string, tokens int, mode string, cached bool) {
	if e.deps.Tracker == nil {
		return
	}
	e.deps.Tracker.TrackCall(endpoint, tokens, mode, cached)
	e.CheckBudget(ctx)
}

// CheckBudget compares today's usage against the configured limits.
func (e *Engine) CheckBudget(ctx context.Context) {
	if e.deps.Tracker == nil || (e.cfg.MaxCallsPerDay <= 0 && e.cfg.MaxTokensPerDay <= 0) {
		return
	}
	limits := e.deps.Tracker.CheckLimits(e.cfg.MaxCallsPerDay, e.cfg.MaxTokensPerDay)
	if !limits.Exceeded {
		return
	}
	for _, w := range limits.Warnings {
		slog.Warn("usage limit exceeded", "warning", w)
	}

	today := time.Now().Format(time.DateOnly)
	e.alertMu.Lock()
	if e.alertedOn == today {
		e.alertMu.Unlock()
		return
	}
	e.alertedOn = today
	e.alertMu.Unlock()

	if e.deps.Publisher != nil {
		alert := map[string]any{"date": today, "warnings": limits.Warnings}
		if err := e.deps.Publisher.PublishJSON(natsbus.TopicAlerts, alert); err != nil {
			slog.Warn("publish budget alert failed", "error", err)
		}
	}
	if e.deps.Alerter == nil {
		return
	}
	text := fmt.Sprintf("Office budget alert (%s)\n%s", today, strings.Join(limits.Warnings, "\n"))
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := e.deps.Alerter.Notify(ctx, text); err != nil {
			slog.Warn("budget alert failed", "error", err)
		}
	}()
}
