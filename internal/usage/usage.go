// Package usage records model-facing calls and keeps rolling statistics,
// persisted best-effort to a local JSON snapshot.
package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	maxRecords      = 1000
	snapshotRecords = 50
)

type Call struct {
	Timestamp      time.Time `json:"timestamp"`
	Endpoint       string    `json:"endpoint"`
	TokensEstimate int       `json:"tokensEstimate"`
	Mode           string    `json:"mode"`
	Cached         bool      `json:"cached"`
}

type SessionStats struct {
	TotalCalls      int            `json:"totalCalls"`
	CachedCalls     int            `json:"cachedCalls"`
	APICalls        int            `json:"apiCalls"`
	EstimatedTokens int            `json:"estimatedTokens"`
	Modes           map[string]int `json:"modes"`
	CacheHitRate    float64        `json:"cacheHitRate"`
}

type DailyStats struct {
	Date            string         `json:"date"`
	TotalCalls      int            `json:"totalCalls"`
	CachedCalls     int            `json:"cachedCalls"`
	APICalls        int            `json:"apiCalls"`
	EstimatedTokens int            `json:"estimatedTokens"`
	Modes           map[string]int `json:"modes"`
}

type Limits struct {
	Exceeded bool     `json:"exceeded"`
	Warnings []string `json:"warnings"`
}

type snapshot struct {
	LastUpdated  time.Time    `json:"lastUpdated"`
	SessionStats SessionStats `json:"sessionStats"`
	DailyStats   DailyStats   `json:"dailyStats"`
	RecentCalls  []Call       `json:"recentCalls"`
}

type Tracker struct {
	mu    sync.Mutex
	calls []Call
	path  string
	now   func() time.Time

	// serializes snapshot writes so an older snapshot never lands last
	writeMu sync.Mutex
	pending sync.WaitGroup
}

// NewTracker creates a tracker persisting to path. An empty path keeps
// statistics in memory only.
func NewTracker(path string) *Tracker {
	return &Tracker{
		path: path,
		now:  time.Now,
	}
}

// EstimateTokens approximates token count as one per four characters.
// It is not billing-accurate.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}

// TrackCall records one call and schedules an asynchronous snapshot write.
func (t *Tracker) TrackCall(endpoint string, tokens int, mode string, cached bool) {
	t.mu.Lock()
	t.calls = append(t.calls, Call{
		Timestamp:      t.now(),
		Endpoint:       endpoint,
		TokensEstimate: tokens,
		Mode:           mode,
		Cached:         cached,
	})
	if len(t.calls) > maxRecords {
		t.calls = t.calls[len(t.calls)-maxRecords:]
	}
	t.mu.Unlock()

	if t.path == "" {
		return
	}
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		if err := t.Save(); err != nil {
			slog.Error("failed to save usage stats", "path", t.path, "error", err)
		}
	}()
}

// Wait blocks until scheduled snapshot writes have finished.
func (t *Tracker) Wait() {
	t.pending.Wait()
}

func (t *Tracker) SessionStats() SessionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionStatsLocked()
}

func (t *Tracker) sessionStatsLocked() SessionStats {
	st := SessionStats{Modes: emptyModes()}
	for _, c := range t.calls {
		st.TotalCalls++
		st.EstimatedTokens += c.TokensEstimate
		st.Modes[c.Mode]++
		if c.Cached {
			st.CachedCalls++
		} else {
			st.APICalls++
		}
	}
	if st.TotalCalls > 0 {
		rate := float64(st.CachedCalls) / float64(st.TotalCalls) * 100
		st.CacheHitRate = math.Round(rate*100) / 100
	}
	return st
}

// DailyStats aggregates the calls made today in server local time.
func (t *Tracker) DailyStats() DailyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dailyStatsLocked()
}

func (t *Tracker) dailyStatsLocked() DailyStats {
	today := t.now().Local().Format(time.DateOnly)
	st := DailyStats{Date: today, Modes: emptyModes()}
	for _, c := range t.calls {
		if c.Timestamp.Local().Format(time.DateOnly) != today {
			continue
		}
		st.TotalCalls++
		st.EstimatedTokens += c.TokensEstimate
		st.Modes[c.Mode]++
		if c.Cached {
			st.CachedCalls++
		} else {
			st.APICalls++
		}
	}
	return st
}

// CheckLimits compares today's API calls and estimated tokens against the
// given thresholds. A zero threshold disables that check.
func (t *Tracker) CheckLimits(maxCalls, maxTokens int) Limits {
	daily := t.DailyStats()

	l := Limits{Warnings: []string{}}
	if maxTokens > 0 && daily.EstimatedTokens > maxTokens {
		l.Exceeded = true
		l.Warnings = append(l.Warnings, fmt.Sprintf("Daily token limit exceeded: %d/%d", daily.EstimatedTokens, maxTokens))
	}
	if maxCalls > 0 && daily.APICalls > maxCalls {
		l.Exceeded = true
		l.Warnings = append(l.Warnings, fmt.Sprintf("Daily API call limit exceeded: %d/%d", daily.APICalls, maxCalls))
	}
	return l
}

func (t *Tracker) Recent(n int) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.calls) {
		n = len(t.calls)
	}
	out := make([]Call, n)
	copy(out, t.calls[len(t.calls)-n:])
	return out
}

func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}

// Save writes the snapshot file.
func (t *Tracker) Save() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	recent := t.calls
	if len(recent) > snapshotRecords {
		recent = recent[len(recent)-snapshotRecords:]
	}
	snap := snapshot{
		LastUpdated:  t.now().UTC(),
		SessionStats: t.sessionStatsLocked(),
		DailyStats:   t.dailyStatsLocked(),
		RecentCalls:  append([]Call(nil), recent...),
	}
	t.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create stats dir: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load restores recent calls from the snapshot file. A missing file is not
// an error.
func (t *Tracker) Load() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(snap.RecentCalls, t.calls...)
	if len(t.calls) > maxRecords {
		t.calls = t.calls[len(t.calls)-maxRecords:]
	}
	return nil
}

func emptyModes() map[string]int {
	return map[string]int{"simulation": 0, "hybrid": 0, "real": 0}
}
