package usage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.in), got, tt.want)
		}
	}
}

func TestSessionStats(t *testing.T) {
	tr := NewTracker("")
	tr.TrackCall("/api/missions/stream", 100, "hybrid", false)
	tr.TrackCall("/api/missions/stream", 0, "hybrid", true)

	st := tr.SessionStats()
	if st.TotalCalls != 2 || st.CachedCalls != 1 || st.APICalls != 1 {
		t.Errorf("unexpected counts: %+v", st)
	}
	if st.CacheHitRate != 50 {
		t.Errorf("expected 50%% hit rate, got %v", st.CacheHitRate)
	}
	if st.Modes["hybrid"] != 2 || st.Modes["real"] != 0 {
		t.Errorf("unexpected modes: %v", st.Modes)
	}
	if st.EstimatedTokens != 100 {
		t.Errorf("expected 100 tokens, got %d", st.EstimatedTokens)
	}
}

func TestDailyStatsFiltersToToday(t *testing.T) {
	now := time.Now()
	tr := NewTracker("")
	tr.now = func() time.Time { return now.Add(-48 * time.Hour) }
	tr.TrackCall("/x", 10, "real", false)
	tr.now = func() time.Time { return now }
	tr.TrackCall("/x", 20, "real", false)

	d := tr.DailyStats()
	if d.TotalCalls != 1 || d.EstimatedTokens != 20 {
		t.Errorf("expected only today's call, got %+v", d)
	}
	if d.Date != now.Local().Format(time.DateOnly) {
		t.Errorf("unexpected date %s", d.Date)
	}
	if s := tr.SessionStats(); s.TotalCalls != 2 {
		t.Errorf("session stats should include both calls, got %d", s.TotalCalls)
	}
}

func TestCheckLimits(t *testing.T) {
	tr := NewTracker("")
	for i := 0; i < 3; i++ {
		tr.TrackCall("/x", 50, "hybrid", false)
	}
	tr.TrackCall("/x", 0, "hybrid", true)

	l := tr.CheckLimits(2, 100)
	if !l.Exceeded {
		t.Fatal("expected limits exceeded")
	}
	if len(l.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", l.Warnings)
	}
	if l.Warnings[0] != "Daily token limit exceeded: 150/100" {
		t.Errorf("unexpected token warning %q", l.Warnings[0])
	}
	if l.Warnings[1] != "Daily API call limit exceeded: 3/2" {
		t.Errorf("unexpected call warning %q", l.Warnings[1])
	}

	if l := tr.CheckLimits(10, 1000); l.Exceeded || len(l.Warnings) != 0 {
		t.Errorf("expected no breach, got %+v", l)
	}
}

func TestRecordCap(t *testing.T) {
	tr := NewTracker("")
	for i := 0; i < maxRecords+5; i++ {
		tr.TrackCall("/x", 1, "simulation", false)
	}
	if st := tr.SessionStats(); st.TotalCalls != maxRecords {
		t.Errorf("expected cap %d, got %d", maxRecords, st.TotalCalls)
	}
}

func TestSnapshotPersistAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats", "usage.json")
	tr := NewTracker(path)
	for i := 0; i < 60; i++ {
		tr.TrackCall("/api/missions/stream", 4, "hybrid", i%2 == 0)
	}
	tr.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	if len(snap.RecentCalls) != snapshotRecords {
		t.Errorf("expected %d recent calls, got %d", snapshotRecords, len(snap.RecentCalls))
	}
	if snap.SessionStats.TotalCalls != 60 {
		t.Errorf("expected 60 total calls in snapshot, got %d", snap.SessionStats.TotalCalls)
	}

	restored := NewTracker(path)
	if err := restored.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if st := restored.SessionStats(); st.TotalCalls != snapshotRecords {
		t.Errorf("expected %d restored calls, got %d", snapshotRecords, st.TotalCalls)
	}
}

func TestConcurrentSavesKeepLatestSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	tr := NewTracker(path)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.TrackCall("/api/missions/stream", 4, "simulation", false)
		}()
	}
	wg.Wait()
	tr.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	if snap.SessionStats.TotalCalls != 40 {
		t.Errorf("expected the last snapshot to hold all 40 calls, got %d", snap.SessionStats.TotalCalls)
	}
}

func TestLoadMissingFile(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "missing.json"))
	if err := tr.Load(); err != nil {
		t.Errorf("missing snapshot should not be an error: %v", err)
	}
}

func TestSaveFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// parent of the snapshot path is a regular file, so every write fails
	tr := NewTracker(filepath.Join(blocker, "usage.json"))
	tr.TrackCall("/x", 1, "simulation", false)
	tr.Wait()

	if st := tr.SessionStats(); st.TotalCalls != 1 {
		t.Errorf("call should still be recorded, got %d", st.TotalCalls)
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker("")
	tr.TrackCall("/x", 1, "simulation", false)
	tr.Clear()
	if st := tr.SessionStats(); st.TotalCalls != 0 {
		t.Errorf("expected cleared stats, got %d", st.TotalCalls)
	}
	if len(tr.Recent(10)) != 0 {
		t.Error("expected no recent calls")
	}
}
