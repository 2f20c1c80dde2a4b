package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dotagent/office/internal/usage"
)

func TestChunkMessage(t *testing.T) {
	// Short message
	chunks := chunkMessage("hello", 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	// Exact limit
	msg := make([]byte, 4096)
	for i := range msg {
		msg[i] = 'a'
	}
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for exact limit, got %d", len(chunks))
	}

	// Over limit
	msg = make([]byte, 8192)
	for i := range msg {
		msg[i] = 'a'
	}
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}

	// Split at newline
	msg = make([]byte, 5000)
	for i := range msg {
		msg[i] = 'a'
	}
	msg[3000] = '\n'
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks with newline split, got %d", len(chunks))
	}
	if len(chunks[0]) != 3001 { // Up to and including the newline
		t.Errorf("expected first chunk length 3001, got %d", len(chunks[0]))
	}
}

func TestFormatUsage(t *testing.T) {
	session := usage.SessionStats{
		TotalCalls:      4,
		CachedCalls:     1,
		APICalls:        3,
		EstimatedTokens: 1200,
		Modes:           map[string]int{"simulation": 1, "hybrid": 3, "real": 0},
		CacheHitRate:    25,
	}
	daily := usage.DailyStats{Date: "2026-03-01", TotalCalls: 9, APICalls: 7, CachedCalls: 2, EstimatedTokens: 4000}

	got := FormatUsage(session, daily)
	for _, want := range []string{
		"Usage today (2026-03-01)",
		"Calls: 9 (api 7, cached 2)",
		"Cache hit rate: 25.0%",
		"  hybrid: 3\n  real: 0\n  simulation: 1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in report:\n%s", want, got)
		}
	}
}

func TestNotifyWithoutChat(t *testing.T) {
	b := &Bot{}
	if err := b.Notify(context.Background(), "hi"); !errors.Is(err, ErrNoChat) {
		t.Errorf("expected ErrNoChat, got %v", err)
	}
}
