package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dotagent/office/internal/config"
)

func messageJSON(text string) string {
	return fmt.Sprintf(`{
		"id": "msg_test",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-5-20250929",
		"content": [{"type": "text", "text": %q}],
		"stop_reason": "end_turn",
		"stop_sequence": null,
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`, text)
}

func errorJSON(kind, msg string) string {
	return fmt.Sprintf(`{"type":"error","error":{"type":%q,"message":%q}}`, kind, msg)
}

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *sleepRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(config.ModelConfig{
		BaseURL:     srv.URL + "/",
		MaxAttempts: 3,
		RetryDelay:  100 * time.Millisecond,
	})
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	if err := c.Initialize("sk-test"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c, rec
}

func TestInitializeRequiresKey(t *testing.T) {
	c := New(config.ModelConfig{})
	err := c.Initialize("  ")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if c.Ready() {
		t.Error("client should not be ready without a key")
	}
}

func TestSendMessageNotInitialized(t *testing.T) {
	c := New(config.ModelConfig{})
	_, err := c.SendMessage(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("expected actionable message, got %q", err.Error())
	}
}

func TestSendMessageSuccess(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, messageJSON("hello"))
	})

	resp, err := c.SendMessage(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "be brief")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("expected hello, got %q", resp.Content)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	if len(rec.waits) != 0 {
		t.Errorf("expected no retries, got %v", rec.waits)
	}
}

func TestRateLimitRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		n := calls.Add(1)
		if n <= 2 {
			if n == 1 {
				w.Header().Set("Retry-After", "2")
			}
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, errorJSON("rate_limit_error", "slow down"))
			return
		}
		fmt.Fprint(w, messageJSON("finally"))
	})

	resp, err := c.SendMessage(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Content != "finally" {
		t.Errorf("expected finally, got %q", resp.Content)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", calls.Load())
	}
	if len(rec.waits) != 2 {
		t.Fatalf("expected exactly 2 retries, got %v", rec.waits)
	}
	if rec.waits[0] != 2*time.Second {
		t.Errorf("expected retry-after honored (2s), got %v", rec.waits[0])
	}
	if rec.waits[1] != 100*time.Millisecond {
		t.Errorf("expected base delay without retry-after, got %v", rec.waits[1])
	}
}

func TestUnauthorizedNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, errorJSON("authentication_error", "invalid x-api-key"))
	})

	_, err := c.SendMessage(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single request, got %d", calls.Load())
	}
	if len(rec.waits) != 0 {
		t.Errorf("expected no retry delay, got %v", rec.waits)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected APIError with 401, got %v", err)
	}
}

func TestServerErrorLinearBackoff(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, errorJSON("overloaded_error", "busy"))
	})

	_, err := c.SendMessage(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(rec.waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, rec.waits)
	}
	for i := range want {
		if rec.waits[i] != want[i] {
			t.Errorf("wait %d: expected %v, got %v", i, want[i], rec.waits[i])
		}
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("expected attempt count in error, got %q", err.Error())
	}
}

func TestRateLimitExhausted(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, errorJSON("rate_limit_error", "slow down"))
	})

	_, err := c.SendMessage(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err.Error() != "Rate limit exceeded. Please try again later." {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, errorJSON("api_error", "boom"))
	})
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.SendMessage(ctx, []Message{{Role: RoleUser, Content: "hi"}}, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
