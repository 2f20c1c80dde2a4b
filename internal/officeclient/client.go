package officeclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dotagent/office/internal/event"
	"github.com/google/uuid"
)

const (
	missionPath = "/api/missions/stream"
	chatPath    = "/api/chat"

	DefaultMaxReconnects  = 3
	DefaultReconnectDelay = 2 * time.Second
)

var (
	// ErrConnectionFailed is returned once every reconnect attempt has
	// dropped before a terminal event.
	ErrConnectionFailed = errors.New("connection failed after multiple attempts")
	errStreamDropped    = errors.New("stream ended before a terminal event")
)

// RequestError is a rejected request; the server answered with a JSON
// error instead of a stream.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request rejected (%d): %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL  string
	http     *http.Client
	password string

	MaxReconnects  int
	ReconnectDelay time.Duration
	// OnEvent, if set, sees every event after it is applied.
	OnEvent func(event.Event, *State)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPassword sends Basic auth credentials on every request.
func WithPassword(password string) Option {
	return func(c *Client) { c.password = password }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		MaxReconnects:  DefaultMaxReconnects,
		ReconnectDelay: DefaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run submits a mission and folds its stream into a new State. When the
// stream drops before mission_complete or error, the mission is submitted
// again up to MaxReconnects times, ReconnectDelay apart.
func (c *Client) Run(ctx context.Context, mission, mode string) (*State, error) {
	missionID := uuid.New().String()
	state := NewState(missionID, mission)
	state.SystemLog(fmt.Sprintf("Starting mission in %s mode: %s", mode, mission))

	body := map[string]string{"mission": mission, "mode": mode, "missionId": missionID}

	for attempt := 0; ; attempt++ {
		err := c.stream(ctx, missionPath, body, state)
		if err == nil {
			return state, nil
		}
		var reqErr *RequestError
		if errors.As(err, &reqErr) || ctx.Err() != nil {
			state.Err = err.Error()
			return state, err
		}

		if attempt >= c.MaxReconnects {
			state.SystemLog("Connection failed. Please try again.")
			state.Err = "Connection failed after multiple attempts"
			return state, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}

		slog.Warn("mission stream lost", "mission", missionID, "attempt", attempt+1, "error", err)
		state.SystemLog(fmt.Sprintf("Connection lost. Reconnecting... (%d/%d)", attempt+1, c.MaxReconnects))

		select {
		case <-ctx.Done():
			state.Err = ctx.Err().Error()
			return state, ctx.Err()
		case <-time.After(c.ReconnectDelay):
		}
		state.Restart()
	}
}

// Chat sends a message to one agent of the mission and folds the exchange
// into state. It does not reconnect.
func (c *Client) Chat(ctx context.Context, state *State, agentID, message string) error {
	body := map[string]string{
		"missionId": state.Mission.ID,
		"agentId":   agentID,
		"message":   strings.TrimSpace(message),
	}
	if err := c.stream(ctx, chatPath, body, state); err != nil {
		return fmt.Errorf("chat with %s: %w", agentID, err)
	}
	return nil
}

// stream posts body and applies frames until the connection closes. It
// returns errStreamDropped if no terminal event arrived.
func (c *Client) stream(ctx context.Context, path string, body any, state *State) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.password != "" {
		req.SetBasicAuth("office", c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readRequestError(resp)
	}

	terminal := false
	readErr := readFrames(resp.Body, func(data []byte) {
		var ev event.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("bad stream frame", "error", err)
			state.SystemLog("Failed to parse server event")
			return
		}
		state.Apply(ev)
		terminal = terminal || ev.Terminal()
		if c.OnEvent != nil {
			c.OnEvent(ev, state)
		}
	})

	if terminal {
		return nil
	}
	if readErr != nil {
		return fmt.Errorf("%w: %v", errStreamDropped, readErr)
	}
	return errStreamDropped
}

// readFrames calls fn with the data of every complete frame. Multiple data
// lines in one frame are joined with newlines.
func readFrames(r io.Reader, fn func(data []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var buf bytes.Buffer
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if buf.Len() > 0 {
				fn(buf.Bytes())
				buf.Reset()
			}
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(strings.TrimPrefix(data, " "))
	}
	// an unterminated trailing frame is incomplete and dropped
	return sc.Err()
}

func readRequestError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &RequestError{StatusCode: resp.StatusCode, Message: body.Error}
}
