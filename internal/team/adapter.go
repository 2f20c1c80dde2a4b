// Package team drives the external agent-team CLI: it runs the team's
// sub-commands and turns the monitor process output into a stream of
// typed events.
package team

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dotagent/office/internal/config"
)

var (
	ErrTeamExists   = errors.New("team already exists")
	ErrTeamNotFound = errors.New("team not found")
)

type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

const (
	eventBuffer  = 256
	historyLimit = 500
)

type TeamStatus struct {
	TeamName  string    `json:"teamName"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	Events    []Event   `json:"events"`
}

type Task struct {
	Subject     string
	Description string
	ActiveForm  string
}

type Message struct {
	Recipient string
	Text      string
	Broadcast bool
}

type teamProc struct {
	name      string
	agents    []string
	createdAt time.Time
	status    Status
	history   []Event

	events chan Event
	stop   chan struct{}
	// closed once the monitor process has exited and its output is drained
	done       chan struct{}
	cmd        *exec.Cmd
	monitoring bool
	stopOnce   sync.Once

	// guards events against sends after close
	sendMu sync.RWMutex
	closed bool
}

type Adapter struct {
	cfg config.TeamConfig
	env []string

	mu    sync.Mutex
	teams map[string]*teamProc
}

// NewAdapter returns an adapter running cfg.CLIPath. env is appended to the
// server environment for every command.
func NewAdapter(cfg config.TeamConfig, env ...string) *Adapter {
	if cfg.CLIPath == "" {
		cfg.CLIPath = "claude-code"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 10 * 1024 * 1024
	}
	return &Adapter{
		cfg:   cfg,
		env:   env,
		teams: make(map[string]*teamProc),
	}
}

// CreateTeam runs `team create`. A second call for a live name fails with
// ErrTeamExists without touching the CLI.
func (a *Adapter) CreateTeam(ctx context.Context, name string, agents []string, maxAgents int) error {
	a.mu.Lock()
	if _, ok := a.teams[name]; ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTeamExists, name)
	}
	tp := &teamProc{
		name:      name,
		agents:    agents,
		createdAt: time.Now().UTC(),
		status:    StatusRunning,
		events:    make(chan Event, eventBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	// reserve the name while the CLI runs
	a.teams[name] = tp
	a.mu.Unlock()

	args := []string{"team", "create", name}
	if len(agents) > 0 {
		args = append(args, "--agents", strings.Join(agents, ","))
	}
	if maxAgents > 0 {
		args = append(args, "--max-agents", strconv.Itoa(maxAgents))
	}

	if _, err := a.run(ctx, args); err != nil {
		a.mu.Lock()
		delete(a.teams, name)
		a.mu.Unlock()
		return fmt.Errorf("create team %s: %w", name, err)
	}

	slog.Info("team created", "team", name, "agents", agents)
	a.push(tp, Event{
		Type:      EventTeamCreated,
		Timestamp: time.Now().UTC(),
		Data:      Data{TeamName: name, Agents: agents},
	})
	return nil
}

// CreateTask runs `team <name> task create` and returns the task id the CLI
// printed, or a generated one.
func (a *Adapter) CreateTask(ctx context.Context, name string, task Task) (string, error) {
	tp, err := a.get(name)
	if err != nil {
		return "", err
	}

	args := []string{"team", name, "task", "create", "--subject", task.Subject, "--description", task.Description}
	if task.ActiveForm != "" {
		args = append(args, "--active-form", task.ActiveForm)
	}
	out, err := a.run(ctx, args)
	if err != nil {
		return "", fmt.Errorf("create task on %s: %w", name, err)
	}

	taskID := strings.TrimSpace(out)
	if taskID == "" || strings.ContainsAny(taskID, " \n") {
		taskID = fmt.Sprintf("task-%d", time.Now().UnixMilli())
	}

	a.push(tp, Event{
		Type:      EventTaskCreated,
		Timestamp: time.Now().UTC(),
		Data:      Data{TeamName: name, Subject: task.Subject, TaskID: taskID},
	})
	return taskID, nil
}

// SendMessage runs `team <name> message send`.
func (a *Adapter) SendMessage(ctx context.Context, name string, msg Message) error {
	if _, err := a.get(name); err != nil {
		return err
	}
	kind := "message"
	if msg.Broadcast {
		kind = "broadcast"
	}
	args := []string{"team", name, "message", "send", "--recipient", msg.Recipient, "--message", msg.Text, "--type", kind}
	if _, err := a.run(ctx, args); err != nil {
		return fmt.Errorf("send message on %s: %w", name, err)
	}
	return nil
}

// MonitorTeam starts the long-running monitor process and returns the
// team's event channel. The channel is closed after the process exits and
// its output has been drained, or when the team is shut down.
func (a *Adapter) MonitorTeam(name string) (<-chan Event, error) {
	a.mu.Lock()
	tp, ok := a.teams[name]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrTeamNotFound, name)
	}
	if tp.monitoring {
		a.mu.Unlock()
		return tp.events, nil
	}
	tp.monitoring = true

	cmd := exec.Command(a.cfg.CLIPath, "team", name, "monitor", "--format", "json")
	cmd.Dir = a.cfg.WorkDir
	cmd.Env = append(os.Environ(), a.env...)
	tp.cmd = cmd
	a.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		a.setStatus(tp, StatusError)
		return nil, fmt.Errorf("start monitor for %s: %w", name, err)
	}
	slog.Info("team monitor started", "team", name, "pid", cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		a.scan(stdout, func(line string) {
			if ev, ok := ParseLine(name, line); ok {
				a.push(tp, ev)
			}
		})
	}()
	go func() {
		defer readers.Done()
		a.scan(stderr, func(line string) {
			if strings.TrimSpace(line) == "" {
				return
			}
			a.push(tp, Event{
				Type:      EventStderr,
				Timestamp: time.Now().UTC(),
				Data:      Data{TeamName: name, Error: line},
				Raw:       line,
			})
		})
	}()

	go func() {
		readers.Wait()
		err := cmd.Wait()
		if err != nil {
			a.setStatus(tp, StatusError)
			a.push(tp, Event{
				Type:      EventTeamError,
				Timestamp: time.Now().UTC(),
				Data:      Data{TeamName: name, Error: err.Error()},
			})
			slog.Warn("team monitor exited with error", "team", name, "error", err)
		} else {
			a.setStatus(tp, StatusStopped)
			slog.Info("team monitor exited", "team", name)
		}
		close(tp.done)
		tp.stopOnce.Do(func() { close(tp.stop) })
		tp.sendMu.Lock()
		tp.closed = true
		close(tp.events)
		tp.sendMu.Unlock()
	}()

	return tp.events, nil
}

// Status reports a team's state and event history.
func (a *Adapter) Status(name string) (TeamStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tp, ok := a.teams[name]
	if !ok {
		return TeamStatus{}, false
	}
	return TeamStatus{
		TeamName:  tp.name,
		Status:    tp.status,
		CreatedAt: tp.createdAt,
		Events:    append([]Event(nil), tp.history...),
	}, true
}

func (a *Adapter) Teams() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.teams))
	for n := range a.teams {
		names = append(names, n)
	}
	return names
}

// ShutdownTeam sends SIGTERM to the monitor process and SIGKILL if it is
// still alive after the grace period. The team is forgotten either way.
func (a *Adapter) ShutdownTeam(name string) error {
	a.mu.Lock()
	tp, ok := a.teams[name]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTeamNotFound, name)
	}
	delete(a.teams, name)
	cmd := tp.cmd
	a.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		tp.stopOnce.Do(func() { close(tp.stop) })
		slog.Info("team removed", "team", name)
		return nil
	}

	select {
	case <-tp.done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("sigterm failed", "team", name, "error", err)
	}
	select {
	case <-tp.done:
	case <-time.After(a.cfg.ShutdownGrace):
		slog.Warn("team did not stop in time, killing", "team", name, "grace", a.cfg.ShutdownGrace)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill team %s: %w", name, err)
		}
	}
	// unblock any reader stuck delivering to an abandoned channel
	tp.stopOnce.Do(func() { close(tp.stop) })
	slog.Info("team shut down", "team", name)
	return nil
}

func (a *Adapter) ShutdownAll() {
	for _, name := range a.Teams() {
		if err := a.ShutdownTeam(name); err != nil {
			slog.Warn("team shutdown failed", "team", name, "error", err)
		}
	}
}

func (a *Adapter) get(name string) (*teamProc, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tp, ok := a.teams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTeamNotFound, name)
	}
	return tp, nil
}

func (a *Adapter) setStatus(tp *teamProc, s Status) {
	a.mu.Lock()
	tp.status = s
	a.mu.Unlock()
}

// push records ev and hands it to the team's channel, giving up once the
// team is stopped and nobody is reading.
func (a *Adapter) push(tp *teamProc, ev Event) {
	a.mu.Lock()
	tp.history = append(tp.history, ev)
	if len(tp.history) > historyLimit {
		tp.history = tp.history[len(tp.history)-historyLimit:]
	}
	a.mu.Unlock()

	tp.sendMu.RLock()
	defer tp.sendMu.RUnlock()
	if tp.closed {
		return
	}
	select {
	case tp.events <- ev:
	case <-tp.stop:
	}
}

func (a *Adapter) scan(r io.Reader, fn func(line string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), a.cfg.MaxOutputBytes)
	for sc.Scan() {
		fn(sc.Text())
	}
	if err := sc.Err(); err != nil {
		slog.Warn("team output read failed", "error", err)
		// drain so the process is not blocked on a full pipe
		_, _ = io.Copy(io.Discard, r)
	}
}

// run executes one short-lived CLI command and returns its stdout.
func (a *Adapter) run(ctx context.Context, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.cfg.CLIPath, args...)
	cmd.Dir = a.cfg.WorkDir
	cmd.Env = append(os.Environ(), a.env...)

	stdout := &limitedBuffer{max: a.cfg.MaxOutputBytes}
	stderr := &limitedBuffer{max: a.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s %s: %w: %s", a.cfg.CLIPath, strings.Join(args[:min(len(args), 3)], " "), err, msg)
		}
		return "", fmt.Errorf("%s %s: %w", a.cfg.CLIPath, strings.Join(args[:min(len(args), 3)], " "), err)
	}
	return stdout.String(), nil
}

type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
