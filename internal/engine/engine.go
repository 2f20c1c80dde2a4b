// Package engine runs missions. A run picks one of three strategies
// (scripted simulation, cache-backed hybrid, live agent team) and pushes
// every event it produces, in order, to a caller-supplied sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/cache"
	"github.com/dotagent/office/internal/config"
	"github.com/dotagent/office/internal/event"
	"github.com/dotagent/office/internal/llm"
	"github.com/dotagent/office/internal/store"
	"github.com/dotagent/office/internal/team"
	"github.com/dotagent/office/internal/usage"
	"github.com/google/uuid"
)

var (
	// ErrSinkClosed is returned once the consumer has gone away.
	ErrSinkClosed  = errors.New("event sink closed")
	ErrInvalidMode = errors.New("invalid mode")
)

// MissionEndpoint is the endpoint name recorded for mission runs.
const MissionEndpoint = "/api/missions/stream"

// Sink receives events one at a time. A returned error stops the run.
type Sink func(event.Event) error

type Analyzer interface {
	Ready() bool
	AnalyzeMission(ctx context.Context, mission string) (*llm.Analysis, error)
	SendMessage(ctx context.Context, messages []llm.Message, systemPrompt string) (*llm.Response, error)
}

type TeamRunner interface {
	CreateTeam(ctx context.Context, name string, agents []string, maxAgents int) error
	MonitorTeam(name string) (<-chan team.Event, error)
	CreateTask(ctx context.Context, name string, task team.Task) (string, error)
	SendMessage(ctx context.Context, name string, msg team.Message) error
	Status(name string) (team.TeamStatus, bool)
	ShutdownTeam(name string) error
}

type Publisher interface {
	PublishJSON(topic string, v any) error
}

type Alerter interface {
	Notify(ctx context.Context, text string) error
}

type Recorder interface {
	SaveMission(m *store.Mission) error
	UpdateMissionStatus(id, status string) error
	FinishMission(id string, success, cached bool, events int, message string) error
	SaveChatMessage(msg *store.ChatMessage) error
}

// Timing holds the pauses of the scripted sequence.
type Timing struct {
	Start   time.Duration
	Analyze time.Duration
	Move    time.Duration
	Plan    time.Duration
	Review  time.Duration
	Wrap    time.Duration
	Think   time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Start:   500 * time.Millisecond,
		Analyze: 800 * time.Millisecond,
		Move:    400 * time.Millisecond,
		Plan:    1000 * time.Millisecond,
		Review:  800 * time.Millisecond,
		Wrap:    1200 * time.Millisecond,
		Think:   800 * time.Millisecond,
	}
}

type Config struct {
	Timing Timing
	// ReplaySpacing is the timestamp step between replayed cached events.
	ReplaySpacing time.Duration

	CacheEnabled    bool
	MaxCallsPerDay  int
	MaxTokensPerDay int

	// ModelAPIKey must be set for real mode; the team CLI needs it.
	ModelAPIKey       string
	CompletionTimeout time.Duration
	PollInterval      time.Duration
	TaskSpacing       time.Duration
}

// ConfigFrom derives engine settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Timing:            DefaultTiming(),
		ReplaySpacing:     5 * time.Millisecond,
		CacheEnabled:      cfg.Cache.Enabled,
		MaxCallsPerDay:    cfg.Usage.MaxCallsPerDay,
		MaxTokensPerDay:   cfg.Usage.MaxTokensPerDay,
		ModelAPIKey:       cfg.Model.APIKey,
		CompletionTimeout: cfg.Team.CompletionTimeout,
		PollInterval:      cfg.Team.PollInterval,
		TaskSpacing:       cfg.Team.TaskSpacing,
	}
}

// Deps are the collaborators shared by every run. Cache and Tracker are
// required; the rest may be nil.
type Deps struct {
	Cache     *cache.Cache
	Tracker   *usage.Tracker
	Model     Analyzer
	Team      TeamRunner
	Publisher Publisher
	Runs      *agent.Runs
	Alerter   Alerter
	Recorder  Recorder
}

type Engine struct {
	cfg  Config
	deps Deps

	sleep func(ctx context.Context, d time.Duration) error

	alertMu   sync.Mutex
	alertedOn string
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.ReplaySpacing <= 0 {
		cfg.ReplaySpacing = 5 * time.Millisecond
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if deps.Runs == nil {
		deps.Runs = agent.NewRuns()
	}
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		sleep: sleepContext,
	}
}

func (e *Engine) Runs() *agent.Runs {
	return e.deps.Runs
}

type Request struct {
	Mission   string
	Mode      string
	MissionID string
}

// Normalize applies defaults and validates the request.
func (r *Request) Normalize() error {
	if strings.TrimSpace(r.Mission) == "" {
		return errors.New("Mission content is required")
	}
	if r.Mode == "" {
		r.Mode = config.ModeSimulation
	}
	if !config.ValidMode(r.Mode) {
		return fmt.Errorf("%w %q. Must be simulation, hybrid, or real", ErrInvalidMode, r.Mode)
	}
	if r.MissionID == "" {
		r.MissionID = uuid.New().String()
	}
	return nil
}

// Execute runs one mission to completion. Unless the sink goes away, the
// last event delivered is either mission_complete or error. The returned
// error is non-nil only for an invalid request or ErrSinkClosed.
func (e *Engine) Execute(ctx context.Context, req Request, sink Sink) error {
	if err := req.Normalize(); err != nil {
		return err
	}

	log := slog.With("mission", req.MissionID, "mode", req.Mode)
	log.Info("mission started")
	started := time.Now()

	e.deps.Runs.Start(req.MissionID, req.Mission, req.Mode)
	defer e.deps.Runs.Finish(req.MissionID)
	e.record(func(r Recorder) error {
		return r.SaveMission(&store.Mission{ID: req.MissionID, Content: req.Mission, Mode: req.Mode})
	})

	em := newEmitter(req.MissionID, sink, e.deps.Publisher, e.deps.Runs)
	em.onProcessing = func() {
		e.record(func(r Recorder) error {
			return r.UpdateMissionStatus(req.MissionID, store.MissionProcessing)
		})
	}

	var err error
	switch req.Mode {
	case config.ModeSimulation:
		err = e.runSimulation(ctx, em, req)
	case config.ModeHybrid:
		err = e.runHybrid(ctx, em, req)
	case config.ModeReal:
		err = e.runReal(ctx, em, req)
	}

	if err != nil && ctx.Err() != nil {
		// a cancelled request means the consumer left
		err = fmt.Errorf("%w: %v", ErrSinkClosed, ctx.Err())
	}
	if err != nil && !errors.Is(err, ErrSinkClosed) && !em.finished() {
		// last resort so the stream never ends without a terminal event
		err = em.send(event.Error{Error: err.Error(), MissionID: req.MissionID})
	}

	outcome := em.outcome()
	e.record(func(r Recorder) error {
		return r.FinishMission(req.MissionID, outcome.success, outcome.cached, outcome.events, outcome.message)
	})

	if errors.Is(err, ErrSinkClosed) {
		log.Info("mission stream closed by consumer", "events", outcome.events, "elapsed", time.Since(started))
		return err
	}
	log.Info("mission finished", "success", outcome.success, "events", outcome.events, "elapsed", time.Since(started))
	return nil
}

func (e *Engine) record(fn func(Recorder) error) {
	if e.deps.Recorder == nil {
		return
	}
	if err := fn(e.deps.Recorder); err != nil {
		slog.Warn("mission record failed", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
