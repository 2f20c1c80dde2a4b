package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/config"
	"github.com/dotagent/office/internal/event"
	"github.com/dotagent/office/internal/extract"
	"github.com/dotagent/office/internal/team"
	"github.com/dotagent/office/internal/usage"
	"golang.org/x/sync/errgroup"
)

// errTeam marks a failure reported by the team process itself.
var errTeam = errors.New("team error")

// TeamName is the team a mission's live run works in.
func TeamName(missionID string) string {
	if len(missionID) > 8 {
		missionID = missionID[:8]
	}
	return "team-" + missionID
}

type roleTask struct {
	agent agent.ID
	task  team.Task
}

func roleTasks(mission string) []roleTask {
	return []roleTask{
		{agent.Leo, team.Task{
			Subject:     "Analyze technical requirements",
			Description: "Review the mission and identify technical requirements:\n" + mission,
			ActiveForm:  "Analyzing requirements",
		}},
		{agent.Momo, team.Task{
			Subject:     "Create implementation plan",
			Description: "Break down the mission into actionable steps and create a roadmap",
			ActiveForm:  "Planning implementation",
		}},
		{agent.Alex, team.Task{
			Subject:     "Validate technical approach",
			Description: "Review the plan and ensure it meets best practices and requirements",
			ActiveForm:  "Validating approach",
		}},
	}
}

func (e *Engine) runReal(ctx context.Context, em *emitter, req Request) error {
	fail := func(err error) error {
		return em.send(event.Error{Error: "[REAL MODE] Error: " + err.Error(), MissionID: req.MissionID})
	}

	if strings.TrimSpace(e.cfg.ModelAPIKey) == "" {
		return fail(errors.New("ANTHROPIC_API_KEY is not set. Set the credential in the environment and restart the server to use real mode."))
	}
	if e.deps.Team == nil {
		return fail(errors.New("agent team runner is not configured"))
	}

	if err := em.log(event.LogSystem, "[REAL MODE] Initializing agent team..."); err != nil {
		return err
	}

	name := TeamName(req.MissionID)
	members := make([]string, len(agent.Team))
	for i, id := range agent.Team {
		members[i] = string(id)
	}

	// teardown runs whatever happens after this point
	defer func() {
		if err := e.deps.Team.ShutdownTeam(name); err != nil && !errors.Is(err, team.ErrTeamNotFound) {
			slog.Warn("team teardown failed", "team", name, "error", err)
		}
	}()

	if err := e.deps.Team.CreateTeam(ctx, name, members, len(members)); err != nil {
		return fail(fmt.Errorf("Failed to create team: %w", err))
	}
	if err := em.log(event.LogSystem, "[REAL MODE] Team created successfully"); err != nil {
		return err
	}
	e.track(ctx, MissionEndpoint, usage.EstimateTokens(req.Mission), config.ModeReal, false)

	events, err := e.deps.Team.MonitorTeam(name)
	if err != nil {
		return fail(err)
	}
	if err := em.log(event.LogSystem, "[REAL MODE] Monitoring team activity..."); err != nil {
		return err
	}

	crew := agent.NewCrew()
	g, gctx := errgroup.WithContext(ctx)
	fctx, stopForward := context.WithCancel(gctx)
	defer stopForward()

	g.Go(func() error {
		return e.forward(fctx, em, crew, req.MissionID, events)
	})
	g.Go(func() error {
		if err := e.assignTasks(gctx, em, crew, name, req.Mission); err != nil {
			return err
		}
		if !e.awaitTeam(gctx, em, name) {
			// the team is still running; stop listening and wrap up
			stopForward()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrSinkClosed) || ctx.Err() != nil {
			return err
		}
		return fail(err)
	}

	return em.send(event.MissionComplete{
		MissionID: req.MissionID,
		Success:   true,
		Message:   "[REAL MODE] Mission completed successfully",
	})
}

// assignTasks hands each role its task, spaced out so the team can pick
// them up in order.
func (e *Engine) assignTasks(ctx context.Context, em *emitter, crew *agent.Crew, name, mission string) error {
	for i, rt := range roleTasks(mission) {
		if i > 0 {
			if err := e.sleep(ctx, e.cfg.TaskSpacing); err != nil {
				return err
			}
		}
		if err := transition(em, crew, rt.agent, agent.CmdBeginWork, ""); err != nil {
			return err
		}
		if _, err := e.deps.Team.CreateTask(ctx, name, rt.task); err != nil {
			return fmt.Errorf("create task %q: %w", rt.task.Subject, err)
		}
	}
	return nil
}

// awaitTeam polls until the team stops or the completion timeout passes.
// It reports whether the team stopped on its own.
func (e *Engine) awaitTeam(ctx context.Context, em *emitter, name string) bool {
	deadline := time.Now().Add(e.cfg.CompletionTimeout)
	for {
		st, ok := e.deps.Team.Status(name)
		if !ok || st.Status == team.StatusStopped || st.Status == team.StatusError {
			return true
		}
		if time.Now().After(deadline) {
			if err := em.log(event.LogSystem, "[REAL MODE] Timeout reached, completing mission"); err != nil {
				slog.Debug("timeout notice not delivered", "error", err)
			}
			return false
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return false
		}
	}
}

// forward relays team events until the channel closes or ctx ends.
func (e *Engine) forward(ctx context.Context, em *emitter, crew *agent.Crew, missionID string, events <-chan team.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == team.EventTeamError {
				msg := ev.Data.Error
				if msg == "" {
					msg = "Unknown team error"
				}
				return fmt.Errorf("%w: %s", errTeam, msg)
			}
			if err := em.sendAll(mapTeamEvent(crew, ev, missionID)); err != nil {
				return err
			}
		}
	}
}

// mapTeamEvent translates one adapter event into stream payloads.
// TEAM_ERROR is handled by the caller since it ends the run.
func mapTeamEvent(crew *agent.Crew, ev team.Event, missionID string) []event.Payload {
	d := ev.Data
	switch ev.Type {
	case team.EventAgentMessage:
		id, ok := agent.ParseID(d.AgentID)
		if !ok {
			return []event.Payload{event.TeamLog{Type: event.LogAgent, Content: fmt.Sprintf("[%s] %s", d.AgentID, d.Message)}}
		}
		out := []event.Payload{event.AgentMessage{AgentID: id, Message: d.Message}}
		return append(out, extract.All(d.Message, id, missionID)...)

	case team.EventAgentStatus:
		id, ok := agent.ParseID(d.AgentID)
		if !ok {
			return nil
		}
		return statusPayloads(crew, id, d.Status)

	case team.EventTaskCreated:
		return []event.Payload{event.TeamLog{Type: event.LogSystem, Content: "[TASK CREATED] " + d.Subject}}

	case team.EventTaskUpdated:
		id, _ := agent.ParseID(d.AgentID)
		status, progress := taskProgress(d.Status)
		name := d.Subject
		if name == "" {
			name = "Task " + d.TaskID
		}
		return []event.Payload{
			event.TeamLog{Type: event.LogSystem, Content: fmt.Sprintf("[TASK UPDATE] Task %s: %s", d.TaskID, d.Status)},
			event.TaskProgress{TaskID: d.TaskID, TaskName: name, AgentID: id, Progress: progress, Status: status},
		}

	case team.EventTeamCreated:
		return []event.Payload{event.TeamLog{Type: event.LogSystem, Content: fmt.Sprintf("[TEAM] %s created", d.TeamName)}}

	case team.EventStdout, team.EventStderr:
		text := d.Message
		if text == "" {
			text = d.Error
		}
		if text == "" {
			text = ev.Raw
		}
		return []event.Payload{event.TeamLog{Type: event.LogSystem, Content: fmt.Sprintf("[%s] %s", ev.Type, text)}}
	}
	return nil
}

// statusPayloads moves the agent's machine to the reported status. An
// agent reported as talking is walked to the meeting zone first.
func statusPayloads(crew *agent.Crew, id agent.ID, status string) []event.Payload {
	cmd, zone := agent.CommandForStatus(status)
	var out []event.Payload

	if cmd == agent.CmdStartTalking {
		if st, ok := crew.State(id); ok && st.Zone != agent.ZoneMeeting {
			moved, err := crew.Do(id, agent.CmdArriveAt, agent.ZoneMeeting)
			if err != nil {
				slog.Debug("ignoring team status", "agent", id, "status", status, "error", err)
				return nil
			}
			out = append(out, event.StatusOf(moved))
		}
	}

	st, err := crew.Do(id, cmd, zone)
	if err != nil {
		slog.Debug("ignoring team status", "agent", id, "status", status, "error", err)
		return out
	}
	return append(out, event.StatusOf(st))
}

func taskProgress(status string) (event.TaskStatus, int) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "done", "finished":
		return event.TaskCompleted, 100
	case "started", "pending", "created":
		return event.TaskStarted, 0
	case "blocked", "failed", "error":
		return event.TaskBlocked, 0
	}
	return event.TaskInProgress, 50
}
