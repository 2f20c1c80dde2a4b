package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/event"
	"github.com/dotagent/office/internal/team"
)

type fakeTeam struct {
	mu        sync.Mutex
	createErr error
	script    []team.Event
	status    team.Status
	teams     map[string]bool
	tasks     []string
	messages  []team.Message
	shutdowns []string
}

func newFakeTeam(script ...team.Event) *fakeTeam {
	return &fakeTeam{script: script, status: team.StatusStopped, teams: map[string]bool{}}
}

func (f *fakeTeam) CreateTeam(ctx context.Context, name string, agents []string, maxAgents int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.teams[name] {
		return team.ErrTeamExists
	}
	f.teams[name] = true
	return nil
}

func (f *fakeTeam) MonitorTeam(name string) (<-chan team.Event, error) {
	ch := make(chan team.Event, len(f.script))
	for _, ev := range f.script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeTeam) CreateTask(ctx context.Context, name string, task team.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task.Subject)
	return "1", nil
}

func (f *fakeTeam) SendMessage(ctx context.Context, name string, msg team.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeTeam) Status(name string) (team.TeamStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.teams[name] {
		return team.TeamStatus{}, false
	}
	return team.TeamStatus{TeamName: name, Status: f.status}, true
}

func (f *fakeTeam) ShutdownTeam(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns = append(f.shutdowns, name)
	if !f.teams[name] {
		return team.ErrTeamNotFound
	}
	delete(f.teams, name)
	return nil
}

func teamEvent(typ team.EventType, d team.Data) team.Event {
	return team.Event{Type: typ, Data: d}
}

func TestRealModeRequiresCredential(t *testing.T) {
	ft := newFakeTeam()
	e := newTestEngine(t, Deps{Team: ft})
	e.cfg.ModelAPIKey = ""
	r := &recorder{}

	if err := e.Execute(context.Background(), Request{Mission: "x", Mode: "real", MissionID: "m-1"}, r.sink); err != nil {
		t.Fatalf("execute: %v", err)
	}
	evs := r.all()
	if len(evs) != 1 {
		t.Fatalf("expected a single error event, got %v", r.types())
	}
	p, ok := evs[0].Data.(event.Error)
	if !ok || !strings.Contains(p.Error, "ANTHROPIC_API_KEY") || p.MissionID != "m-1" {
		t.Errorf("unexpected error event %+v", evs[0])
	}
}

func TestRealModeCreateFailure(t *testing.T) {
	ft := newFakeTeam()
	ft.createErr = errors.New("cli not found")
	e := newTestEngine(t, Deps{Team: ft})
	r := &recorder{}

	_ = e.Execute(context.Background(), Request{Mission: "x", Mode: "real", MissionID: "abcdefgh-1234"}, r.sink)

	p, ok := r.last().Data.(event.Error)
	if !ok {
		t.Fatalf("expected terminal error, got %s", r.last().Type)
	}
	if !strings.Contains(p.Error, "Failed to create team") || !strings.Contains(p.Error, "cli not found") {
		t.Errorf("unexpected error %q", p.Error)
	}
	if len(ft.shutdowns) != 1 || ft.shutdowns[0] != "team-abcdefgh" {
		t.Errorf("expected teardown attempt, got %v", ft.shutdowns)
	}
	for _, ev := range r.all() {
		if ev.Type == event.TypeMissionComplete {
			t.Error("creation failure must not complete the mission")
		}
	}
}

func TestRealModeForwardsTeamEvents(t *testing.T) {
	ft := newFakeTeam(
		teamEvent(team.EventTeamCreated, team.Data{TeamName: "team-m1"}),
		teamEvent(team.EventAgentMessage, team.Data{AgentID: "leo", Message: "@MOMO, your turn to plan"}),
		teamEvent(team.EventAgentStatus, team.Data{AgentID: "momo", Status: "communicating"}),
		teamEvent(team.EventTaskUpdated, team.Data{TaskID: "2", Status: "completed"}),
		teamEvent(team.EventStderr, team.Data{Error: "warning: slow"}),
	)
	e := newTestEngine(t, Deps{Team: ft})
	r := &recorder{}

	if err := e.Execute(context.Background(), Request{Mission: "Build", Mode: "real", MissionID: "m1"}, r.sink); err != nil {
		t.Fatalf("execute: %v", err)
	}

	done, ok := r.last().Data.(event.MissionComplete)
	if !ok || !done.Success {
		t.Fatalf("expected successful completion last, got %+v", r.last())
	}
	if len(ft.tasks) != 3 {
		t.Errorf("expected one task per role, got %v", ft.tasks)
	}
	if len(ft.shutdowns) != 1 {
		t.Errorf("expected teardown, got %v", ft.shutdowns)
	}

	logs := r.logs()
	for _, want := range []string{"[REAL MODE] Initializing agent team...", "[TEAM] team-m1 created", "[TASK UPDATE] Task 2: completed", "[STDERR] warning: slow"} {
		if !contains(logs, want) {
			t.Errorf("expected log %q in %v", want, logs)
		}
	}

	var sawHandoff, sawMomoTalking, sawProgress bool
	for _, ev := range r.all() {
		switch p := ev.Data.(type) {
		case event.Collaboration:
			sawHandoff = p.FromAgentID == agent.Leo && p.ToAgentID == agent.Momo && p.CollaborationType == event.CollabHandoff
		case event.AgentStatus:
			if p.AgentID == agent.Momo && p.Status == agent.StatusCommunicating {
				sawMomoTalking = p.Zone == agent.ZoneMeeting
			}
		case event.TaskProgress:
			sawProgress = p.TaskID == "2" && p.Status == event.TaskCompleted && p.Progress == 100
		}
	}
	if !sawHandoff {
		t.Error("expected handoff collaboration extracted from team message")
	}
	if !sawMomoTalking {
		t.Error("expected momo talking in the meeting zone")
	}
	if !sawProgress {
		t.Error("expected task progress for task 2")
	}
}

func TestRealModeTeamError(t *testing.T) {
	ft := newFakeTeam(
		teamEvent(team.EventAgentMessage, team.Data{AgentID: "leo", Message: "starting"}),
		teamEvent(team.EventTeamError, team.Data{Error: "exit status 3"}),
	)
	ft.status = team.StatusError
	e := newTestEngine(t, Deps{Team: ft})
	r := &recorder{}

	_ = e.Execute(context.Background(), Request{Mission: "x", Mode: "real", MissionID: "m1"}, r.sink)

	p, ok := r.last().Data.(event.Error)
	if !ok {
		t.Fatalf("expected terminal error, got %s", r.last().Type)
	}
	if !strings.Contains(p.Error, "exit status 3") {
		t.Errorf("unexpected error %q", p.Error)
	}
	for _, ev := range r.all() {
		if ev.Type == event.TypeMissionComplete {
			t.Error("team failure must not complete the mission")
		}
	}
	if len(ft.shutdowns) != 1 {
		t.Errorf("expected teardown after failure, got %v", ft.shutdowns)
	}
}

func TestMapTeamEvent(t *testing.T) {
	crew := agent.NewCrew()

	got := mapTeamEvent(crew, teamEvent(team.EventTaskCreated, team.Data{Subject: "Plan"}), "m1")
	if l := got[0].(event.TeamLog); l.Content != "[TASK CREATED] Plan" {
		t.Errorf("unexpected log %q", l.Content)
	}

	got = mapTeamEvent(crew, teamEvent(team.EventAgentMessage, team.Data{AgentID: "zed", Message: "hi"}), "m1")
	if l, ok := got[0].(event.TeamLog); !ok || l.Type != event.LogAgent || l.Content != "[zed] hi" {
		t.Errorf("unknown agents should become agent logs, got %+v", got)
	}

	got = mapTeamEvent(crew, teamEvent(team.EventAgentStatus, team.Data{AgentID: "leo", Status: "working"}), "m1")
	if s := got[0].(event.AgentStatus); s.Status != agent.StatusWorking || s.Zone != agent.ZoneWork {
		t.Errorf("unexpected status %+v", s)
	}

	// boss cannot rest while managing
	_, _ = crew.Do(agent.Boss, agent.CmdManage, "")
	if got := mapTeamEvent(crew, teamEvent(team.EventAgentStatus, team.Data{AgentID: "boss", Status: "resting"}), "m1"); len(got) != 0 {
		t.Errorf("invalid transitions should be dropped, got %+v", got)
	}

	got = mapTeamEvent(crew, team.Event{Type: team.EventStdout, Raw: "compiling"}, "m1")
	if l := got[0].(event.TeamLog); l.Content != "[STDOUT] compiling" {
		t.Errorf("unexpected stdout log %q", l.Content)
	}
}

func TestTeamName(t *testing.T) {
	if got := TeamName("0123456789"); got != "team-01234567" {
		t.Errorf("unexpected team name %s", got)
	}
	if got := TeamName("abc"); got != "team-abc" {
		t.Errorf("unexpected team name %s", got)
	}
}
