// Package officeclient consumes mission and chat streams and folds them into
// a view of the office: agents, mission progress, logs and artifacts.
package officeclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/event"
)

type MissionStatus string

const (
	MissionPending    MissionStatus = "pending"
	MissionProcessing MissionStatus = "processing"
	MissionCompleted  MissionStatus = "completed"
)

type CacheStatus string

const (
	CacheUnknown CacheStatus = ""
	CacheHit     CacheStatus = "hit"
	CacheMiss    CacheStatus = "miss"
)

type Mission struct {
	ID      string        `json:"id"`
	Content string        `json:"content"`
	Status  MissionStatus `json:"status"`
	// AssignedAgents grows every time an agent starts working, so an agent
	// that works twice is listed twice.
	AssignedAgents []agent.ID `json:"assignedAgents"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Success        bool       `json:"success"`
	Message        string     `json:"message,omitempty"`
	Results        any        `json:"results,omitempty"`
}

type AgentView struct {
	agent.Profile
	Status   agent.Status   `json:"status"`
	Zone     agent.Zone     `json:"zone"`
	Position agent.Position `json:"position"`
}

type LogEntry struct {
	Type      event.LogType `json:"type"`
	Content   string        `json:"content"`
	AgentID   agent.ID      `json:"agentId,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// State is the folded view of one mission. It is not safe for concurrent
// use; Client applies events from a single goroutine.
type State struct {
	Agents         map[agent.ID]*AgentView `json:"agents"`
	Mission        Mission                 `json:"mission"`
	Logs           []LogEntry              `json:"logs"`
	Deliverables   []event.Deliverable     `json:"deliverables"`
	Collaborations []event.Collaboration   `json:"collaborations"`
	Tasks          []event.TaskProgress    `json:"tasks"`
	Prompts        []event.UserPrompt      `json:"prompts"`
	Chat           []event.ChatMessage     `json:"chat"`
	Cache          CacheStatus             `json:"cache"`
	Err            string                  `json:"error,omitempty"`
}

func NewState(missionID, content string) *State {
	s := &State{
		Agents: make(map[agent.ID]*AgentView),
		Mission: Mission{
			ID:             missionID,
			Content:        content,
			Status:         MissionPending,
			AssignedAgents: []agent.ID{},
			CreatedAt:      time.Now().UTC(),
		},
	}
	for _, p := range agent.Roster() {
		s.Agents[p.ID] = &AgentView{Profile: p, Status: agent.StatusIdle, Zone: p.HomeZone}
	}
	return s
}

// Restart clears everything the previous attempt folded in, keeping only
// the log, so a resubmitted mission starts from a clean office.
func (s *State) Restart() {
	fresh := NewState(s.Mission.ID, s.Mission.Content)
	fresh.Logs = s.Logs
	*s = *fresh
}

// Done reports whether the mission stream has delivered its terminal event.
func (s *State) Done() bool {
	return s.Mission.Status == MissionCompleted || s.Err != ""
}

// Apply folds one event into the state.
func (s *State) Apply(ev event.Event) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	switch p := ev.Data.(type) {
	case event.AgentStatus:
		s.applyStatus(p)

	case event.AgentMessage:
		if p.AgentID != "" && p.Message != "" {
			s.addLog(event.LogAgent, p.Message, p.AgentID, ts)
		}

	case event.TeamLog:
		s.addLog(p.Type, p.Content, p.AgentID, ts)
		if strings.Contains(p.Content, "[HYBRID MODE]") {
			switch {
			case strings.Contains(p.Content, "Cache hit"):
				s.Cache = CacheHit
			case strings.Contains(p.Content, "Cache miss"):
				s.Cache = CacheMiss
			}
		}

	case event.MissionComplete:
		s.complete(p, ts)

	case event.Error:
		s.Err = p.Error
		if s.Err == "" {
			s.Err = "Unknown error occurred"
		}
		s.addLog(event.LogSystem, "Error: "+s.Err, "", ts)

	case event.Collaboration:
		s.Collaborations = append(s.Collaborations, p)
		s.addLog(event.LogCollab, fmt.Sprintf("%s → %s: %s", upper(p.FromAgentID), upper(p.ToAgentID), p.Message), "", ts)

	case event.Deliverable:
		s.Deliverables = append(s.Deliverables, p)
		s.addLog(event.LogSystem, fmt.Sprintf("%s created %s: %s", upper(p.AgentID), p.Type, p.Title), "", ts)

	case event.TaskProgress:
		s.upsertTask(p)

	case event.UserPrompt:
		s.Prompts = append(s.Prompts, p)
		s.addLog(event.LogSystem, fmt.Sprintf("%s needs input: %s", upper(p.AgentID), p.Question), "", ts)

	case event.ChatMessage:
		s.Chat = append(s.Chat, p)
	}
}

// AssignAgent appends id to the mission's assigned agents.
func (s *State) AssignAgent(id agent.ID) {
	s.Mission.AssignedAgents = append(s.Mission.AssignedAgents, id)
}

// SystemLog adds a client-side note to the log.
func (s *State) SystemLog(content string) {
	s.addLog(event.LogSystem, content, "", time.Now().UTC())
}

func (s *State) applyStatus(p event.AgentStatus) {
	v, ok := s.Agents[p.AgentID]
	if !ok {
		return
	}
	v.Status = p.Status
	if p.Zone != "" {
		v.Zone = p.Zone
	}
	if p.X != 0 || p.Y != 0 {
		v.Position = agent.Position{X: p.X, Y: p.Y}
	}

	if p.Status == agent.StatusWorking {
		if s.Mission.Status == MissionPending {
			s.Mission.Status = MissionProcessing
		}
		s.AssignAgent(p.AgentID)
	}
}

func (s *State) complete(p event.MissionComplete, ts time.Time) {
	s.addLog(event.LogComplete, p.Message, "", ts)
	if s.Mission.CompletedAt != nil {
		return
	}
	s.Mission.Status = MissionCompleted
	s.Mission.CompletedAt = &ts
	s.Mission.Success = p.Success
	s.Mission.Message = p.Message
	s.Mission.Results = p.Results
}

func (s *State) upsertTask(p event.TaskProgress) {
	for i := range s.Tasks {
		if s.Tasks[i].TaskID == p.TaskID {
			s.Tasks[i] = p
			return
		}
	}
	s.Tasks = append(s.Tasks, p)
}

func (s *State) addLog(typ event.LogType, content string, id agent.ID, ts time.Time) {
	s.Logs = append(s.Logs, LogEntry{Type: typ, Content: content, AgentID: id, Timestamp: ts})
}

func upper(id agent.ID) string {
	return strings.ToUpper(string(id))
}
