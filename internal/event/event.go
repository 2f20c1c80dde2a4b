// Package event defines the typed, timestamped units a mission execution
// streams to its consumers.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dotagent/office/internal/agent"
)

type Type string

const (
	TypeAgentStatus        Type = "agent_status"
	TypeAgentMessage       Type = "agent_message"
	TypeTeamLog            Type = "team_log"
	TypeMissionComplete    Type = "mission_complete"
	TypeError              Type = "error"
	TypeAgentCollaboration Type = "agent_collaboration"
	TypeTaskProgress       Type = "task_progress"
	TypeMissionDeliverable Type = "mission_deliverable"
	TypeUserPromptRequired Type = "user_prompt_required"
	TypeChatMessage        Type = "chat_message"
	TypeComplete           Type = "complete"
)

type LogType string

const (
	LogSystem   LogType = "SYSTEM"
	LogMission  LogType = "MISSION"
	LogCollab   LogType = "COLLAB"
	LogComplete LogType = "COMPLETE"
	LogAgent    LogType = "AGENT"
)

// Payload is implemented by every event body.
type Payload interface {
	EventType() Type
}

type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Payload   `json:"data"`
}

// New stamps p with the current time.
func New(p Payload) Event {
	return Event{Type: p.EventType(), Timestamp: time.Now().UTC(), Data: p}
}

// At returns a copy of e carrying ts.
func (e Event) At(ts time.Time) Event {
	e.Timestamp = ts.UTC()
	return e
}

// Terminal reports whether e ends a stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case TypeMissionComplete, TypeError, TypeComplete:
		return true
	}
	return false
}

// WithMissionID returns a copy of e whose payload refers to missionID.
// Events without a mission reference are returned unchanged.
func (e Event) WithMissionID(missionID string) Event {
	switch p := e.Data.(type) {
	case MissionComplete:
		p.MissionID = missionID
		e.Data = p
	case Error:
		p.MissionID = missionID
		e.Data = p
	case Deliverable:
		p.MissionID = missionID
		e.Data = p
	case ChatMessage:
		p.MissionID = missionID
		e.Data = p
	}
	return e
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type      Type            `json:"type"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var p Payload
	var err error
	switch raw.Type {
	case TypeAgentStatus:
		p, err = decode[AgentStatus](raw.Data)
	case TypeAgentMessage:
		p, err = decode[AgentMessage](raw.Data)
	case TypeTeamLog:
		p, err = decode[TeamLog](raw.Data)
	case TypeMissionComplete:
		p, err = decode[MissionComplete](raw.Data)
	case TypeError:
		p, err = decode[Error](raw.Data)
	case TypeAgentCollaboration:
		p, err = decode[Collaboration](raw.Data)
	case TypeTaskProgress:
		p, err = decode[TaskProgress](raw.Data)
	case TypeMissionDeliverable:
		p, err = decode[Deliverable](raw.Data)
	case TypeUserPromptRequired:
		p, err = decode[UserPrompt](raw.Data)
	case TypeChatMessage:
		p, err = decode[ChatMessage](raw.Data)
	case TypeComplete:
		p, err = decode[Complete](raw.Data)
	default:
		return fmt.Errorf("unknown event type %q", raw.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", raw.Type, err)
	}

	e.Type = raw.Type
	e.Timestamp = raw.Timestamp
	e.Data = p
	return nil
}

func decode[T Payload](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(data, &v)
	return v, err
}

type AgentStatus struct {
	AgentID     agent.ID     `json:"agentId"`
	Status      agent.Status `json:"status"`
	Zone        agent.Zone   `json:"zone,omitempty"`
	X           int          `json:"x,omitempty"`
	Y           int          `json:"y,omitempty"`
	StressLevel int          `json:"stressLevel,omitempty"`
}

func (AgentStatus) EventType() Type { return TypeAgentStatus }

// StatusOf builds an agent_status payload from a state machine snapshot.
func StatusOf(st agent.State) AgentStatus {
	return AgentStatus{
		AgentID: st.ID,
		Status:  st.Status,
		Zone:    st.Zone,
		X:       st.Position.X,
		Y:       st.Position.Y,
	}
}

type AgentMessage struct {
	AgentID agent.ID `json:"agentId"`
	Message string   `json:"message"`
}

func (AgentMessage) EventType() Type { return TypeAgentMessage }

type TeamLog struct {
	Type    LogType  `json:"type"`
	Content string   `json:"content"`
	AgentID agent.ID `json:"agentId,omitempty"`
}

func (TeamLog) EventType() Type { return TypeTeamLog }

type MissionComplete struct {
	MissionID string `json:"missionId"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Results   any    `json:"results,omitempty"`
}

func (MissionComplete) EventType() Type { return TypeMissionComplete }

type Error struct {
	Error     string `json:"error"`
	MissionID string `json:"missionId,omitempty"`
}

func (Error) EventType() Type { return TypeError }

type CollaborationType string

const (
	CollabQuestion CollaborationType = "question"
	CollabAnswer   CollaborationType = "answer"
	CollabProposal CollaborationType = "proposal"
	CollabApproval CollaborationType = "approval"
	CollabHandoff  CollaborationType = "handoff"
)

type Collaboration struct {
	FromAgentID       agent.ID          `json:"fromAgentId"`
	ToAgentID         agent.ID          `json:"toAgentId"`
	Message           string            `json:"message"`
	CollaborationType CollaborationType `json:"collaborationType"`
	Timestamp         time.Time         `json:"timestamp"`
}

func (Collaboration) EventType() Type { return TypeAgentCollaboration }

type TaskStatus string

const (
	TaskStarted    TaskStatus = "started"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

type TaskProgress struct {
	TaskID   string     `json:"taskId"`
	TaskName string     `json:"taskName"`
	AgentID  agent.ID   `json:"agentId"`
	Progress int        `json:"progress"`
	Status   TaskStatus `json:"status"`
	Message  string     `json:"message,omitempty"`
}

func (TaskProgress) EventType() Type { return TypeTaskProgress }

type DeliverableType string

const (
	DeliverableCode     DeliverableType = "code"
	DeliverableDocument DeliverableType = "document"
	DeliverableAnalysis DeliverableType = "analysis"
	DeliverablePlan     DeliverableType = "plan"
)

type DeliverableMetadata struct {
	Language string   `json:"language,omitempty"`
	Format   string   `json:"format,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type Deliverable struct {
	DeliverableID string              `json:"deliverableId"`
	MissionID     string              `json:"missionId"`
	AgentID       agent.ID            `json:"agentId"`
	Type          DeliverableType     `json:"type"`
	Title         string              `json:"title"`
	Content       string              `json:"content"`
	Metadata      DeliverableMetadata `json:"metadata"`
}

func (Deliverable) EventType() Type { return TypeMissionDeliverable }

type UserPrompt struct {
	AgentID          agent.ID `json:"agentId"`
	Question         string   `json:"question"`
	Context          string   `json:"context,omitempty"`
	Options          []string `json:"options,omitempty"`
	RequiresResponse bool     `json:"requiresResponse"`
}

func (UserPrompt) EventType() Type { return TypeUserPromptRequired }

type ChatMessage struct {
	MessageID string    `json:"messageId"`
	MissionID string    `json:"missionId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (ChatMessage) EventType() Type { return TypeChatMessage }

type Complete struct {
	Success bool `json:"success"`
}

func (Complete) EventType() Type { return TypeComplete }
