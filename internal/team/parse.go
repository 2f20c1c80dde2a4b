package team

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

type EventType string

const (
	EventTeamCreated  EventType = "TEAM_CREATED"
	EventTeamError    EventType = "TEAM_ERROR"
	EventAgentMessage EventType = "AGENT_MESSAGE"
	EventAgentStatus  EventType = "AGENT_STATUS"
	EventTaskCreated  EventType = "TASK_CREATED"
	EventTaskUpdated  EventType = "TASK_UPDATED"
	EventStdout       EventType = "STDOUT"
	EventStderr       EventType = "STDERR"
)

var allowed = map[EventType]bool{
	EventTeamCreated:  true,
	EventTeamError:    true,
	EventAgentMessage: true,
	EventAgentStatus:  true,
	EventTaskCreated:  true,
	EventTaskUpdated:  true,
	EventStdout:       true,
	EventStderr:       true,
}

// Data is the union of fields carried by team events.
type Data struct {
	TeamName  string   `json:"teamName,omitempty"`
	Agents    []string `json:"agents,omitempty"`
	AgentID   string   `json:"agentId,omitempty"`
	Message   string   `json:"message,omitempty"`
	Recipient string   `json:"recipient,omitempty"`
	Status    string   `json:"status,omitempty"`
	TaskID    string   `json:"taskId,omitempty"`
	Subject   string   `json:"subject,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
	Raw       string    `json:"raw,omitempty"`
}

var (
	bracketMessageRe = regexp.MustCompile(`^\[(\w+)\]\s+(.+)$`)
	taskUpdateRe     = regexp.MustCompile(`(?i)^Task\s+#(\d+):\s+(\w+)`)
	agentStatusRe    = regexp.MustCompile(`(?i)^Agent\s+(\w+):\s+(\w+)`)
	teamCreatedRe    = regexp.MustCompile(`(?i)^Team\s+'([^']+)'\s+created`)
)

// ParseLine turns one line of monitor output into an event. JSON lines must
// carry an allow-listed type or they are dropped; other lines go through
// the plain-text patterns and end up as STDOUT when nothing matches.
func ParseLine(teamName, line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}
	now := time.Now().UTC()

	if strings.HasPrefix(line, "{") {
		var msg struct {
			Type string `json:"type"`
			Data Data   `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &msg); err == nil {
			typ := EventType(strings.ToUpper(msg.Type))
			if !allowed[typ] {
				return Event{}, false
			}
			if msg.Data.TeamName == "" {
				msg.Data.TeamName = teamName
			}
			return Event{Type: typ, Timestamp: now, Data: msg.Data, Raw: line}, true
		}
	}

	ev := Event{Timestamp: now, Raw: line, Data: Data{TeamName: teamName}}
	switch {
	case bracketMessageRe.MatchString(line):
		m := bracketMessageRe.FindStringSubmatch(line)
		ev.Type = EventAgentMessage
		ev.Data.AgentID = strings.ToLower(m[1])
		ev.Data.Message = m[2]
	case taskUpdateRe.MatchString(line):
		m := taskUpdateRe.FindStringSubmatch(line)
		ev.Type = EventTaskUpdated
		ev.Data.TaskID = m[1]
		ev.Data.Status = strings.ToLower(m[2])
	case agentStatusRe.MatchString(line):
		m := agentStatusRe.FindStringSubmatch(line)
		ev.Type = EventAgentStatus
		ev.Data.AgentID = strings.ToLower(m[1])
		ev.Data.Status = strings.ToLower(m[2])
	case teamCreatedRe.MatchString(line):
		m := teamCreatedRe.FindStringSubmatch(line)
		ev.Type = EventTeamCreated
		ev.Data.TeamName = m[1]
	default:
		ev.Type = EventStdout
		ev.Data.Message = line
	}
	return ev, true
}
