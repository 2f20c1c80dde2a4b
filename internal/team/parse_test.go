package team

import "testing"

func TestParseLineJSON(t *testing.T) {
	ev, ok := ParseLine("office", `{"type":"agent_message","data":{"agentId":"leo","message":"hello"}}`)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Type != EventAgentMessage {
		t.Errorf("expected AGENT_MESSAGE, got %s", ev.Type)
	}
	if ev.Data.AgentID != "leo" || ev.Data.Message != "hello" {
		t.Errorf("unexpected data %+v", ev.Data)
	}
	if ev.Data.TeamName != "office" {
		t.Errorf("expected team name filled in, got %q", ev.Data.TeamName)
	}
}

func TestParseLineDropsUnknownJSON(t *testing.T) {
	if _, ok := ParseLine("office", `{"type":"HEARTBEAT","data":{}}`); ok {
		t.Error("expected unknown JSON type to be dropped")
	}
}

func TestParseLinePlainText(t *testing.T) {
	tests := []struct {
		line    string
		typ     EventType
		agentID string
		status  string
		taskID  string
	}{
		{"[LEO] Working on the form", EventAgentMessage, "leo", "", ""},
		{"Task #3: completed", EventTaskUpdated, "", "completed", "3"},
		{"Agent Momo: idle", EventAgentStatus, "momo", "idle", ""},
		{"Team 'office' created", EventTeamCreated, "", "", ""},
		{"compiling...", EventStdout, "", "", ""},
	}
	for _, tt := range tests {
		ev, ok := ParseLine("office", tt.line)
		if !ok {
			t.Errorf("%q: expected event", tt.line)
			continue
		}
		if ev.Type != tt.typ {
			t.Errorf("%q: expected %s, got %s", tt.line, tt.typ, ev.Type)
		}
		if ev.Data.AgentID != tt.agentID || ev.Data.Status != tt.status || ev.Data.TaskID != tt.taskID {
			t.Errorf("%q: unexpected data %+v", tt.line, ev.Data)
		}
		if ev.Raw != tt.line {
			t.Errorf("%q: raw not kept", tt.line)
		}
	}
}

func TestParseLineEmpty(t *testing.T) {
	for _, line := range []string{"", "   ", "\t"} {
		if _, ok := ParseLine("office", line); ok {
			t.Errorf("expected %q to be skipped", line)
		}
	}
}

func TestParseLineMalformedJSONFallsBack(t *testing.T) {
	ev, ok := ParseLine("office", "{not json")
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Type != EventStdout || ev.Data.Message != "{not json" {
		t.Errorf("expected STDOUT passthrough, got %+v", ev)
	}
}
