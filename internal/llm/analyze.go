package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

const analyzeSystemPrompt = `You are coordinating a team of three AI agents:
- LEO (Code Master): implements features and writes code
- MOMO (Planning Genius): plans the approach and breaks work into tasks
- ALEX (Analyst): reviews feasibility, tests and verifies results

Analyze the mission and reply with JSON only, in exactly this shape:
{
  "analysis": "short summary of the mission and approach",
  "tasks": ["task 1", "task 2"],
  "agents": {
    "leo": "what LEO does first",
    "momo": "what MOMO does first",
    "alex": "what ALEX does first"
  }
}`

// Assignments are the per-agent first actions suggested by the model.
type Assignments struct {
	Leo  string `json:"leo"`
	Momo string `json:"momo"`
	Alex string `json:"alex"`
}

type Analysis struct {
	Analysis string      `json:"analysis"`
	Tasks    []string    `json:"tasks"`
	Agents   Assignments `json:"agents"`
	Usage    Usage       `json:"-"`
	// Fallback is set when the reply could not be parsed.
	Fallback bool `json:"-"`
}

// AnalyzeMission asks the model for a team plan. Transport failures are
// returned; a malformed reply degrades to a generic plan instead.
func (c *Client) AnalyzeMission(ctx context.Context, mission string) (*Analysis, error) {
	resp, err := c.SendMessage(ctx, []Message{{Role: RoleUser, Content: "Mission: " + mission}}, analyzeSystemPrompt)
	if err != nil {
		return nil, err
	}

	a, ok := parseAnalysis(resp.Content)
	if !ok {
		slog.Warn("model reply is not valid analysis JSON, using fallback", "length", len(resp.Content))
		a = fallbackAnalysis(mission, resp.Content)
	}
	a.Usage = resp.Usage
	return a, nil
}

func parseAnalysis(content string) (*Analysis, bool) {
	body := stripFences(content)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var a Analysis
	if err := json.Unmarshal([]byte(body[start:end+1]), &a); err != nil {
		return nil, false
	}
	if a.Analysis == "" {
		a.Analysis = "Mission analysis"
	}
	if a.Tasks == nil {
		a.Tasks = []string{}
	}
	return &a, true
}

func fallbackAnalysis(mission, content string) *Analysis {
	return &Analysis{
		Analysis: content,
		Tasks:    []string{mission},
		Agents: Assignments{
			Leo:  "Implement the solution",
			Momo: "Plan the approach",
			Alex: "Verify the results",
		},
		Fallback: true,
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
