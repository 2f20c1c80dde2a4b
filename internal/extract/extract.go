// Package extract scans agent free text for embedded markup and turns it
// into structured events. Each extractor returns at most one record per
// message: the first deliverable block, the first other-agent mention in
// roster order, and the first user prompt block.
package extract

import (
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/event"
	"github.com/google/uuid"
)

var (
	deliverableRe = regexp.MustCompile(`\[DELIVERABLE:(\w+):([^\]]+)\]([\s\S]*?)\[/DELIVERABLE\]`)
	userPromptRe  = regexp.MustCompile(`\[USER_PROMPT\]([\s\S]*?)\[/USER_PROMPT\]`)
	mentionRes    = buildMentionPatterns()
)

func buildMentionPatterns() map[agent.ID]*regexp.Regexp {
	out := make(map[agent.ID]*regexp.Regexp, len(agent.Team))
	for _, id := range agent.Team {
		p, _ := agent.Lookup(id)
		name := regexp.QuoteMeta(p.Name)
		out[id] = regexp.MustCompile(`(@` + name + `|` + name + `[,:]|Hey ` + name + `|` + name + ` -)`)
	}
	return out
}

// Deliverable extracts a [DELIVERABLE:<type>:<title>]...[/DELIVERABLE] block.
func Deliverable(message string, agentID agent.ID, missionID string) (event.Deliverable, bool) {
	m := deliverableRe.FindStringSubmatch(message)
	if m == nil {
		return event.Deliverable{}, false
	}

	typ := event.DeliverableType(m[1])
	switch typ {
	case event.DeliverableCode, event.DeliverableDocument, event.DeliverableAnalysis, event.DeliverablePlan:
	default:
		slog.Warn("ignoring deliverable with unknown type", "type", m[1], "agent", agentID)
		return event.Deliverable{}, false
	}

	title := strings.TrimSpace(m[2])
	content := strings.TrimSpace(m[3])

	d := event.Deliverable{
		DeliverableID: uuid.New().String(),
		MissionID:     missionID,
		AgentID:       agentID,
		Type:          typ,
		Title:         title,
		Content:       content,
	}
	if typ == event.DeliverableCode {
		d.Metadata.Language = DetectLanguage(title, content)
		d.Metadata.Format = "source"
	} else {
		d.Metadata.Format = "markdown"
	}
	return d, true
}

// DetectLanguage guesses a code language from a file-like title or, failing
// that, from keywords in the content.
func DetectLanguage(title, content string) string {
	switch strings.ToLower(path.Ext(strings.TrimSpace(title))) {
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".py":
		return "python"
	}

	switch {
	case containsAny(content, "interface ", ": string", ": number", "import type", "React.FC", "<Props>"):
		return "typescript"
	case containsAny(content, "def ", "import numpy", "print(", "self.", "elif "):
		return "python"
	case containsAny(content, "function ", "const ", "let ", "=>", "require(", "export "):
		return "javascript"
	}
	return "text"
}

// Collaboration detects a message addressed to another team member.
func Collaboration(message string, from agent.ID) (event.Collaboration, bool) {
	for _, id := range agent.Team {
		if id == from {
			continue
		}
		if !mentionRes[id].MatchString(message) {
			continue
		}
		return event.Collaboration{
			FromAgentID:       from,
			ToAgentID:         id,
			Message:           strings.TrimSpace(message),
			CollaborationType: classify(message),
			Timestamp:         time.Now().UTC(),
		}, true
	}
	return event.Collaboration{}, false
}

func classify(message string) event.CollaborationType {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "?"):
		return event.CollabQuestion
	case containsAny(lower, "approve", "agree"):
		return event.CollabApproval
	case containsAny(lower, "propose", "suggest"):
		return event.CollabProposal
	case containsAny(lower, "handoff", "your turn"):
		return event.CollabHandoff
	}
	return event.CollabAnswer
}

// UserPrompt extracts a [USER_PROMPT]...[/USER_PROMPT] request. Text around
// the block is kept as context.
func UserPrompt(message string, agentID agent.ID) (event.UserPrompt, bool) {
	loc := userPromptRe.FindStringSubmatchIndex(message)
	if loc == nil {
		return event.UserPrompt{}, false
	}
	question := strings.TrimSpace(message[loc[2]:loc[3]])
	rest := strings.TrimSpace(message[:loc[0]] + " " + message[loc[1]:])

	return event.UserPrompt{
		AgentID:          agentID,
		Question:         question,
		Context:          rest,
		RequiresResponse: true,
	}, true
}

// All runs every extractor over message and returns the payloads found, in
// deliverable, collaboration, user prompt order.
func All(message string, agentID agent.ID, missionID string) []event.Payload {
	var out []event.Payload
	if d, ok := Deliverable(message, agentID, missionID); ok {
		out = append(out, d)
	}
	if c, ok := Collaboration(message, agentID); ok {
		out = append(out, c)
	}
	if p, ok := UserPrompt(message, agentID); ok {
		out = append(out, p)
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
