package agent

import (
	"fmt"
	"strings"
)

// Persona is the voice an agent answers chat messages with.
type Persona struct {
	ID        ID
	Expertise []string
	Focus     string
	// replies are checked in order; the first rule whose keywords appear wins
	replies  []reply
	fallback string
}

type reply struct {
	keywords []string
	text     string
}

var personas = map[ID]Persona{
	Leo: {
		ID:        Leo,
		Expertise: []string{"TypeScript and JavaScript", "Go and Node.js backends", "system architecture", "API design"},
		Focus:     "direct, practical and implementation-focused; prefer code over discussion",
		replies: []reply{
			{[]string{"how", "implement"}, "I'll implement this with clean, typed components. Need to break it down and keep the interfaces small. Should take about 30 minutes."},
			{[]string{"error", "bug"}, "Let me check the stack trace. Usually it's a type mismatch or a missing dependency. I'll debug and fix it."},
			{[]string{"explain", "why"}, "The code works this way because we're following the established patterns. It's cleaner and more maintainable than the alternatives."},
		},
		fallback: "Got it. I'll handle the implementation. Will coordinate with MOMO if I need clarification on requirements.",
	},
	Momo: {
		ID:        Momo,
		Expertise: []string{"product strategy", "project planning", "requirements analysis", "task breakdown"},
		Focus:     "structured and organized; break work into phases and prioritize clearly",
		replies: []reply{
			{[]string{"plan", "roadmap"}, "Let me create a structured plan:\n\n1. Define requirements\n2. Break into phases\n3. Identify dependencies\n4. Create timeline\n\nI'll have a detailed roadmap ready shortly."},
			{[]string{"priority", "order"}, "Based on dependencies and impact, here's my suggested priority:\n\n1. Critical infrastructure setup\n2. Core features\n3. Nice-to-have enhancements\n\nWe should tackle them in this sequence."},
			{[]string{"risk", "concern"}, "I've identified potential risks:\n\n- Timeline constraints\n- Technical complexity\n- Resource availability\n\nI recommend we create a mitigation plan for each."},
		},
		fallback: "I'll analyze this from a planning perspective and create a detailed breakdown. Let me coordinate with LEO and ALEX to ensure alignment.",
	},
	Alex: {
		ID:        Alex,
		Expertise: []string{"testing strategies", "code review", "risk assessment", "quality assurance"},
		Focus:     "analytical and evidence-based; highlight risks and verify claims",
		replies: []reply{
			{[]string{"test", "quality"}, "From a testing perspective, we need:\n\n- Unit tests for core logic\n- Integration tests for the API\n- End-to-end tests for user flows\n\nI'll create a comprehensive test strategy."},
			{[]string{"review", "analyze"}, "I've analyzed the approach. Here's my assessment:\n\n+ Strengths: clean architecture, good type safety\n! Concerns: edge case handling, performance\n\nRecommendations to follow."},
			{[]string{"performance", "optimize"}, "Performance analysis shows potential bottlenecks:\n\n1. Unnecessary re-renders\n2. Large bundle size\n3. API call frequency\n\nI suggest profiling before optimizing."},
		},
		fallback: "I'll validate this from a quality assurance perspective. Need to ensure it meets best practices and doesn't introduce risks.",
	},
}

func PersonaFor(id ID) (Persona, bool) {
	p, ok := personas[id]
	return p, ok
}

// Reply picks a canned answer for message by keyword.
func (p Persona) Reply(message string) string {
	msg := strings.ToLower(message)
	for _, r := range p.replies {
		for _, k := range r.keywords {
			if strings.Contains(msg, k) {
				return r.text
			}
		}
	}
	return p.fallback
}

// SystemPrompt is the model instruction for answering as this persona.
func (p Persona) SystemPrompt() string {
	prof, _ := Lookup(p.ID)
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the %s of a three-agent team (LEO, MOMO, ALEX).\n", prof.Name, prof.Role)
	fmt.Fprintf(&b, "Expertise: %s.\n", strings.Join(p.Expertise, ", "))
	fmt.Fprintf(&b, "Style: %s.\n", p.Focus)
	b.WriteString("Answer the user in a few short sentences.\n")
	b.WriteString("Wrap finished artifacts as [DELIVERABLE:<code|document|analysis|plan>:<title>]...[/DELIVERABLE].\n")
	b.WriteString("If you need a decision from the user, ask it as [USER_PROMPT]question[/USER_PROMPT].")
	return b.String()
}
