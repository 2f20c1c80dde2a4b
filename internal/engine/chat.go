package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/event"
	"github.com/dotagent/office/internal/llm"
	"github.com/dotagent/office/internal/natsbus"
	"github.com/dotagent/office/internal/store"
	"github.com/dotagent/office/internal/team"
)

const ChatEndpoint = "/api/chat"

type ChatRequest struct {
	MissionID string
	AgentID   string
	Message   string
}

// Validate checks the request and returns the addressed agent.
func (r ChatRequest) Validate() (agent.ID, error) {
	if strings.TrimSpace(r.MissionID) == "" {
		return "", errors.New("Mission ID is required")
	}
	id, ok := agent.ParseID(r.AgentID)
	if !ok || !agent.IsTeamMember(id) {
		return "", errors.New("Valid agent ID required (leo, momo, or alex)")
	}
	if strings.TrimSpace(r.Message) == "" {
		return "", errors.New("Message content is required")
	}
	return id, nil
}

// Chat delivers a user message to one agent and streams the exchange:
// the echoed user message, the agent's reply, then complete.
func (e *Engine) Chat(ctx context.Context, req ChatRequest, sink Sink) error {
	id, err := req.Validate()
	if err != nil {
		return err
	}

	emit := func(p event.Payload) error {
		ev := event.New(p)
		if err := sink(ev); err != nil {
			return fmt.Errorf("%w: %v", ErrSinkClosed, err)
		}
		if e.deps.Publisher != nil {
			if err := e.deps.Publisher.PublishJSON(natsbus.TopicChatEvents(req.MissionID), ev); err != nil {
				slog.Warn("publish chat event failed", "mission", req.MissionID, "error", err)
			}
		}
		return nil
	}

	userMsg := e.chatMessage(req.MissionID, "user", string(id), req.Message, "user")
	if err := emit(userMsg); err != nil {
		return err
	}

	e.relay(ctx, req.MissionID, id, req.Message)

	if err := e.sleep(ctx, e.cfg.Timing.Think); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkClosed, err)
	}

	reply := e.chatMessage(req.MissionID, string(id), "user", e.reply(ctx, id, req.Message), string(id))
	if err := emit(reply); err != nil {
		return err
	}
	return emit(event.Complete{Success: true})
}

func (e *Engine) chatMessage(missionID, from, to, text, suffix string) event.ChatMessage {
	now := time.Now().UTC()
	msg := event.ChatMessage{
		MessageID: fmt.Sprintf("msg-%d-%s", now.UnixMilli(), suffix),
		MissionID: missionID,
		From:      from,
		To:        to,
		Message:   text,
		Timestamp: now,
	}
	e.record(func(r Recorder) error {
		return r.SaveChatMessage(&store.ChatMessage{
			ID:        msg.MessageID,
			MissionID: missionID,
			From:      from,
			To:        to,
			Content:   text,
			CreatedAt: now,
		})
	})
	return msg
}

// relay passes the message on to the mission's live team, if there is one.
func (e *Engine) relay(ctx context.Context, missionID string, id agent.ID, text string) {
	if e.deps.Team == nil {
		return
	}
	name := TeamName(missionID)
	if _, ok := e.deps.Team.Status(name); !ok {
		return
	}
	err := e.deps.Team.SendMessage(ctx, name, team.Message{Recipient: string(id), Text: text})
	if err != nil {
		slog.Warn("relay chat to team failed", "team", name, "agent", id, "error", err)
	}
}

// reply answers as the agent's persona, through the model when it is
// configured and from canned replies otherwise.
func (e *Engine) reply(ctx context.Context, id agent.ID, text string) string {
	persona, _ := agent.PersonaFor(id)
	model := e.deps.Model
	if model == nil || !model.Ready() {
		return persona.Reply(text)
	}

	resp, err := model.SendMessage(ctx, []llm.Message{{Role: llm.RoleUser, Content: text}}, persona.SystemPrompt())
	if err != nil {
		slog.Warn("chat model call failed, using canned reply", "agent", id, "error", err)
		return persona.Reply(text)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return persona.Reply(text)
	}
	return resp.Content
}
