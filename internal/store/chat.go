package store

import (
	"fmt"
	"time"
)

type ChatMessage struct {
	ID        string    `json:"messageId"`
	MissionID string    `json:"missionId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"message"`
	CreatedAt time.Time `json:"timestamp"`
}

func (s *Store) SaveChatMessage(msg *ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_messages (id, mission_id, sender, recipient, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.MissionID, msg.From, msg.To, msg.Content, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}
	return nil
}

// GetChatMessages returns the latest limit messages of a mission in
// chronological order.
func (s *Store) GetChatMessages(missionID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, mission_id, sender, recipient, content, created_at
		FROM chat_messages
		WHERE mission_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, missionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get chat messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.MissionID, &m.From, &m.To, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, m)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}
