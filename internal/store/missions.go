package store

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	MissionPending    = "pending"
	MissionProcessing = "processing"
	MissionCompleted  = "completed"
	MissionFailed     = "failed"
)

type Mission struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	Success     bool       `json:"success"`
	Cached      bool       `json:"cached"`
	Events      int        `json:"events"`
	Message     string     `json:"message,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

const missionColumns = `id, content, mode, status, success, cached, events, message, started_at, completed_at`

func scanMission(scanner interface {
	Scan(dest ...any) error
}) (*Mission, error) {
	m := &Mission{}
	var message *string
	err := scanner.Scan(&m.ID, &m.Content, &m.Mode, &m.Status, &m.Success, &m.Cached, &m.Events, &message, &m.StartedAt, &m.CompletedAt)
	if err != nil {
		return nil, err
	}
	if message != nil {
		m.Message = *message
	}
	return m, nil
}

// SaveMission inserts a mission or, for a known id, restarts it with the
// new content and mode.
func (s *Store) SaveMission(m *Mission) error {
	if m.Status == "" {
		m.Status = MissionPending
	}
	_, err := s.db.Exec(`
		INSERT INTO missions (id, content, mode, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			mode = excluded.mode,
			status = excluded.status,
			success = FALSE,
			cached = FALSE,
			events = 0,
			message = NULL,
			started_at = CURRENT_TIMESTAMP,
			completed_at = NULL`,
		m.ID, m.Content, m.Mode, m.Status)
	if err != nil {
		return fmt.Errorf("save mission: %w", err)
	}
	return nil
}

func (s *Store) GetMission(id string) (*Mission, error) {
	row := s.db.QueryRow(`SELECT `+missionColumns+` FROM missions WHERE id = ?`, id)
	m, err := scanMission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mission: %w", err)
	}
	return m, nil
}

func (s *Store) ListMissions(limit int) ([]Mission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+missionColumns+` FROM missions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var missions []Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		missions = append(missions, *m)
	}
	return missions, rows.Err()
}

func (s *Store) UpdateMissionStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE missions SET status = ? WHERE id = ?`, status, id)
	return err
}

// FinishMission records the outcome of a run. completed_at is stamped only
// the first time.
func (s *Store) FinishMission(id string, success, cached bool, events int, message string) error {
	status := MissionCompleted
	if !success {
		status = MissionFailed
	}
	_, err := s.db.Exec(`
		UPDATE missions
		SET status = ?, success = ?, cached = ?, events = ?, message = ?,
		    completed_at = COALESCE(completed_at, CURRENT_TIMESTAMP)
		WHERE id = ?`, status, success, cached, events, message, id)
	if err != nil {
		return fmt.Errorf("finish mission: %w", err)
	}
	return nil
}

func (s *Store) DeleteMission(id string) error {
	if _, err := s.db.Exec(`DELETE FROM chat_messages WHERE mission_id = ?`, id); err != nil {
		return fmt.Errorf("delete mission chat: %w", err)
	}
	_, err := s.db.Exec(`DELETE FROM missions WHERE id = ?`, id)
	return err
}
