// Package repository persists session history.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/brandonphelps/rusty-pellets/internal/model"
)

// DefaultListLimit bounds List when the caller passes a non-positive limit.
const DefaultListLimit = 50

const sessionColumns = `id, remote_addr, status, end_reason, ticks, final_state, started_at, ended_at`

// SessionRepository provides data access for sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session into the database.
func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	query := `
		INSERT INTO sessions (id, remote_addr, status, ticks, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.RemoteAddr,
		session.Status,
		session.Ticks,
		session.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Finish marks a session as ended and stores its final tick count and
// encoded servo state.
func (r *SessionRepository) Finish(ctx context.Context, id string, reason model.EndReason, ticks int64, finalState []byte, endedAt time.Time) error {
	query := `
		UPDATE sessions
		SET status = ?, end_reason = ?, ticks = ?, final_state = ?, ended_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		model.SessionStatusEnded, reason, ticks, finalState, endedAt, id)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// List retrieves the most recent sessions, newest first.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*model.Session, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// MarkStaleEnded closes sessions left active by a previous process and
// returns how many were updated.
func (r *SessionRepository) MarkStaleEnded(ctx context.Context, endedAt time.Time) (int64, error) {
	query := `
		UPDATE sessions
		SET status = ?, end_reason = ?, ended_at = ?
		WHERE status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		model.SessionStatusEnded, model.ReasonShutdown, endedAt, model.SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return n, nil
}
