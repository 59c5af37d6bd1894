package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echosphere/backend/internal/models"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrForbidden is returned when the caller does not own the session.
	ErrForbidden = errors.New("not authorized for session")
)

// Repository handles session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, user_id, room_name, status, created_at, started_at, ended_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.RoomName, &s.Status, &s.CreatedAt, &s.StartedAt, &s.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Create inserts a pending session; the room name defaults to the session id.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.RoomName == "" {
		s.RoomName = s.ID.String()
	}
	s.Status = models.SessionStatusPending
	const q = `INSERT INTO sessions (id, user_id, room_name, status) VALUES ($1, $2, $3, $4) RETURNING created_at`
	return r.pool.QueryRow(ctx, q, s.ID, s.UserID, s.RoomName, s.Status).Scan(&s.CreatedAt)
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// GetByRoom returns the newest session held in a room.
func (r *Repository) GetByRoom(ctx context.Context, roomName string) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE room_name = $1 ORDER BY created_at DESC LIMIT 1`
	return scanSession(r.pool.QueryRow(ctx, q, roomName))
}

// ListByUser returns a user's sessions, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// UpdateStatus moves a session to status, stamping started_at / ended_at the first time.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*models.Session, error) {
	const q = `UPDATE sessions SET status = $2::text,
			started_at = CASE WHEN $2::text = 'active' THEN COALESCE(started_at, NOW()) ELSE started_at END,
			ended_at = CASE WHEN $2::text IN ('completed', 'failed') THEN COALESCE(ended_at, NOW()) ELSE ended_at END
		WHERE id = $1
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, q, id, status))
}
