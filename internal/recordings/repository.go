package recordings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echosphere/backend/internal/models"
	"github.com/echosphere/backend/pkg/database"
)

// Repository handles recording and transcript persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordingColumns = `r.id, r.session_id, COALESCE(r.egress_id,''), r.status, COALESCE(r.storage_bucket,''), COALESCE(r.storage_path,''),
	COALESCE(r.playlist_url,''), r.duration_seconds, r.file_size_bytes, COALESCE(r.error_message,''), r.last_event_seq, r.last_event_kind,
	r.version, r.created_at, r.updated_at, r.started_at, r.ended_at`

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.EgressID, &rec.Status, &rec.StorageBucket, &rec.StoragePath,
		&rec.PlaybackURL, &rec.DurationSeconds, &rec.FileSizeBytes, &rec.ErrorMessage, &rec.LastEventSeq, &rec.LastEventKind,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt, &rec.StartedAt, &rec.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Create inserts a new recording. A second open recording for the same session violates
// ux_recordings_session_open and is reported as ErrRecordingInProgress.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (id, session_id, egress_id, status)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING version, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, rec.ID, rec.SessionID, rec.EgressID, rec.Status).
		Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return ErrRecordingInProgress
	}
	return err
}

// Update writes every mutable column when the stored version still matches rec.Version.
func (r *Repository) Update(ctx context.Context, rec *models.Recording) error {
	const q = `UPDATE recordings SET
			egress_id = NULLIF($3, ''), status = $4, storage_bucket = NULLIF($5, ''), storage_path = NULLIF($6, ''),
			playlist_url = NULLIF($7, ''), duration_seconds = $8, file_size_bytes = $9, error_message = NULLIF($10, ''),
			last_event_seq = $11, last_event_kind = $12, started_at = $13, ended_at = $14,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`
	err := r.pool.QueryRow(ctx, q, rec.ID, rec.Version,
		rec.EgressID, rec.Status, rec.StorageBucket, rec.StoragePath,
		rec.PlaybackURL, rec.DurationSeconds, rec.FileSizeBytes, rec.ErrorMessage,
		rec.LastEventSeq, rec.LastEventKind, rec.StartedAt, rec.EndedAt,
	).Scan(&rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	return err
}

// GetByID returns a recording by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings r WHERE r.id = $1`
	return scanRecording(r.pool.QueryRow(ctx, q, id))
}

// GetByEgressID returns the recording bound to a gateway job.
func (r *Repository) GetByEgressID(ctx context.Context, egressID string) (*models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings r WHERE r.egress_id = $1`
	return scanRecording(r.pool.QueryRow(ctx, q, egressID))
}

// GetActiveBySession returns the session's non-terminal recording, ErrNotFound if none.
func (r *Repository) GetActiveBySession(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings r
		WHERE r.session_id = $1 AND r.status IN ('starting', 'active', 'processing')
		ORDER BY r.created_at DESC LIMIT 1`
	return scanRecording(r.pool.QueryRow(ctx, q, sessionID))
}

// ListBySession returns a page of a session's recordings, newest first, and the total count.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID, page, pageSize int) ([]models.Recording, int, error) {
	return r.list(ctx, `FROM recordings r WHERE r.session_id = $1`, []any{sessionID}, page, pageSize)
}

// ListByUser returns a page of recordings of all sessions owned by userID.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.Recording, int, error) {
	return r.list(ctx, `FROM recordings r JOIN sessions s ON s.id = r.session_id WHERE s.user_id = $1`, []any{userID}, page, pageSize)
}

// ListByStatus returns a page of recordings in status; empty status lists all.
func (r *Repository) ListByStatus(ctx context.Context, status models.RecordingStatus, page, pageSize int) ([]models.Recording, int, error) {
	if status == "" {
		return r.list(ctx, `FROM recordings r`, nil, page, pageSize)
	}
	return r.list(ctx, `FROM recordings r WHERE r.status = $1`, []any{status}, page, pageSize)
}

func (r *Repository) list(ctx context.Context, from string, args []any, page, pageSize int) ([]models.Recording, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recordings: %w", err)
	}
	n := len(args)
	q := fmt.Sprintf(`SELECT %s %s ORDER BY r.created_at DESC LIMIT $%d OFFSET $%d`, recordingColumns, from, n+1, n+2)
	rows, err := r.pool.Query(ctx, q, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list := make([]models.Recording, 0, pageSize)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *rec)
	}
	return list, total, rows.Err()
}

// AppendMessage inserts a transcript entry; the database assigns id, seq and created_at.
func (r *Repository) AppendMessage(ctx context.Context, msg *models.Message) error {
	const q = `INSERT INTO messages (recording_id, role, content, timestamp_ms)
		VALUES ($1, $2, $3, $4)
		RETURNING id, seq, created_at`
	return r.pool.QueryRow(ctx, q, msg.RecordingID, msg.Role, msg.Content, msg.TimestampMs).
		Scan(&msg.ID, &msg.Seq, &msg.CreatedAt)
}

// ListMessages returns the transcript ordered by (timestamp_ms, seq).
func (r *Repository) ListMessages(ctx context.Context, recordingID uuid.UUID) ([]models.Message, error) {
	const q = `SELECT id, recording_id, role, content, timestamp_ms, seq, created_at
		FROM messages WHERE recording_id = $1 ORDER BY timestamp_ms ASC, seq ASC`
	rows, err := r.pool.Query(ctx, q, recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RecordingID, &m.Role, &m.Content, &m.TimestampMs, &m.Seq, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
