package recordings

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edustream/backend/internal/models"
)

// Repository handles recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new recording row.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (id, session_id, origin_url, s3_url, s3_key, duration_seconds, file_size, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, rec.SessionID, rec.OriginURL, rec.S3URL, rec.S3Key, rec.DurationSeconds, rec.FileSize, rec.Status).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

// GetByID returns a recording by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	const q = `SELECT id, session_id, COALESCE(origin_url,''), COALESCE(s3_url,''), COALESCE(s3_key,''), duration_seconds, file_size, status, created_at, updated_at
		FROM recordings WHERE id = $1`
	var rec models.Recording
	err := r.pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.SessionID, &rec.OriginURL, &rec.S3URL, &rec.S3Key, &rec.DurationSeconds, &rec.FileSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListBySession returns all recordings for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	const q = `SELECT id, session_id, COALESCE(origin_url,''), COALESCE(s3_url,''), COALESCE(s3_key,''), duration_seconds, file_size, status, created_at, updated_at
		FROM recordings WHERE session_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Recording
	for rows.Next() {
		var rec models.Recording
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.OriginURL, &rec.S3URL, &rec.S3Key, &rec.DurationSeconds, &rec.FileSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// UpdateStatus sets recording status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	const q = `UPDATE recordings SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, status, id)
	return err
}

// UpdateS3Result sets S3 URL and key and status to completed.
func (r *Repository) UpdateS3Result(ctx context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64, durationSeconds int) error {
	const q = `UPDATE recordings SET s3_url = $1, s3_key = $2, file_size = $3, duration_seconds = $4, status = $5, updated_at = NOW() WHERE id = $6`
	_, err := r.pool.Exec(ctx, q, s3URL, s3Key, fileSize, durationSeconds, models.RecordingStatusCompleted, id)
	return err
}

// FindBySessionStatus returns the newest recording for a session with the given status, if any.
func (r *Repository) FindBySessionStatus(ctx context.Context, sessionID uuid.UUID, status string) (*models.Recording, error) {
	const q = `SELECT id, session_id, COALESCE(origin_url,''), COALESCE(s3_url,''), COALESCE(s3_key,''), duration_seconds, file_size, status, created_at, updated_at
		FROM recordings WHERE session_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1`
	var rec models.Recording
	err := r.pool.QueryRow(ctx, q, sessionID, status).Scan(&rec.ID, &rec.SessionID, &rec.OriginURL, &rec.S3URL, &rec.S3Key, &rec.DurationSeconds, &rec.FileSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// UpdateOriginURL sets origin_url and moves the recording to processing.
func (r *Repository) UpdateOriginURL(ctx context.Context, id uuid.UUID, originURL string) error {
	const q = `UPDATE recordings SET origin_url = $1, status = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, originURL, models.RecordingStatusProcessing, id)
	return err
}
