package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edustream/backend/internal/models"
)

const sessionColumns = `id, course_id, instructor_id, title, description,
	scheduled_start, scheduled_end, actual_start, actual_end, status,
	max_attendees, current_attendees, peak_attendees, COALESCE(stream_key_hash, ''), COALESCE(playback_url, ''),
	settings, created_at, updated_at`

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanSession(row pgx.Row) (*models.LiveSession, error) {
	var s models.LiveSession
	var settings []byte
	err := row.Scan(&s.ID, &s.CourseID, &s.InstructorID, &s.Title, &s.Description,
		&s.ScheduledStart, &s.ScheduledEnd, &s.ActualStart, &s.ActualEnd, &s.Status,
		&s.MaxAttendees, &s.CurrentAttendees, &s.PeakAttendees, &s.StreamKeyHash, &s.PlaybackURL,
		&settings, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &s.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	return &s, nil
}

// Create inserts a new session in the scheduled state.
func (st *PostgresStore) Create(ctx context.Context, spec CreateSpec) (*models.LiveSession, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	settings, err := json.Marshal(spec.Settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	const q = `INSERT INTO live_sessions
		(id, course_id, instructor_id, title, description, scheduled_start, scheduled_end, status, max_attendees, current_attendees, settings)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, 'scheduled', $7, 0, $8)
		RETURNING ` + sessionColumns
	return scanSession(st.pool.QueryRow(ctx, q,
		spec.CourseID, spec.InstructorID, spec.Title, spec.Description,
		spec.ScheduledStart, spec.ScheduledEnd, spec.MaxAttendees, settings))
}

// Get returns a session by ID.
func (st *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`
	return scanSession(st.pool.QueryRow(ctx, q, id))
}

// ListByCourse returns all sessions for a course, newest scheduled first.
func (st *PostgresStore) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]models.LiveSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE course_id = $1 ORDER BY scheduled_start DESC`
	rows, err := st.pool.Query(ctx, q, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.LiveSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// transition runs a guarded status update; the WHERE clause on the current
// status makes racing transitions lose cleanly.
func (st *PostgresStore) transition(ctx context.Context, id uuid.UUID, q string, op string, args ...interface{}) (*models.LiveSession, error) {
	s, err := scanSession(st.pool.QueryRow(ctx, q, args...))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// No row matched: either missing or in the wrong state.
	cur, getErr := st.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, transitionError(op, cur.Status)
}

// Start transitions scheduled → live.
func (st *PostgresStore) Start(ctx context.Context, id uuid.UUID, streamKeyHash, playbackURL string) (*models.LiveSession, error) {
	const q = `UPDATE live_sessions
		SET status = 'live', actual_start = NOW(), stream_key_hash = $2, playback_url = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
		RETURNING ` + sessionColumns
	return st.transition(ctx, id, q, "start", id, streamKeyHash, playbackURL)
}

// End transitions live → ended, closing any attendance records still open and
// invalidating the ingest credential.
func (st *PostgresStore) End(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const q = `UPDATE live_sessions
		SET status = 'ended', actual_end = NOW(), stream_key_hash = NULL, current_attendees = 0, updated_at = NOW()
		WHERE id = $1 AND status = 'live'
		RETURNING ` + sessionColumns
	s, err := scanSession(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			cur, getErr := st.Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return nil, transitionError("end", cur.Status)
		}
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE attendance_records SET leave_time = NOW(), is_active = FALSE
		 WHERE session_id = $1 AND is_active`, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Cancel transitions scheduled → cancelled.
func (st *PostgresStore) Cancel(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	const q = `UPDATE live_sessions
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
		RETURNING ` + sessionColumns
	return st.transition(ctx, id, q, "cancel", id)
}

// Join opens an attendance record inside one transaction: the session row is
// locked so the capacity check and the counter increment cannot race.
func (st *PostgresStore) Join(ctx context.Context, sessionID, userID uuid.UUID, userName string) (bool, error) {
	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var status models.SessionStatus
	var current, max int
	err = tx.QueryRow(ctx,
		`SELECT status, current_attendees, max_attendees FROM live_sessions WHERE id = $1 FOR UPDATE`,
		sessionID).Scan(&status, &current, &max)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	if status != models.StatusLive {
		return false, transitionError("join", status)
	}

	var active bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM attendance_records WHERE session_id = $1 AND user_id = $2 AND is_active)`,
		sessionID, userID).Scan(&active)
	if err != nil {
		return false, err
	}
	if active {
		// Reconnect race: already counted, nothing to do.
		return false, tx.Commit(ctx)
	}
	if current >= max {
		return false, ErrCapacityExceeded
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO attendance_records (id, session_id, user_id, user_name, join_time, is_active)
		 VALUES (gen_random_uuid(), $1, $2, $3, NOW(), TRUE)`,
		sessionID, userID, userName)
	if err != nil {
		return false, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE live_sessions
		 SET current_attendees = current_attendees + 1,
		     peak_attendees = GREATEST(peak_attendees, current_attendees + 1),
		     updated_at = NOW()
		 WHERE id = $1`,
		sessionID)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Leave closes the user's active attendance record; a second leave finds no
// active record and is a no-op.
func (st *PostgresStore) Leave(ctx context.Context, sessionID, userID uuid.UUID) error {
	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE attendance_records SET leave_time = NOW(), is_active = FALSE
		 WHERE id IN (
			SELECT id FROM attendance_records
			WHERE session_id = $1 AND user_id = $2 AND is_active
			ORDER BY join_time DESC LIMIT 1
		 )`,
		sessionID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE live_sessions SET current_attendees = GREATEST(current_attendees - 1, 0), updated_at = NOW() WHERE id = $1`,
			sessionID)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Attendance returns all attendance records for a session, most recent first.
func (st *PostgresStore) Attendance(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error) {
	rows, err := st.pool.Query(ctx,
		`SELECT id, session_id, user_id, user_name, join_time, leave_time, is_active
		 FROM attendance_records WHERE session_id = $1 ORDER BY join_time DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.AttendanceRecord
	for rows.Next() {
		var rec models.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.UserID, &rec.UserName, &rec.JoinTime, &rec.LeaveTime, &rec.IsActive); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
