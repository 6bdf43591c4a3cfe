package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edustream/backend/internal/models"
)

// CreateSpec is the validated input for creating a live session.
type CreateSpec struct {
	CourseID       uuid.UUID
	InstructorID   uuid.UUID
	Title          string
	Description    string
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	MaxAttendees   int
	Settings       models.Settings
}

// Store persists live sessions and attendance. The controller is the only
// writer of status transitions; stores enforce the legal transitions
// themselves so concurrent callers racing on the same session cannot corrupt
// state (the second caller gets ErrInvalidTransition).
type Store interface {
	Create(ctx context.Context, spec CreateSpec) (*models.LiveSession, error)
	Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	ListByCourse(ctx context.Context, courseID uuid.UUID) ([]models.LiveSession, error)

	// Start transitions scheduled → live, recording the ingest credential hash
	// and playback URL and setting actual_start_time.
	Start(ctx context.Context, id uuid.UUID, streamKeyHash, playbackURL string) (*models.LiveSession, error)
	// End transitions live → ended, sets actual_end_time and clears the stream
	// key hash. The playback URL is retained for recording history.
	End(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	// Cancel transitions scheduled → cancelled.
	Cancel(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)

	// Join opens an attendance record for the user and reports whether a new
	// record was opened. A join while the user already has an active record is
	// a no-op returning false (reconnect race protection). Fails with
	// ErrCapacityExceeded at max_attendees and ErrInvalidTransition unless the
	// session is live.
	Join(ctx context.Context, sessionID, userID uuid.UUID, userName string) (bool, error)
	// Leave closes the user's active attendance record. Idempotent: leaving
	// with no active record is a no-op.
	Leave(ctx context.Context, sessionID, userID uuid.UUID) error
	Attendance(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error)
}

// Validate checks a CreateSpec against the creation rules.
func (s CreateSpec) Validate() error {
	if s.Title == "" {
		return validationf("title is required")
	}
	if s.CourseID == uuid.Nil || s.InstructorID == uuid.Nil {
		return validationf("course_id and instructor_id are required")
	}
	if !s.ScheduledStart.Before(s.ScheduledEnd) {
		return validationf("scheduled_start_time must be before scheduled_end_time")
	}
	if s.MaxAttendees <= 0 {
		return validationf("max_attendees must be positive")
	}
	return nil
}
