package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edustream/backend/internal/models"
)

// MemoryStore is a mutex-guarded in-memory Store. Used by the controller tests
// and for running the server without Postgres; semantics match PostgresStore.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[uuid.UUID]*models.LiveSession
	attendance map[uuid.UUID][]*models.AttendanceRecord
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[uuid.UUID]*models.LiveSession),
		attendance: make(map[uuid.UUID][]*models.AttendanceRecord),
	}
}

func copySession(s *models.LiveSession) *models.LiveSession {
	c := *s
	if s.ActualStart != nil {
		t := *s.ActualStart
		c.ActualStart = &t
	}
	if s.ActualEnd != nil {
		t := *s.ActualEnd
		c.ActualEnd = &t
	}
	return &c
}

// Create inserts a new session in the scheduled state.
func (st *MemoryStore) Create(_ context.Context, spec CreateSpec) (*models.LiveSession, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	s := &models.LiveSession{
		ID:             uuid.New(),
		CourseID:       spec.CourseID,
		InstructorID:   spec.InstructorID,
		Title:          spec.Title,
		Description:    spec.Description,
		ScheduledStart: spec.ScheduledStart,
		ScheduledEnd:   spec.ScheduledEnd,
		Status:         models.StatusScheduled,
		MaxAttendees:   spec.MaxAttendees,
		Settings:       spec.Settings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return copySession(s), nil
}

// Get returns a session by ID.
func (st *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

// ListByCourse returns all sessions for a course, newest scheduled first.
func (st *MemoryStore) ListByCourse(_ context.Context, courseID uuid.UUID) ([]models.LiveSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var list []models.LiveSession
	for _, s := range st.sessions {
		if s.CourseID == courseID {
			list = append(list, *copySession(s))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ScheduledStart.After(list[j].ScheduledStart) })
	return list, nil
}

// Start transitions scheduled → live.
func (st *MemoryStore) Start(_ context.Context, id uuid.UUID, streamKeyHash, playbackURL string) (*models.LiveSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.StatusScheduled {
		return nil, transitionError("start", s.Status)
	}
	now := time.Now()
	s.Status = models.StatusLive
	s.ActualStart = &now
	s.StreamKeyHash = streamKeyHash
	s.PlaybackURL = playbackURL
	s.UpdatedAt = now
	return copySession(s), nil
}

// End transitions live → ended, closing open attendance records.
func (st *MemoryStore) End(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.StatusLive {
		return nil, transitionError("end", s.Status)
	}
	now := time.Now()
	s.Status = models.StatusEnded
	s.ActualEnd = &now
	s.StreamKeyHash = ""
	s.CurrentAttendees = 0
	s.UpdatedAt = now
	for _, rec := range st.attendance[id] {
		if rec.IsActive {
			t := now
			rec.LeaveTime = &t
			rec.IsActive = false
		}
	}
	return copySession(s), nil
}

// Cancel transitions scheduled → cancelled.
func (st *MemoryStore) Cancel(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.StatusScheduled {
		return nil, transitionError("cancel", s.Status)
	}
	s.Status = models.StatusCancelled
	s.UpdatedAt = time.Now()
	return copySession(s), nil
}

// Join opens an attendance record; duplicate active joins are no-ops
// reported as false.
func (st *MemoryStore) Join(_ context.Context, sessionID, userID uuid.UUID, userName string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if s.Status != models.StatusLive {
		return false, transitionError("join", s.Status)
	}
	for _, rec := range st.attendance[sessionID] {
		if rec.UserID == userID && rec.IsActive {
			return false, nil
		}
	}
	if s.CurrentAttendees >= s.MaxAttendees {
		return false, ErrCapacityExceeded
	}
	st.attendance[sessionID] = append(st.attendance[sessionID], &models.AttendanceRecord{
		ID:        uuid.New(),
		SessionID: sessionID,
		UserID:    userID,
		UserName:  userName,
		JoinTime:  time.Now(),
		IsActive:  true,
	})
	s.CurrentAttendees++
	if s.CurrentAttendees > s.PeakAttendees {
		s.PeakAttendees = s.CurrentAttendees
	}
	s.UpdatedAt = time.Now()
	return true, nil
}

// Leave closes the user's active attendance record; idempotent.
func (st *MemoryStore) Leave(_ context.Context, sessionID, userID uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	for _, rec := range st.attendance[sessionID] {
		if rec.UserID == userID && rec.IsActive {
			now := time.Now()
			rec.LeaveTime = &now
			rec.IsActive = false
			if s.CurrentAttendees > 0 {
				s.CurrentAttendees--
			}
			s.UpdatedAt = now
			return nil
		}
	}
	return nil
}

// Attendance returns all attendance records for a session, most recent first.
func (st *MemoryStore) Attendance(_ context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	recs := st.attendance[sessionID]
	out := make([]models.AttendanceRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinTime.After(out[j].JoinTime) })
	return out, nil
}
