package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edustream/backend/internal/middleware"
	"github.com/edustream/backend/internal/models"
	"github.com/edustream/backend/pkg/response"
)

// Handler exposes the session lifecycle over HTTP. All mutations go through
// the controller; nothing writes to the store directly.
type Handler struct {
	controller *Controller
}

// NewHandler creates a session handler.
func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	CourseID       string          `json:"course_id" binding:"required,uuid"`
	Title          string          `json:"title" binding:"required"`
	Description    string          `json:"description"`
	ScheduledStart string          `json:"scheduled_start_time" binding:"required"`
	ScheduledEnd   string          `json:"scheduled_end_time" binding:"required"`
	MaxAttendees   int             `json:"max_attendees" binding:"required"`
	Settings       json.RawMessage `json:"settings"`
}

// writeError maps the domain taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "session not found")
	case errors.Is(err, ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrCapacityExceeded):
		response.Conflict(c, "session is full")
	default:
		response.Internal(c, "operation failed")
	}
}

// Create handles POST /sessions (instructor only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	courseID, err := uuid.Parse(req.CourseID)
	if err != nil {
		response.BadRequest(c, "invalid course_id")
		return
	}
	start, err := time.Parse(time.RFC3339, req.ScheduledStart)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_start_time")
		return
	}
	end, err := time.Parse(time.RFC3339, req.ScheduledEnd)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_end_time")
		return
	}
	settings, err := models.DecodeSettings(req.Settings)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	instructorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	s, err := h.controller.CreateSession(c.Request.Context(), CreateSpec{
		CourseID:       courseID,
		InstructorID:   instructorID,
		Title:          req.Title,
		Description:    req.Description,
		ScheduledStart: start,
		ScheduledEnd:   end,
		MaxAttendees:   req.MaxAttendees,
		Settings:       settings,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, s)
}

// List handles GET /sessions?course_id=.
func (h *Handler) List(c *gin.Context) {
	courseID, err := uuid.Parse(c.Query("course_id"))
	if err != nil {
		response.BadRequest(c, "course_id query parameter required")
		return
	}
	list, err := h.controller.ListSessions(c.Request.Context(), courseID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.controller.GetSession(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"session": s, "duration_seconds": int(s.Duration().Seconds())})
}

// Start handles POST /sessions/:id/start (instructor). The response carries
// the plaintext stream key; it is never retrievable again.
func (h *Handler) Start(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, streamKey, err := h.controller.StartSession(c.Request.Context(), id)
	if err != nil && s == nil {
		writeError(c, err)
		return
	}
	body := gin.H{"session": s, "stream_key": streamKey}
	if err != nil {
		// Session is live but ingest is down; the client shows reconnecting.
		body["ingest_error"] = err.Error()
	}
	response.OK(c, body)
}

// End handles POST /sessions/:id/end (instructor).
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.controller.EndSession(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"session": s, "duration_seconds": int(s.Duration().Seconds())})
}

// Cancel handles POST /sessions/:id/cancel (instructor).
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.controller.CancelSession(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, s)
}

// Join handles POST /sessions/:id/join.
func (h *Handler) Join(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	userName, _ := c.MustGet(middleware.ContextUserName).(string)
	if err := h.controller.JoinSession(c.Request.Context(), id, userID, userName); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": id, "user_id": userID})
}

// Leave handles POST /sessions/:id/leave. Idempotent.
func (h *Handler) Leave(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.controller.LeaveSession(c.Request.Context(), id, userID); err != nil {
		writeError(c, err)
		return
	}
	response.NoContent(c)
}

// GetAttendance handles GET /sessions/:id/attendance (instructor).
func (h *Handler) GetAttendance(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.controller.Attendance(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"attendance": list})
}

// AuthorizeIngest handles POST /ingest/auth: the ingest edge validates a
// presented stream key before accepting a broadcast.
func (h *Handler) AuthorizeIngest(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required,uuid"`
		StreamKey string `json:"stream_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	id, _ := uuid.Parse(req.SessionID)
	if err := h.controller.AuthorizeIngest(c.Request.Context(), id, req.StreamKey); err != nil {
		response.Unauthorized(c, "stream key rejected")
		return
	}
	response.OK(c, gin.H{"authorized": true})
}
