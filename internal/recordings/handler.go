package recordings

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edustream/backend/internal/middleware"
	"github.com/edustream/backend/internal/models"
	"github.com/edustream/backend/pkg/response"
	"github.com/edustream/backend/pkg/storage"
)

// SessionSource looks up sessions for authorization checks.
type SessionSource interface {
	Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	repo     *Repository
	sessions SessionSource
	s3       *storage.S3
	logger   *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(repo *Repository, sessions SessionSource, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, sessions: sessions, s3: s3, logger: logger}
}

// canAccess reports whether the user may see recordings for the session:
// the session's instructor or an admin.
func (h *Handler) canAccess(c *gin.Context, sessionID uuid.UUID) bool {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	if role == "admin" {
		return true
	}
	s, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil || s == nil {
		return false
	}
	return s.InstructorID == userID
}

// ListBySession handles GET /sessions/:id/recordings.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if !h.canAccess(c, sessionID) {
		response.Forbidden(c, "not authorized to list recordings")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, list)
}

// GenerateDownloadURL handles GET /recordings/:id/download-url. Returns a
// presigned URL for the archived broadcast.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), recordingID)
	if err != nil {
		response.NotFound(c, "recording not found")
		return
	}
	if rec.Status != models.RecordingStatusCompleted || rec.S3Key == "" {
		response.BadRequest(c, "recording not ready for download")
		return
	}
	if !h.canAccess(c, rec.SessionID) {
		response.Forbidden(c, "not authorized to download this recording")
		return
	}
	if h.s3 == nil {
		response.Internal(c, "S3 not configured")
		return
	}
	expire := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.RecordingsBucket(), rec.S3Key, expire)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds())})
}
