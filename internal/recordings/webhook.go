package recordings

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edustream/backend/internal/models"
	"github.com/edustream/backend/pkg/queue"
	"github.com/edustream/backend/pkg/response"
)

// ArchiveReadyPayload is the expected body from the media origin's
// archive-ready webhook, sent once the origin finishes writing the broadcast
// archive.
type ArchiveReadyPayload struct {
	SessionID   string `json:"session_id"`
	RecordingID string `json:"recording_id"`
	FileURL     string `json:"file_url"`
	Duration    int    `json:"duration"`
	FileSize    int64  `json:"file_size"`
}

// WebhookHandler handles archive notifications from the media origin.
type WebhookHandler struct {
	repo   *Repository
	queue  *queue.Queue
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(repo *Repository, q *queue.Queue, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{repo: repo, queue: q, logger: logger}
}

// ArchiveReady handles POST /webhooks/archive-ready. Updates the recording row
// and enqueues the S3 upload job for the worker.
func (h *WebhookHandler) ArchiveReady(c *gin.Context) {
	var body ArchiveReadyPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if body.FileURL == "" {
		response.BadRequest(c, "file_url required")
		return
	}

	var recordingID uuid.UUID
	var sessionID uuid.UUID
	if body.RecordingID != "" {
		var err error
		recordingID, err = uuid.Parse(body.RecordingID)
		if err != nil {
			response.BadRequest(c, "invalid recording_id")
			return
		}
	}
	if body.SessionID != "" {
		var err error
		sessionID, err = uuid.Parse(body.SessionID)
		if err != nil {
			response.BadRequest(c, "invalid session_id")
			return
		}
	}

	var rec *models.Recording
	if body.RecordingID != "" {
		rec, _ = h.repo.GetByID(c.Request.Context(), recordingID)
	}
	if rec == nil && body.SessionID != "" {
		// The origin did not send our recording_id; fall back to the open
		// recording for the session, or create a fresh row.
		rec, _ = h.repo.FindBySessionStatus(c.Request.Context(), sessionID, models.RecordingStatusRecording)
	}
	if rec == nil && body.SessionID != "" {
		rec = &models.Recording{
			SessionID:       sessionID,
			OriginURL:       body.FileURL,
			DurationSeconds: body.Duration,
			FileSize:        body.FileSize,
			Status:          models.RecordingStatusProcessing,
		}
		if err := h.repo.Create(c.Request.Context(), rec); err != nil {
			h.logger.Error("create recording failed", zap.Error(err))
			response.Internal(c, "failed to create recording")
			return
		}
	}
	if rec == nil {
		response.BadRequest(c, "could not identify recording (provide recording_id or session_id)")
		return
	}

	if rec.OriginURL != body.FileURL {
		if err := h.repo.UpdateOriginURL(c.Request.Context(), rec.ID, body.FileURL); err != nil {
			h.logger.Error("update origin_url failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
			response.Internal(c, "failed to update recording")
			return
		}
	}

	if err := h.queue.EnqueueRecordingUpload(c.Request.Context(), queue.RecordingUploadPayload{
		RecordingID: rec.ID,
		SessionID:   rec.SessionID,
		OriginURL:   body.FileURL,
	}); err != nil {
		h.logger.Error("enqueue recording upload failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		response.Internal(c, "failed to enqueue upload")
		return
	}

	h.logger.Info("archive_ready webhook processed", zap.String("recording_id", rec.ID.String()), zap.String("origin_url", body.FileURL))
	c.JSON(http.StatusOK, gin.H{"success": true, "recording_id": rec.ID, "status": "processing"})
}
