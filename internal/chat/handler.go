package chat

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edustream/backend/internal/middleware"
	"github.com/edustream/backend/internal/models"
	"github.com/edustream/backend/pkg/response"
)

// Service performs chat operations behind lifecycle checks. The session
// controller implements this; the handler never touches the store directly.
type Service interface {
	SendMessage(ctx context.Context, sessionID, userID uuid.UUID, userName, text string, isInstructor bool) (*models.ChatMessage, error)
	Messages(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// Handler exposes session chat over HTTP.
type Handler struct {
	service Service
}

// NewHandler creates a chat handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// SendRequest is the body for POST /sessions/:id/chat.
type SendRequest struct {
	Message string `json:"message" binding:"required"`
}

// Send handles POST /sessions/:id/chat.
func (h *Handler) Send(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	userName, _ := c.MustGet(middleware.ContextUserName).(string)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)

	msg, err := h.service.SendMessage(c.Request.Context(), sessionID, userID, userName, req.Message, role == "instructor")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, msg)
}

// List handles GET /sessions/:id/chat?limit=. Messages come back ascending by
// timestamp, ready for display.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := h.service.Messages(c.Request.Context(), sessionID, limit)
	if err != nil {
		response.Internal(c, "failed to list messages")
		return
	}
	response.OK(c, gin.H{"messages": msgs})
}
