package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one append-only chat entry scoped to a session. Messages are
// never edited or deleted; retrieval is always the most recent N in ascending
// timestamp order.
type ChatMessage struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	UserID       uuid.UUID `json:"user_id"`
	UserName     string    `json:"user_name"`
	Message      string    `json:"message"`
	IsInstructor bool      `json:"is_instructor"`
	Timestamp    time.Time `json:"timestamp"`
}
