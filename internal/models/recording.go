package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus represents recording lifecycle.
const (
	RecordingStatusRecording  = "recording"
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusFailed     = "failed"
)

// Recording is an archived session broadcast (origin segment archive → S3).
type Recording struct {
	ID              uuid.UUID `json:"id"`
	SessionID       uuid.UUID `json:"session_id"`
	OriginURL       string    `json:"origin_url,omitempty"`
	S3URL           string    `json:"s3_url,omitempty"`
	S3Key           string    `json:"s3_key,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	FileSize        int64     `json:"file_size"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
