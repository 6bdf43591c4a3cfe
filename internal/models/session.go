package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusLive      SessionStatus = "live"
	StatusEnded     SessionStatus = "ended"
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s SessionStatus) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// LiveSession is one scheduled/ongoing/completed broadcast for a course.
type LiveSession struct {
	ID               uuid.UUID     `json:"id"`
	CourseID         uuid.UUID     `json:"course_id"`
	InstructorID     uuid.UUID     `json:"instructor_id"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	ScheduledStart   time.Time     `json:"scheduled_start_time"`
	ScheduledEnd     time.Time     `json:"scheduled_end_time"`
	ActualStart      *time.Time    `json:"actual_start_time,omitempty"`
	ActualEnd        *time.Time    `json:"actual_end_time,omitempty"`
	Status           SessionStatus `json:"status"`
	MaxAttendees     int           `json:"max_attendees"`
	CurrentAttendees int           `json:"current_attendees"`
	PeakAttendees    int           `json:"peak_attendees"`
	// StreamKeyHash is the bcrypt hash of the ingest credential. The plaintext
	// key is returned exactly once, by startSession, and the hash is cleared
	// when the session ends so an old key can never authenticate again.
	StreamKeyHash string    `json:"-"`
	PlaybackURL   string    `json:"playback_url,omitempty"`
	Settings      Settings  `json:"settings"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Duration returns elapsed broadcast time: actual end minus actual start, or
// time since actual start if the session is still live. Zero before start.
func (s *LiveSession) Duration() time.Duration {
	if s.ActualStart == nil {
		return 0
	}
	if s.ActualEnd != nil {
		return s.ActualEnd.Sub(*s.ActualStart)
	}
	if s.Status == StatusLive {
		return time.Since(*s.ActualStart)
	}
	return 0
}

// Settings holds per-session broadcast configuration. Every recognized option
// is enumerated here; unknown keys are rejected at decode time rather than
// passed through.
type Settings struct {
	AllowChat          bool   `json:"allow_chat"`
	AllowScreenShare   bool   `json:"allow_screen_share"`
	AllowAttendeeVideo bool   `json:"allow_attendee_video"`
	AllowAttendeeAudio bool   `json:"allow_attendee_audio"`
	RequireApproval    bool   `json:"require_approval"`
	AutoRecord         bool   `json:"auto_record"`
	RecordToS3         bool   `json:"record_to_s3"`
	StorageTarget      string `json:"storage_target,omitempty"`
	Quality            string `json:"quality"`
	MaxBitrate         int    `json:"max_bitrate"`
	Resolution         string `json:"resolution"`
	Framerate          int    `json:"framerate"`
}

// DefaultSettings returns the settings applied when a session is created
// without an explicit configuration.
func DefaultSettings() Settings {
	return Settings{
		AllowChat:  true,
		Quality:    "auto",
		MaxBitrate: 2500,
		Resolution: "1280x720",
		Framerate:  30,
	}
}

// DecodeSettings parses a settings JSON document, rejecting unknown keys.
func DecodeSettings(raw []byte) (Settings, error) {
	s := DefaultSettings()
	if len(raw) == 0 {
		return s, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}
