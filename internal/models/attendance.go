package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRecord is one per-user, per-visit record of presence in a live
// session. A user accrues a new record for every join/leave cycle; at most one
// record per user may be active at a time.
type AttendanceRecord struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	UserID    uuid.UUID  `json:"user_id"`
	UserName  string     `json:"user_name"`
	JoinTime  time.Time  `json:"join_time"`
	LeaveTime *time.Time `json:"leave_time,omitempty"`
	IsActive  bool       `json:"is_active"`
}
