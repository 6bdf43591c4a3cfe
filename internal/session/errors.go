package session

import (
	"errors"
	"fmt"

	"github.com/edustream/backend/internal/models"
)

// Domain error taxonomy. Controller and store operations return these (possibly
// wrapped); callers match with errors.Is.
var (
	// ErrValidation means bad input to session creation (time range, capacity).
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition means a lifecycle operation was attempted from the
	// wrong state (e.g. starting an already-live session).
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrCapacityExceeded means a join was attempted at max_attendees.
	ErrCapacityExceeded = errors.New("session is full")
	// ErrNotFound means the session does not exist.
	ErrNotFound = errors.New("session not found")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

func transitionError(op string, status models.SessionStatus) error {
	return fmt.Errorf("%w: cannot %s a %s session", ErrInvalidTransition, op, status)
}
