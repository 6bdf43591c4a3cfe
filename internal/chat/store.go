package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edustream/backend/internal/models"
)

// ErrEmptyMessage means a send was attempted with no text.
var ErrEmptyMessage = errors.New("chat message is empty")

// DefaultLimit is how many messages a poll fetches when the caller does not
// say otherwise.
const DefaultLimit = 50

// Store persists session chat. Messages are append-only; Latest returns the
// most recent limit messages in ascending timestamp order for display.
type Store interface {
	Append(ctx context.Context, msg *models.ChatMessage) error
	Latest(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// MemoryStore is a mutex-guarded in-memory Store for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID][]models.ChatMessage
}

// NewMemoryStore creates an empty in-memory chat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[uuid.UUID][]models.ChatMessage)}
}

// Append stores a message, assigning ID and timestamp.
func (st *MemoryStore) Append(_ context.Context, msg *models.ChatMessage) error {
	if msg.Message == "" {
		return ErrEmptyMessage
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	msg.ID = uuid.New()
	msg.Timestamp = time.Now()
	st.messages[msg.SessionID] = append(st.messages[msg.SessionID], *msg)
	return nil
}

// Latest returns the most recent limit messages, ascending by timestamp.
func (st *MemoryStore) Latest(_ context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	msgs := st.messages[sessionID]
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
