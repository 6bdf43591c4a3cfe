package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edustream/backend/internal/models"
)

// Repository is the pgx-backed chat Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts a message; the server assigns ID and timestamp so ordering is
// authoritative regardless of send-call interleaving.
func (r *Repository) Append(ctx context.Context, msg *models.ChatMessage) error {
	if msg.Message == "" {
		return ErrEmptyMessage
	}
	const q = `INSERT INTO chat_messages (id, session_id, user_id, user_name, message, is_instructor, sent_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, NOW())
		RETURNING id, sent_at`
	return r.pool.QueryRow(ctx, q, msg.SessionID, msg.UserID, msg.UserName, msg.Message, msg.IsInstructor).
		Scan(&msg.ID, &msg.Timestamp)
}

// Latest returns the most recent limit messages in ascending timestamp order.
func (r *Repository) Latest(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	const q = `SELECT id, session_id, user_id, user_name, message, is_instructor, sent_at FROM (
			SELECT id, session_id, user_id, user_name, message, is_instructor, sent_at
			FROM chat_messages WHERE session_id = $1 ORDER BY sent_at DESC LIMIT $2
		) recent ORDER BY sent_at ASC`
	rows, err := r.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.UserName, &m.Message, &m.IsInstructor, &m.Timestamp); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
