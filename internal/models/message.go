package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is an append-only direct message. Only IsRead and ReadAt change
// after insert, and only from unread to read.
type Message struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ConversationID uuid.UUID  `db:"conversation_id" json:"conversation_id"`
	SenderUserID   string     `db:"sender_user_id" json:"sender_user_id"`
	Content        string     `db:"content" json:"content"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	IsRead         bool       `db:"is_read" json:"is_read"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// MessageCursor marks a position in a conversation's history. Pages are
// ordered by (created_at, id).
type MessageCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}
