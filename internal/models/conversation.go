package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Conversation is a messaging thread. Direct conversations carry a canonical
// pair key so two users always share the same row.
type Conversation struct {
	ID        uuid.UUID `db:"id" json:"id"`
	IsDirect  bool      `db:"is_direct" json:"is_direct"`
	DirectKey *string   `db:"direct_key" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ConversationMember is a per-user membership row.
type ConversationMember struct {
	ConversationID uuid.UUID `db:"conversation_id" json:"conversation_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
	IsDeleted      bool      `db:"is_deleted" json:"is_deleted"`
}

// ConversationSummary is the list view of a conversation for one user.
type ConversationSummary struct {
	ConversationID uuid.UUID  `db:"conversation_id" json:"conversation_id"`
	OtherUserID    string     `db:"other_user_id" json:"other_user_id"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastMessage    *string    `db:"last_message" json:"last_message,omitempty"`
	LastMessageAt  *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	UnreadCount    int        `db:"unread_count" json:"unread_count"`
}

// DirectKey returns the canonical key for the pair, independent of order.
// The first id is length-prefixed so ids containing the separator cannot
// make two different pairs share a key.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return strconv.Itoa(len(userA)) + ":" + userA + ":" + userB
}
