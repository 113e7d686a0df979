package models

import (
	"time"

	"github.com/google/uuid"
)

// UserBlock records that BlockerUserID blocked BlockedUserID. Delivery checks
// treat it as symmetric.
type UserBlock struct {
	ID            uuid.UUID `db:"id" json:"id"`
	BlockerUserID string    `db:"blocker_user_id" json:"blocker_user_id"`
	BlockedUserID string    `db:"blocked_user_id" json:"blocked_user_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
