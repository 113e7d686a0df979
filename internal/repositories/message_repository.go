package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

const messageColumns = `id, conversation_id, sender_user_id, content, created_at, is_read, read_at`

// MessageRepository defines interactions for direct messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, conversationID uuid.UUID, senderUserID string, content string) (models.Message, error)
	MarkRead(ctx context.Context, conversationID uuid.UUID, readerUserID string, now time.Time) (int64, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, before *models.MessageCursor, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores an unread message. Ids are UUIDv7 so they sort with
// creation time.
func (r *MessageRepo) AppendMessage(ctx context.Context, conversationID uuid.UUID, senderUserID string, content string) (models.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.Message{}, fmt.Errorf("generate message id: %w", err)
	}

	var msg models.Message
	err = conn(ctx, r.db).QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_user_id, content) VALUES ($1, $2, $3, $4)
        RETURNING `+messageColumns, id, conversationID, senderUserID, content).StructScan(&msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// MarkRead marks every unread message the reader did not send as read.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID uuid.UUID, readerUserID string, now time.Time) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE messages SET is_read = TRUE, read_at = $3
        WHERE conversation_id = $1 AND sender_user_id <> $2 AND is_read = FALSE`, conversationID, readerUserID, now)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

// ListMessages returns up to limit messages older than before, oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID uuid.UUID, before *models.MessageCursor, limit int) ([]models.Message, error) {
	var (
		msgs []models.Message
		err  error
	)
	if before == nil {
		err = conn(ctx, r.db).SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE conversation_id = $1
            ORDER BY created_at DESC, id DESC
            LIMIT $2`, conversationID, limit)
	} else {
		err = conn(ctx, r.db).SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE conversation_id = $1 AND (created_at, id) < ($2, $3)
            ORDER BY created_at DESC, id DESC
            LIMIT $4`, conversationID, before.CreatedAt, before.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
