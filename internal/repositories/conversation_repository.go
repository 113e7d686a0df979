package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation and membership persistence.
type ConversationRepository interface {
	FindDirectConversation(ctx context.Context, userA, userB string) (uuid.UUID, bool, error)
	CreateConversation(ctx context.Context, directKey string) (uuid.UUID, error)
	EnsureMembership(ctx context.Context, conversationID uuid.UUID, userID string) error
	IsMember(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error)
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	HideConversation(ctx context.Context, conversationID uuid.UUID, userID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// FindDirectConversation returns the oldest direct conversation in which both
// users hold a membership row, deleted or not.
func (r *ConversationRepo) FindDirectConversation(ctx context.Context, userA, userB string) (uuid.UUID, bool, error) {
	query := `SELECT c.id FROM conversations c
        JOIN conversation_members a ON a.conversation_id = c.id AND a.user_id = $1
        JOIN conversation_members b ON b.conversation_id = c.id AND b.user_id = $2
        WHERE c.is_direct = TRUE
        ORDER BY c.created_at ASC, c.id ASC
        LIMIT 1`
	var id uuid.UUID
	if err := conn(ctx, r.db).GetContext(ctx, &id, query, userA, userB); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("find direct conversation: %w", err)
	}
	return id, true, nil
}

// CreateConversation allocates a direct conversation for the pair key. When a
// concurrent caller already inserted the same key, the existing id is returned.
func (r *ConversationRepo) CreateConversation(ctx context.Context, directKey string) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate conversation id: %w", err)
	}

	var created uuid.UUID
	err = conn(ctx, r.db).GetContext(ctx, &created, `INSERT INTO conversations (id, is_direct, direct_key) VALUES ($1, TRUE, $2)
        ON CONFLICT (direct_key) DO NOTHING RETURNING id`, id, directKey)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("create conversation: %w", err)
	}

	// lost the race: read the winner's row
	if err := conn(ctx, r.db).GetContext(ctx, &created, `SELECT id FROM conversations WHERE direct_key=$1`, directKey); err != nil {
		return uuid.Nil, fmt.Errorf("read existing conversation: %w", err)
	}
	return created, nil
}

// EnsureMembership inserts the membership row or clears its soft-delete flag.
func (r *ConversationRepo) EnsureMembership(ctx context.Context, conversationID uuid.UUID, userID string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET is_deleted = FALSE`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("ensure membership: %w", err)
	}
	return nil
}

// IsMember checks whether the user holds a membership row for the conversation.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error) {
	var exists bool
	err := conn(ctx, r.db).GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// ListConversations returns the conversations the user has not cleared,
// most recently active first.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT c.id AS conversation_id,
            COALESCE(o.user_id, m.user_id) AS other_user_id,
            c.created_at,
            lm.content AS last_message,
            lm.created_at AS last_message_at,
            (SELECT COUNT(*) FROM messages u
                WHERE u.conversation_id = c.id AND u.is_read = FALSE AND u.sender_user_id <> $1) AS unread_count
        FROM conversation_members m
        JOIN conversations c ON c.id = m.conversation_id
        LEFT JOIN conversation_members o ON o.conversation_id = c.id AND o.user_id <> m.user_id
        LEFT JOIN LATERAL (
            SELECT content, created_at FROM messages
            WHERE conversation_id = c.id
            ORDER BY created_at DESC, id DESC
            LIMIT 1
        ) lm ON TRUE
        WHERE m.user_id = $1 AND m.is_deleted = FALSE
        ORDER BY COALESCE(lm.created_at, c.created_at) DESC`
	var result []models.ConversationSummary
	if err := conn(ctx, r.db).SelectContext(ctx, &result, query, userID); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return result, nil
}

// HideConversation soft-deletes the user's membership. The row is reactivated
// by the next message in the conversation.
func (r *ConversationRepo) HideConversation(ctx context.Context, conversationID uuid.UUID, userID string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE conversation_members SET is_deleted = TRUE WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("hide conversation: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}
