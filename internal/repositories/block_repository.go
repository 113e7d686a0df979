package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// BlockRepository records and queries directional blocks.
type BlockRepository interface {
	IsBlockedEitherDirection(ctx context.Context, userA, userB string) (bool, error)
	Block(ctx context.Context, blockerUserID, blockedUserID string) (bool, error)
	Unblock(ctx context.Context, blockerUserID, blockedUserID string) (bool, error)
	ListBlocked(ctx context.Context, blockerUserID string) ([]models.UserBlock, error)
}

// BlockRepo is a sqlx implementation of BlockRepository.
type BlockRepo struct {
	db *sqlx.DB
}

// NewBlockRepo constructs a BlockRepo.
func NewBlockRepo(db *sqlx.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

// IsBlockedEitherDirection reports whether either user blocked the other.
func (r *BlockRepo) IsBlockedEitherDirection(ctx context.Context, userA, userB string) (bool, error) {
	var blocked bool
	err := conn(ctx, r.db).GetContext(ctx, &blocked, `SELECT EXISTS(SELECT 1 FROM user_blocks
        WHERE (blocker_user_id=$1 AND blocked_user_id=$2) OR (blocker_user_id=$2 AND blocked_user_id=$1))`, userA, userB)
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return blocked, nil
}

// Block records the block; it reports false when it already existed.
func (r *BlockRepo) Block(ctx context.Context, blockerUserID, blockedUserID string) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `INSERT INTO user_blocks (id, blocker_user_id, blocked_user_id) VALUES ($1, $2, $3)
        ON CONFLICT (blocker_user_id, blocked_user_id) DO NOTHING`, uuid.New(), blockerUserID, blockedUserID)
	if err != nil {
		return false, fmt.Errorf("block user: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Unblock removes the block; it reports false when there was none.
func (r *BlockRepo) Unblock(ctx context.Context, blockerUserID, blockedUserID string) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM user_blocks WHERE blocker_user_id=$1 AND blocked_user_id=$2`, blockerUserID, blockedUserID)
	if err != nil {
		return false, fmt.Errorf("unblock user: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListBlocked returns the blocks created by the user, newest first.
func (r *BlockRepo) ListBlocked(ctx context.Context, blockerUserID string) ([]models.UserBlock, error) {
	var blocks []models.UserBlock
	err := conn(ctx, r.db).SelectContext(ctx, &blocks, `SELECT id, blocker_user_id, blocked_user_id, created_at FROM user_blocks
        WHERE blocker_user_id=$1 ORDER BY created_at DESC`, blockerUserID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return blocks, nil
}
