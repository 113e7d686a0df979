package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) FindDirectConversation(ctx context.Context, userA, userB string) (uuid.UUID, bool, error) {
	args := m.Called(ctx, userA, userB)
	return args.Get(0).(uuid.UUID), args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) CreateConversation(ctx context.Context, directKey string) (uuid.UUID, error) {
	args := m.Called(ctx, directKey)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *ConversationRepositoryMock) EnsureMembership(ctx context.Context, conversationID uuid.UUID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) IsMember(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) HideConversation(ctx context.Context, conversationID uuid.UUID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) AppendMessage(ctx context.Context, conversationID uuid.UUID, senderUserID string, content string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderUserID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, conversationID uuid.UUID, readerUserID string, now time.Time) (int64, error) {
	args := m.Called(ctx, conversationID, readerUserID, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID uuid.UUID, before *models.MessageCursor, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, before, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type BlockRepositoryMock struct {
	mock.Mock
}

func (m *BlockRepositoryMock) IsBlockedEitherDirection(ctx context.Context, userA, userB string) (bool, error) {
	args := m.Called(ctx, userA, userB)
	return args.Bool(0), args.Error(1)
}

func (m *BlockRepositoryMock) Block(ctx context.Context, blockerUserID, blockedUserID string) (bool, error) {
	args := m.Called(ctx, blockerUserID, blockedUserID)
	return args.Bool(0), args.Error(1)
}

func (m *BlockRepositoryMock) Unblock(ctx context.Context, blockerUserID, blockedUserID string) (bool, error) {
	args := m.Called(ctx, blockerUserID, blockedUserID)
	return args.Bool(0), args.Error(1)
}

func (m *BlockRepositoryMock) ListBlocked(ctx context.Context, blockerUserID string) ([]models.UserBlock, error) {
	args := m.Called(ctx, blockerUserID)
	var blocks []models.UserBlock
	if val := args.Get(0); val != nil {
		blocks = val.([]models.UserBlock)
	}
	return blocks, args.Error(1)
}

// GroupBrokerMock satisfies messaging.GroupBroker.
type GroupBrokerMock struct {
	mock.Mock
}

func (m *GroupBrokerMock) Join(connID, group string) {
	m.Called(connID, group)
}

func (m *GroupBrokerMock) Push(ctx context.Context, group string, event models.Event) error {
	args := m.Called(ctx, group, event)
	return args.Error(0)
}

func (m *GroupBrokerMock) Send(connID string, event models.Event) error {
	args := m.Called(connID, event)
	return args.Error(0)
}

type IdentityResolverMock struct {
	mock.Mock
}

func (m *IdentityResolverMock) Resolve(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.BlockRepository = (*BlockRepositoryMock)(nil)
