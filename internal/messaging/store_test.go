package messaging

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"messaging-service/internal/models"
)

// memStore implements the three repositories over maps so the hub can be
// exercised end to end. Uniqueness mirrors the database constraints.
type memStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]models.Conversation
	byKey         map[string]uuid.UUID
	members       map[uuid.UUID]map[string]*models.ConversationMember
	messages      []models.Message
	blocks        map[[2]string]models.UserBlock
	clock         time.Time
}

func newMemStore() *memStore {
	return &memStore{
		conversations: map[uuid.UUID]models.Conversation{},
		byKey:         map[string]uuid.UUID{},
		members:       map[uuid.UUID]map[string]*models.ConversationMember{},
		blocks:        map[[2]string]models.UserBlock{},
		clock:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *memStore) FindDirectConversation(_ context.Context, userA, userB string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []models.Conversation
	for id, members := range s.members {
		_, okA := members[userA]
		_, okB := members[userB]
		if okA && okB && s.conversations[id].IsDirect {
			found = append(found, s.conversations[id])
		}
	}
	if len(found) == 0 {
		return uuid.Nil, false, nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	return found[0].ID, true, nil
}

func (s *memStore) CreateConversation(_ context.Context, directKey string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[directKey]; ok {
		return id, nil
	}
	key := directKey
	conv := models.Conversation{ID: uuid.New(), IsDirect: true, DirectKey: &key, CreatedAt: s.tick()}
	s.conversations[conv.ID] = conv
	s.byKey[directKey] = conv.ID
	return conv.ID, nil
}

func (s *memStore) EnsureMembership(_ context.Context, conversationID uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.members[conversationID]
	if members == nil {
		members = map[string]*models.ConversationMember{}
		s.members[conversationID] = members
	}
	if m, ok := members[userID]; ok {
		m.IsDeleted = false
		return nil
	}
	members[userID] = &models.ConversationMember{ConversationID: conversationID, UserID: userID, JoinedAt: s.tick()}
	return nil
}

func (s *memStore) IsMember(_ context.Context, conversationID uuid.UUID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[conversationID][userID]
	return ok, nil
}

func (s *memStore) ListConversations(_ context.Context, userID string) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ConversationSummary
	for id, members := range s.members {
		if m, ok := members[userID]; ok && !m.IsDeleted {
			out = append(out, models.ConversationSummary{ConversationID: id, CreatedAt: s.conversations[id].CreatedAt})
		}
	}
	return out, nil
}

func (s *memStore) HideConversation(_ context.Context, conversationID uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[conversationID][userID]; ok {
		m.IsDeleted = true
	}
	return nil
}

func (s *memStore) AppendMessage(_ context.Context, conversationID uuid.UUID, senderUserID string, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := models.Message{ID: uuid.New(), ConversationID: conversationID, SenderUserID: senderUserID, Content: content, CreatedAt: s.tick()}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memStore) MarkRead(_ context.Context, conversationID uuid.UUID, readerUserID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ConversationID == conversationID && m.SenderUserID != readerUserID && !m.IsRead {
			readAt := now
			m.IsRead, m.ReadAt = true, &readAt
			count++
		}
	}
	return count, nil
}

func (s *memStore) ListMessages(_ context.Context, conversationID uuid.UUID, _ *models.MessageCursor, _ int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memStore) IsBlockedEitherDirection(_ context.Context, userA, userB string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ab := s.blocks[[2]string{userA, userB}]
	_, ba := s.blocks[[2]string{userB, userA}]
	return ab || ba, nil
}

func (s *memStore) Block(_ context.Context, blocker, blocked string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{blocker, blocked}
	if _, ok := s.blocks[key]; ok {
		return false, nil
	}
	s.blocks[key] = models.UserBlock{ID: uuid.New(), BlockerUserID: blocker, BlockedUserID: blocked, CreatedAt: s.tick()}
	return true, nil
}

func (s *memStore) Unblock(_ context.Context, blocker, blocked string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{blocker, blocked}
	_, ok := s.blocks[key]
	delete(s.blocks, key)
	return ok, nil
}

func (s *memStore) ListBlocked(_ context.Context, blocker string) ([]models.UserBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UserBlock
	for key, b := range s.blocks {
		if key[0] == blocker {
			out = append(out, b)
		}
	}
	return out, nil
}

// WithinTx restores every map when fn fails, like a rolled back transaction.
func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	saved := s.snapshot()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.conversations, s.byKey, s.members, s.messages, s.blocks, s.clock =
			saved.conversations, saved.byKey, saved.members, saved.messages, saved.blocks, saved.clock
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) snapshot() *memStore {
	out := &memStore{
		conversations: make(map[uuid.UUID]models.Conversation, len(s.conversations)),
		byKey:         make(map[string]uuid.UUID, len(s.byKey)),
		members:       make(map[uuid.UUID]map[string]*models.ConversationMember, len(s.members)),
		messages:      append([]models.Message(nil), s.messages...),
		blocks:        make(map[[2]string]models.UserBlock, len(s.blocks)),
		clock:         s.clock,
	}
	for k, v := range s.conversations {
		out.conversations[k] = v
	}
	for k, v := range s.byKey {
		out.byKey[k] = v
	}
	for id, members := range s.members {
		copied := make(map[string]*models.ConversationMember, len(members))
		for user, m := range members {
			row := *m
			copied[user] = &row
		}
		out.members[id] = copied
	}
	for k, v := range s.blocks {
		out.blocks[k] = v
	}
	return out
}

// failingAppendStore fails every message insert after the conversation work
// has already been done.
type failingAppendStore struct {
	*memStore
	err error
}

func (s failingAppendStore) AppendMessage(context.Context, uuid.UUID, string, string) (models.Message, error) {
	return models.Message{}, s.err
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *memStore) memberRows(conversationID uuid.UUID) map[string]models.ConversationMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]models.ConversationMember{}
	for id, m := range s.members[conversationID] {
		out[id] = *m
	}
	return out
}

// recordingBroker keeps group membership and captures every delivered event
// per connection.
type recordingBroker struct {
	mu       sync.Mutex
	groups   map[string]map[string]struct{}
	received map[string][]models.Event
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{groups: map[string]map[string]struct{}{}, received: map[string][]models.Event{}}
}

func (b *recordingBroker) Join(connID, group string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.groups[group] == nil {
		b.groups[group] = map[string]struct{}{}
	}
	b.groups[group][connID] = struct{}{}
}

func (b *recordingBroker) Push(_ context.Context, group string, event models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for connID := range b.groups[group] {
		b.received[connID] = append(b.received[connID], event)
	}
	return nil
}

func (b *recordingBroker) Send(connID string, event models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received[connID] = append(b.received[connID], event)
	return nil
}

func (b *recordingBroker) events(connID string) []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Event(nil), b.received[connID]...)
}

func (b *recordingBroker) inGroup(connID, group string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.groups[group][connID]
	return ok
}

type tokenResolver map[string]string

func (r tokenResolver) Resolve(_ context.Context, token string) (string, error) {
	if id, ok := r[token]; ok {
		return id, nil
	}
	return "", errUnknownToken
}
