// Package messaging binds the conversation, message and block stores to the
// connection groups and enforces the direct-message delivery rules.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

const DefaultMaxContentLength = 2000

var ErrInvalidContent = errors.New("invalid content")

var tracer = otel.Tracer("messaging-service/messaging")

// GroupBroker fans events out to named groups of live connections.
type GroupBroker interface {
	Join(connID, group string)
	Push(ctx context.Context, group string, event models.Event) error
	Send(connID string, event models.Event) error
}

// IdentityResolver maps a connection credential to a user id.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Caller is the connection invoking a hub operation. UserID is empty when the
// connection's credential could not be resolved.
type Caller struct {
	ConnID string
	UserID string
}

func (c Caller) Identified() bool {
	return c.UserID != ""
}

func UserGroup(userID string) string {
	return "user:" + userID
}

func EventGroup(eventID uuid.UUID) string {
	return "event:" + eventID.String()
}

// Hub is stateless between calls; all shared state lives in the stores and
// the broker.
type Hub struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	blocks        repositories.BlockRepository
	tx            repositories.Transactor
	broker        GroupBroker
	resolver      IdentityResolver
	log           zerolog.Logger
	maxContent    int
	now           func() time.Time
}

type Option func(*Hub)

func WithMaxContentLength(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxContent = n
		}
	}
}

// WithTransactor makes conversation resolution and the message append one
// atomic unit.
func WithTransactor(tx repositories.Transactor) Option {
	return func(h *Hub) {
		if tx != nil {
			h.tx = tx
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Hub) { h.log = logger }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// NewHub builds a Hub.
func NewHub(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	blocks repositories.BlockRepository,
	broker GroupBroker,
	resolver IdentityResolver,
	opts ...Option,
) *Hub {
	h := &Hub{
		conversations: conversations,
		messages:      messages,
		blocks:        blocks,
		tx:            noTx{},
		broker:        broker,
		resolver:      resolver,
		log:           zerolog.Nop(),
		maxContent:    DefaultMaxContentLength,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MaxContentLength is the longest accepted message, in characters.
func (h *Hub) MaxContentLength() int {
	return h.maxContent
}

// OnConnect resolves the connection's identity and joins it to its user
// group. Unresolvable credentials leave the connection unidentified.
func (h *Hub) OnConnect(ctx context.Context, connID, credential string) Caller {
	caller := Caller{ConnID: connID}
	if strings.TrimSpace(credential) == "" {
		return caller
	}

	userID, err := h.resolver.Resolve(ctx, credential)
	if err != nil {
		h.log.Debug().Err(err).Str("conn_id", connID).Msg("identity not resolved")
		return caller
	}

	caller.UserID = userID
	h.broker.Join(connID, UserGroup(userID))
	return caller
}

// SendDirectMessage validates, persists and fans out a direct message.
// Validation and policy failures are reported to the caller as a
// ReceiveDirectMessageError event and return nil; only store failures are
// returned.
func (h *Hub) SendDirectMessage(ctx context.Context, caller Caller, toUserID, content string) error {
	ctx, span := tracer.Start(ctx, "messaging.SendDirectMessage", trace.WithAttributes(
		attribute.String("messaging.from_user_id", caller.UserID),
	))
	defer span.End()

	// store writes must complete even if the caller disconnects mid-send
	ctx = context.WithoutCancel(ctx)

	to := strings.TrimSpace(toUserID)
	if reason, msg, ok := h.validateSend(caller, to, content); !ok {
		return h.rejectSend(ctx, caller, to, reason, msg)
	}

	blocked, err := h.blocks.IsBlockedEitherDirection(ctx, caller.UserID, to)
	if err != nil {
		return failSpan(span, err)
	}
	if blocked {
		return h.rejectSend(ctx, caller, to, "blocked", "messaging between these users is blocked")
	}

	var (
		conversationID uuid.UUID
		msg            models.Message
	)
	err = h.tx.WithinTx(ctx, func(ctx context.Context) error {
		id, err := h.resolveConversation(ctx, caller.UserID, to)
		if err != nil {
			return err
		}
		stored, err := h.messages.AppendMessage(ctx, id, caller.UserID, content)
		if err != nil {
			return err
		}
		conversationID, msg = id, stored
		return nil
	})
	if err != nil {
		return failSpan(span, err)
	}
	span.SetAttributes(attribute.String("messaging.conversation_id", conversationID.String()))

	event := models.DirectMessageEvent{
		ConversationID: conversationID,
		FromUserID:     caller.UserID,
		ToUserID:       to,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		MessageID:      msg.ID,
	}
	for _, group := range []string{UserGroup(caller.UserID), UserGroup(to)} {
		if err := h.broker.Push(ctx, group, event); err != nil {
			// the message is durable; clients reconcile through history
			h.log.Warn().Err(err).Str("group", group).Str("message_id", msg.ID.String()).Msg("push failed")
		}
	}
	observability.IncMessagesSent()

	_ = observability.PublishEvent(ctx, observability.RoutingDirectMessageSent,
		observability.NewEnvelope(ctx, "messaging", "direct_message_sent", "", map[string]interface{}{
			"conversation_id": conversationID,
			"message_id":      msg.ID,
			"from_user_id":    caller.UserID,
			"to_user_id":      to,
			"created_at":      msg.CreatedAt,
		}))
	return nil
}

func (h *Hub) validateSend(caller Caller, to, content string) (reason, message string, ok bool) {
	switch {
	case !caller.Identified():
		return "unidentified", "sender identity is required", false
	case to == "":
		return "missing_recipient", "recipient is required", false
	case strings.TrimSpace(content) == "":
		return "empty_content", "message content is required", false
	case !validText(content):
		return "invalid_content", "message content is not valid text", false
	case utf8.RuneCountInString(content) > h.maxContent:
		return "content_too_long", fmt.Sprintf("message content exceeds %d characters", h.maxContent), false
	case to == caller.UserID:
		return "self_send", "cannot send a message to yourself", false
	}
	return "", "", true
}

func (h *Hub) rejectSend(ctx context.Context, caller Caller, to, reason, message string) error {
	observability.IncSendRejected(reason)
	h.notifyCaller(ctx, caller, models.DirectMessageErrorEvent{ToUserID: to, Message: message})
	return nil
}

// resolveConversation finds or creates the direct conversation and makes
// sure both participants hold active membership rows.
func (h *Hub) resolveConversation(ctx context.Context, from, to string) (uuid.UUID, error) {
	id, found, err := h.conversations.FindDirectConversation(ctx, from, to)
	if err != nil {
		return uuid.Nil, err
	}
	if !found {
		id, err = h.conversations.CreateConversation(ctx, models.DirectKey(from, to))
		if err != nil {
			return uuid.Nil, err
		}
	}

	participants := []string{from}
	if to != from {
		participants = append(participants, to)
	}
	for _, userID := range participants {
		if err := h.conversations.EnsureMembership(ctx, id, userID); err != nil {
			return uuid.Nil, err
		}
	}
	return id, nil
}

// SubscribeEvent joins the caller's connection to the event topic group.
func (h *Hub) SubscribeEvent(ctx context.Context, caller Caller, eventID string) error {
	id, err := uuid.Parse(strings.TrimSpace(eventID))
	if err != nil {
		h.notifyCaller(ctx, caller, models.ErrorEvent{Operation: models.CommandSubscribeEvent, Message: "invalid event id"})
		return nil
	}
	h.broker.Join(caller.ConnID, EventGroup(id))
	return nil
}

// MarkConversationRead is the connection-facing form of MarkRead.
func (h *Hub) MarkConversationRead(ctx context.Context, caller Caller, conversationID string) (int64, error) {
	if !caller.Identified() {
		h.notifyCaller(ctx, caller, models.ErrorEvent{Operation: models.CommandMarkConversationRead, Message: "sender identity is required"})
		return 0, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(conversationID))
	if err != nil {
		h.notifyCaller(ctx, caller, models.ErrorEvent{Operation: models.CommandMarkConversationRead, Message: "invalid conversation id"})
		return 0, nil
	}
	return h.MarkRead(ctx, caller.UserID, id)
}

// MarkRead marks every unread message the reader did not send as read.
// Conversations the reader does not belong to affect zero rows. No receipt is
// pushed to the sender.
func (h *Hub) MarkRead(ctx context.Context, readerUserID string, conversationID uuid.UUID) (int64, error) {
	ctx, span := tracer.Start(ctx, "messaging.MarkRead", trace.WithAttributes(
		attribute.String("messaging.conversation_id", conversationID.String()),
	))
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	member, err := h.conversations.IsMember(ctx, conversationID, readerUserID)
	if err != nil {
		return 0, failSpan(span, err)
	}
	if !member {
		return 0, nil
	}

	count, err := h.messages.MarkRead(ctx, conversationID, readerUserID, h.now().UTC())
	if err != nil {
		return 0, failSpan(span, err)
	}
	observability.AddMessagesRead(count)
	return count, nil
}

// PublishEventAnnouncement broadcasts text to every connection subscribed to
// the event.
func (h *Hub) PublishEventAnnouncement(ctx context.Context, eventID uuid.UUID, authorUserID, text string) (models.EventAnnouncement, error) {
	if strings.TrimSpace(text) == "" || !validText(text) || utf8.RuneCountInString(text) > h.maxContent {
		return models.EventAnnouncement{}, ErrInvalidContent
	}

	announcement := models.EventAnnouncement{
		EventID:      eventID,
		AuthorUserID: authorUserID,
		Text:         text,
		CreatedAt:    h.now().UTC(),
	}
	// local subscribers already have it when a relay publish fails
	if err := h.broker.Push(ctx, EventGroup(eventID), announcement); err != nil {
		h.log.Warn().Err(err).Str("event_id", eventID.String()).Msg("announcement fan-out incomplete")
	}
	_ = observability.PublishEvent(ctx, observability.RoutingAnnouncement,
		observability.NewEnvelope(ctx, "messaging", "event_announcement_sent", "", announcement))
	return announcement, nil
}

// notifyCaller delivers a caller-facing error to the caller's user group, or
// straight to the connection when the caller has no identity.
func (h *Hub) notifyCaller(ctx context.Context, caller Caller, event models.Event) {
	var err error
	if caller.Identified() {
		err = h.broker.Push(ctx, UserGroup(caller.UserID), event)
	} else {
		err = h.broker.Send(caller.ConnID, event)
	}
	if err != nil {
		h.log.Debug().Err(err).Str("conn_id", caller.ConnID).Str("event", event.EventType()).Msg("caller notification dropped")
	}
}

// validText rejects content Postgres text columns cannot store.
func validText(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}

type noTx struct{}

func (noTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
