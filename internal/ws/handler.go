package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

const (
	maxFrameSize = 64 << 10
	readTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades client connections and runs their read loop.
type Handler struct {
	hub       *Hub
	messaging *messaging.Hub
	log       zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, messagingHub *messaging.Hub, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, messaging: messagingHub, log: logger}
}

// Handle upgrades the connection, resolves the caller and serves inbound
// frames until the client disconnects. Frames from one connection are
// handled strictly in order.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	conn := NewConnection(info, socket)
	h.hub.Register(conn)
	conn.Start()

	caller := h.messaging.OnConnect(ctx, info.ConnID, middleware.CredentialFromRequest(c.Request))
	conn.setUserID(caller.UserID)
	span.End()

	observability.IncWSActive(wsKind)
	h.publishLifecycle(ctx, conn, "ws_connect", "")
	h.log.Debug().Str("conn_id", info.ConnID).Str("user_id", caller.UserID).Msg("websocket connected")

	closeReason := h.readLoop(ctx, conn, socket, caller)

	h.hub.Remove(conn.ID)
	conn.Close(websocket.CloseNormalClosure, "session closed")
	observability.DecWSActive(wsKind)
	h.publishLifecycle(ctx, conn, "ws_disconnect", closeReason)
	h.log.Debug().Str("conn_id", info.ConnID).Str("reason", closeReason).Msg("websocket disconnected")
}

func (h *Handler) readLoop(ctx context.Context, conn *Connection, socket *websocket.Conn, caller messaging.Caller) string {
	socket.SetReadLimit(maxFrameSize)
	_ = socket.SetReadDeadline(time.Now().Add(readTimeout))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.publishLifecycle(ctx, conn, "ws_error", err.Error())
			}
			return err.Error()
		}
		_ = socket.SetReadDeadline(time.Now().Add(readTimeout))

		cmd, err := models.DecodeCommand(data)
		if err != nil {
			_ = conn.SendEvent(models.ErrorEvent{Operation: "decode", Message: err.Error()})
			continue
		}

		if err := h.dispatch(ctx, caller, cmd); err != nil {
			// store failures have no local recovery; fail the connection
			h.log.Error().Err(err).Str("conn_id", conn.ID).Str("command", cmd.CommandType()).Msg("command failed")
			conn.Close(websocket.CloseInternalServerErr, "internal error")
			return err.Error()
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, caller messaging.Caller, cmd models.Command) error {
	switch cmd := cmd.(type) {
	case models.SendDirectMessageCommand:
		return h.messaging.SendDirectMessage(ctx, caller, cmd.ToUserID, cmd.Content)
	case models.SubscribeEventCommand:
		return h.messaging.SubscribeEvent(ctx, caller, cmd.EventID)
	case models.MarkConversationReadCommand:
		_, err := h.messaging.MarkConversationRead(ctx, caller, cmd.ConversationID)
		return err
	}
	return nil
}

func (h *Handler) publishLifecycle(ctx context.Context, conn *Connection, event, reason string) {
	info := conn.Info()
	observability.IncWSEvent(wsKind, event)
	_ = observability.PublishEvent(ctx, observability.RoutingWSEvents,
		observability.NewEnvelope(ctx, "ws_events", event, info.RequestID, wsPayload(info, event, reason)))
}
