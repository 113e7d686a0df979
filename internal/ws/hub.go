package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

const wsKind = "direct"

// Hub tracks live connections and the named groups they belong to. Group
// membership lives only as long as the connection; Remove is the teardown
// hook and must be called when the socket closes.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	groups     map[string]map[string]*Connection
	connGroups map[string]map[string]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:      make(map[string]*Connection),
		groups:     make(map[string]map[string]*Connection),
		connGroups: make(map[string]map[string]struct{}),
	}
}

// Register makes the connection addressable by id.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.onSlow = h.publishSlowConsumer
	h.conns[conn.ID] = conn
	if _, ok := h.connGroups[conn.ID]; !ok {
		h.connGroups[conn.ID] = make(map[string]struct{})
	}
}

// Remove drops the connection and all of its group memberships.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connID)
	for group := range h.connGroups[connID] {
		h.leaveLocked(connID, group)
	}
	delete(h.connGroups, connID)
}

// Join adds a registered connection to the group. Joining twice is a no-op;
// unknown connections are ignored.
func (h *Hub) Join(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Connection)
		h.groups[group] = members
	}
	members[connID] = conn
	h.connGroups[connID][group] = struct{}{}
}

// Leave removes the connection from one group.
func (h *Hub) Leave(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, group)
}

func (h *Hub) leaveLocked(connID, group string) {
	if members, ok := h.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	if groups, ok := h.connGroups[connID]; ok {
		delete(groups, group)
	}
}

// Push encodes the event once and enqueues it on every connection in the
// group. A group with no connections is a silent no-op.
func (h *Hub) Push(_ context.Context, group string, event models.Event) error {
	payload, err := models.EncodeEvent(event)
	if err != nil {
		return err
	}
	h.Deliver(group, payload)
	return nil
}

// Deliver enqueues an already encoded frame and reports how many
// connections accepted it.
func (h *Hub) Deliver(group string, payload []byte) int {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.groups[group]))
	for _, conn := range h.groups[group] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Send delivers the event to a single connection.
func (h *Hub) Send(connID string, event models.Event) error {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrConnectionClosed
	}
	return conn.SendEvent(event)
}

// GroupSize returns the number of connections currently in the group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Close terminates every tracked connection and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.groups = make(map[string]map[string]*Connection)
	h.connGroups = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) publishSlowConsumer(conn *Connection) {
	info := conn.Info()
	observability.IncWSEvent(wsKind, "ws_error")
	_ = observability.PublishEvent(context.Background(), observability.RoutingWSEvents,
		observability.NewEnvelope(context.Background(), "ws_events", "ws_error", info.RequestID, wsPayload(info, "ws_error", "send buffer full")))
}

func wsPayload(info ConnInfo, event, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        wsKind,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}
