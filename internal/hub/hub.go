// Package hub tracks the connections of every workspace room and delivers
// messages to them.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/referencer/refsync/internal/logger"
)

// ErrConnectionGone is returned by SendTo when the client is no longer
// registered.
var ErrConnectionGone = errors.New("connection gone")

// Conn is one client socket. Send must not block; implementations queue the
// frame and fail when the socket can no longer accept it.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Hub is the workspace -> client -> connection registry.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn
	newID func() string
	log   *logger.Logger
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]Conn),
		newID: uuid.NewString,
		log:   logger.Global().WithPrefix("hub"),
	}
}

// Connect registers conn in the workspace room, creating the room if
// needed, and returns the new client ID.
func (h *Hub) Connect(workspaceID string, conn Conn) string {
	id := h.newID()

	h.mu.Lock()
	room, ok := h.rooms[workspaceID]
	if !ok {
		room = make(map[string]Conn)
		h.rooms[workspaceID] = room
	}
	room[id] = conn
	size := len(room)
	h.mu.Unlock()

	h.log.Debug("Client %s joined workspace %s (%d connected)", id, workspaceID, size)
	return id
}

// Disconnect removes the client. The room is dropped with its last client.
// Unknown clients are ignored.
func (h *Hub) Disconnect(workspaceID, clientID string) {
	h.mu.Lock()
	room, ok := h.rooms[workspaceID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := room[clientID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(room, clientID)
	if len(room) == 0 {
		delete(h.rooms, workspaceID)
	}
	h.mu.Unlock()

	h.log.Debug("Client %s left workspace %s", clientID, workspaceID)
}

func (h *Hub) lookup(workspaceID, clientID string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.rooms[workspaceID][clientID]
	return conn, ok
}

// SendTo serializes msg and sends it to one client. A client that is no
// longer registered yields ErrConnectionGone.
func (h *Hub) SendTo(workspaceID, clientID string, msg any) error {
	conn, ok := h.lookup(workspaceID, clientID)
	if !ok {
		return ErrConnectionGone
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("send to %s: %w", clientID, err)
	}
	return nil
}

// Broadcast serializes msg once and sends it to every client of the room
// except excludeClientID. It returns the number of clients reached; failed
// sockets are logged and skipped.
func (h *Hub) Broadcast(workspaceID string, msg any, excludeClientID string) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}
	return h.BroadcastRaw(workspaceID, data, excludeClientID), nil
}

// BroadcastRaw is Broadcast for an already serialized frame.
func (h *Hub) BroadcastRaw(workspaceID string, data []byte, excludeClientID string) int {
	type target struct {
		id   string
		conn Conn
	}

	h.mu.RLock()
	room := h.rooms[workspaceID]
	targets := make([]target, 0, len(room))
	for id, conn := range room {
		if id != excludeClientID {
			targets = append(targets, target{id, conn})
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, t := range targets {
		if err := t.conn.Send(data); err != nil {
			h.log.Warn("Broadcast to %s in workspace %s failed: %v", t.id, workspaceID, err)
			continue
		}
		sent++
	}
	return sent
}

// RoomSize returns the number of clients in the workspace room.
func (h *Hub) RoomSize(workspaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[workspaceID])
}

// RoomCount returns the number of rooms with at least one client.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// CloseAll closes every registered connection. Registrations are removed
// by the connections' own disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var conns []Conn
	for _, room := range h.rooms {
		for _, conn := range room {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
