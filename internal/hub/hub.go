// Package hub manages live connections, session rooms and the realtime
// event protocol between them.
package hub

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub is the room registry: which connections are currently joined to which
// session. Broadcasts are scoped to a room and use non-blocking sends so a
// slow client never stalls the rest of the room.
//
// The hub also serves as the execution orchestrator's output sink, relaying
// terminal output and completion signals into the owning session's room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]bool)}
}

// joinRoom adds the client to a session's room, creating it when needed.
func (h *Hub) joinRoom(sessionID string, client *Client) {
	h.mu.Lock()
	if _, ok := h.rooms[sessionID]; !ok {
		h.rooms[sessionID] = make(map[*Client]bool)
	}
	h.rooms[sessionID][client] = true
	h.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"connection_id": client.ConnectionID(),
	}).Debug("Connection joined room")
}

// leaveRoom removes the client from a session's room, dropping the room when
// it empties.
func (h *Hub) leaveRoom(sessionID string, client *Client) {
	h.mu.Lock()
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	h.mu.Unlock()
}

// removeClient removes the client from every room it occupies.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	for sessionID, room := range h.rooms {
		if room[client] {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, sessionID)
			}
		}
	}
	h.mu.Unlock()
}

// Broadcast frames an event and delivers it to every connection in the room,
// excluding except when non-nil. A connection joining mid-broadcast is not
// guaranteed to see messages already in flight.
func (h *Hub) Broadcast(sessionID, event string, payload interface{}, except *Client) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to encode broadcast event")
		return
	}

	h.mu.RLock()
	room := h.rooms[sessionID]
	recipients := make([]*Client, 0, len(room))
	for client := range room {
		if client != except {
			recipients = append(recipients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range recipients {
		client.enqueue(frame)
	}
}

// CloseRoom delivers nothing further: it force-disconnects every connection
// still in the room. Used after a session-ended broadcast.
func (h *Hub) CloseRoom(sessionID string) {
	h.mu.Lock()
	room := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	h.mu.Unlock()

	for client := range room {
		client.markLeft(sessionID)
		client.closeSend()
	}
	if len(room) > 0 {
		logrus.WithFields(logrus.Fields{
			"session_id":  sessionID,
			"connections": len(room),
		}).Info("Room closed, members disconnected")
	}
}

// RoomSize reports the number of connections currently in a room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Output implements the execution output sink: one streamed chunk for the room.
func (h *Hub) Output(sessionID, chunk string) {
	h.Broadcast(sessionID, EventTerminalOutput, map[string]string{
		"sessionId": sessionID,
		"output":    chunk,
	}, nil)
}

// Completed implements the execution output sink terminal signal.
func (h *Hub) Completed(sessionID string) {
	h.Broadcast(sessionID, EventExecutionComplete, map[string]string{
		"sessionId": sessionID,
	}, nil)
}
