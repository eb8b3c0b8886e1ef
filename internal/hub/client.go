package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Code buffers ride the channel,
	// so this is generous.
	maxMessageSize = 256 * 1024

	sendBufferSize = 256
)

// Client is one live WebSocket connection. Every inbound event is processed
// in the connection's own read goroutine, so events from one connection are
// handled strictly in the order they were sent while connections stay
// independent of each other.
//
// Connection state machine: Unjoined → Joined(session...) → Left/Disconnected.
// The joined set tracks which session rooms this connection is a member of;
// a connection may, rarely, join more than one session.
type Client struct {
	connectionID string
	conn         *websocket.Conn
	hub          *Hub
	dispatcher   *Dispatcher
	send         chan []byte

	mu     sync.Mutex
	joined map[string]bool
	closed bool
}

// NewClient creates a Client for an upgraded connection.
func NewClient(connectionID string, conn *websocket.Conn, h *Hub, d *Dispatcher) *Client {
	return &Client{
		connectionID: connectionID,
		conn:         conn,
		hub:          h,
		dispatcher:   d,
		send:         make(chan []byte, sendBufferSize),
		joined:       make(map[string]bool),
	}
}

// ConnectionID returns the ephemeral connection identity.
func (c *Client) ConnectionID() string { return c.connectionID }

// Run starts the read and write pumps.
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

// Joined reports whether this connection is currently a member of the session.
func (c *Client) Joined(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[sessionID]
}

func (c *Client) markJoined(sessionID string) {
	c.mu.Lock()
	c.joined[sessionID] = true
	c.mu.Unlock()
}

func (c *Client) markLeft(sessionID string) {
	c.mu.Lock()
	delete(c.joined, sessionID)
	c.mu.Unlock()
}

// joinedSessions returns the sessions this connection is a member of.
func (c *Client) joinedSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessions := make([]string, 0, len(c.joined))
	for id := range c.joined {
		sessions = append(sessions, id)
	}
	return sessions
}

// Send frames an event and queues it for delivery to this client only.
// Delivery is non-blocking: if the client's buffer is full the message is
// dropped and the write pump will eventually tear the connection down.
func (c *Client) Send(event string, payload interface{}) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		logrus.WithError(err).WithField("connection_id", c.connectionID).Error("Failed to encode event")
		return
	}
	c.enqueue(frame)
}

// SendError reports a failure to this connection only. Errors are never
// broadcast to the room.
func (c *Client) SendError(message string) {
	c.Send(EventError, map[string]string{"message": message})
}

// enqueue queues one frame without blocking. The channel send happens under
// the same mutex closeSend takes, so a concurrent close can never turn it
// into a send on a closed channel.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		logrus.WithField("connection_id", c.connectionID).Warn("Client send buffer full, dropping message")
	}
}

// closeSend shuts the outbound channel exactly once, which makes the write
// pump exit and close the connection.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps inbound frames to the dispatcher. On any read error the
// connection is treated as disconnected and cleaned out of every session.
func (c *Client) readPump() {
	logCtx := logrus.WithField("connection_id", c.connectionID)
	defer func() {
		c.dispatcher.HandleDisconnect(c)
		c.hub.removeClient(c)
		c.closeSend()
		c.conn.Close()
		logCtx.Info("Read pump exited, connection cleaned up")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed")
			}
			break
		}
		if messageType != websocket.TextMessage {
			logCtx.Debugf("Ignoring non-text message type %d", messageType)
			continue
		}
		// Processed inline: per-connection event ordering is the contract.
		c.dispatcher.Dispatch(c, message)
	}
}

// writePump pumps queued frames to the connection and keeps it alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	logCtx := logrus.WithField("connection_id", c.connectionID)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logCtx.Debug("Write pump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logCtx.WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logCtx.WithError(err).Warn("Failed to send ping")
				return
			}
		}
	}
}
