// Package websocket upgrades HTTP connections and hands them to the hub.
package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"codehive/internal/hub"
)

// Handler upgrades incoming requests to websocket connections and registers
// a client for each. Session membership is established later, over the
// connection itself, via join-session events.
type Handler struct {
	upgrader   websocket.Upgrader
	hub        *hub.Hub
	dispatcher *hub.Dispatcher
}

func NewHandler(h *hub.Hub, dispatcher *hub.Dispatcher) *Handler {
	if h == nil {
		panic("Hub cannot be nil for websocket Handler")
	}
	if dispatcher == nil {
		panic("Dispatcher cannot be nil for websocket Handler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// TODO: restrict origins once the frontend host is fixed
			return true
		},
	}
	return &Handler{upgrader: upgrader, hub: h, dispatcher: dispatcher}
}

// HandleConnection upgrades the request and starts the client pumps. The
// connection id is minted here and stays stable for the connection lifetime.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logrus.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	connectionID := uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"connection_id": connectionID,
		"remote_addr":   c.ClientIP(),
	}).Info("WS Handler: Connection upgraded")

	client := hub.NewClient(connectionID, conn, h.hub, h.dispatcher)
	client.Run()
}
