package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"codehive/internal/domain"
	"codehive/internal/executor"
	"codehive/internal/service"
)

// Dispatcher translates inbound client events into session service calls,
// execution jobs and room broadcasts. Every mutating event is guarded by the
// connection's explicit Joined state before it touches the store, and every
// validation or authorization failure is reported to the originating
// connection only.
type Dispatcher struct {
	hub      *Hub
	sessions *service.SessionService
	executor *executor.Orchestrator
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(h *Hub, sessions *service.SessionService, orch *executor.Orchestrator) *Dispatcher {
	if h == nil {
		panic("Hub cannot be nil for Dispatcher")
	}
	if sessions == nil {
		panic("SessionService cannot be nil for Dispatcher")
	}
	if orch == nil {
		panic("Orchestrator cannot be nil for Dispatcher")
	}
	return &Dispatcher{hub: h, sessions: sessions, executor: orch}
}

// Dispatch decodes one inbound frame and routes it. Called from the client's
// read goroutine, so one connection's events are processed in send order.
func (d *Dispatcher) Dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.SendError("Malformed event")
		return
	}

	ctx := context.Background()
	switch env.Event {
	case EventJoinSession:
		d.handleJoin(ctx, c, env.Payload)
	case EventCodeChange:
		d.handleCodeChange(ctx, c, env.Payload)
	case EventSendChat:
		d.handleChat(ctx, c, env.Payload)
	case EventChangeRole:
		d.handleChangeRole(ctx, c, env.Payload)
	case EventEndSession:
		d.handleEndSession(ctx, c, env.Payload)
	case EventLeave:
		d.handleLeave(ctx, c, env.Payload)
	case EventRunCode:
		d.handleRunCode(ctx, c, env.Payload)
	default:
		logrus.WithFields(logrus.Fields{
			"connection_id": c.ConnectionID(),
			"event":         env.Event,
		}).Warn("Unknown event type")
		c.SendError(fmt.Sprintf("Unknown event: %s", env.Event))
	}
}

func (d *Dispatcher) handleJoin(ctx context.Context, c *Client, raw json.RawMessage) {
	var p joinSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.SendError("Malformed join-session payload")
		return
	}
	if c.Joined(p.SessionID) {
		c.SendError("Already joined this session")
		return
	}

	result, err := d.sessions.Join(ctx, service.JoinParams{
		SessionID:    p.SessionID,
		Secret:       p.Password,
		ConnectionID: c.ConnectionID(),
		UserID:       p.UserID,
		DisplayName:  p.User,
	})
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) || errors.Is(err, service.ErrUnauthorized) {
			c.SendError("Invalid session or password")
		} else {
			c.SendError("Internal server error")
		}
		return
	}

	c.markJoined(p.SessionID)
	d.hub.joinRoom(p.SessionID, c)

	d.hub.Broadcast(p.SessionID, EventUserList, result.Roster, nil)
	d.hub.Broadcast(p.SessionID, EventUserJoined, map[string]string{"user": result.DisplayName}, c)
	c.Send(EventSessionData, map[string]interface{}{
		"code": result.Code,
		"chat": result.Chat,
		"role": result.Role,
	})
}

func (d *Dispatcher) handleCodeChange(ctx context.Context, c *Client, raw json.RawMessage) {
	var p codeChangePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.SendError("Malformed code-change payload")
		return
	}
	if !c.Joined(p.SessionID) {
		c.SendError(service.ErrNotJoined.Error())
		return
	}

	if err := d.sessions.SetCode(ctx, p.SessionID, c.ConnectionID(), p.Code); err != nil {
		d.sendServiceError(c, err)
		return
	}
	// The sender already has this buffer; everyone else gets the update.
	d.hub.Broadcast(p.SessionID, EventCodeUpdate, p.Code, c)
}

func (d *Dispatcher) handleChat(ctx context.Context, c *Client, raw json.RawMessage) {
	var p sendChatPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.SendError("Malformed send-chat-message payload")
		return
	}
	if !c.Joined(p.SessionID) {
		c.SendError(service.ErrNotJoined.Error())
		return
	}

	msg, err := d.sessions.AppendChat(ctx, p.SessionID, c.ConnectionID(), p.Message)
	if err != nil {
		d.sendServiceError(c, err)
		return
	}
	// Chat echoes back to the sender too.
	d.hub.Broadcast(p.SessionID, EventChatMessage, msg, nil)
}

func (d *Dispatcher) handleChangeRole(ctx context.Context, c *Client, raw json.RawMessage) {
	var p changeRolePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.SendError("Malformed change-role payload")
		return
	}
	if !c.Joined(p.SessionID) {
		c.SendError(service.ErrNotJoined.Error())
		return
	}
	role, err := domain.ParseRole(p.NewRole)
	if err != nil {
		c.SendError("Invalid role: " + p.NewRole)
		return
	}

	roster, err := d.sessions.ChangeRole(ctx, p.SessionID, c.ConnectionID(), p.TargetUser, role)
	if err != nil {
		d.sendServiceError(c, err)
		return
	}
	d.hub.Broadcast(p.SessionID, EventRoleUpdated, map[string]interface{}{
		"user":     p.TargetUser,
		"newRole":  role,
		"userList": roster,
	}, nil)
}

func (d *Dispatcher) handleEndSession(ctx context.Context, c *Client, raw json.RawMessage) {
	var p endSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.SendError("Malformed end-session payload")
		return
	}
	if !c.Joined(p.SessionID) {
		c.SendError(service.ErrNotJoined.Error())
		return
	}

	if err := d.sessions.End(ctx, p.SessionID, c.ConnectionID(), p.UserID); err != nil {
		d.sendServiceError(c, err)
		return
	}

	// Any in-flight execution dies with its session.
	d.executor.CancelSession(p.SessionID)
	d.hub.Broadcast(p.SessionID, EventSessionEnded, nil, nil)
	d.hub.CloseRoom(p.SessionID)
}

func (d *Dispatcher) handleLeave(ctx context.Context, c *Client, raw json.RawMessage) {
	var p leaveSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.SendError("Malformed leave-session payload")
		return
	}
	if !c.Joined(p.SessionID) {
		c.SendError(service.ErrNotJoined.Error())
		return
	}

	name, err := d.sessions.Leave(ctx, p.SessionID, c.ConnectionID())
	if err != nil {
		d.sendServiceError(c, err)
		return
	}

	c.markLeft(p.SessionID)
	d.hub.leaveRoom(p.SessionID, c)
	d.hub.Broadcast(p.SessionID, EventUserLeft, map[string]string{
		"user":    name,
		"message": name + " has left the session",
	}, nil)
}

func (d *Dispatcher) handleRunCode(ctx context.Context, c *Client, raw json.RawMessage) {
	var p runCodePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.SendError("Malformed run-code payload")
		return
	}
	if !c.Joined(p.SessionID) {
		c.SendError(service.ErrNotJoined.Error())
		return
	}
	if err := d.sessions.AuthorizeRun(ctx, p.SessionID, c.ConnectionID()); err != nil {
		d.sendServiceError(c, err)
		return
	}

	err := d.executor.Execute(ctx, executor.Job{
		SessionID: p.SessionID,
		Code:      p.Code,
		Language:  p.Language,
	})
	switch {
	case err == nil:
		// Accepted; output and the terminal signal arrive through the hub.
	case errors.Is(err, executor.ErrPolicyViolation):
		// The whole room sees the gate rejection in the shared terminal.
		d.hub.Output(p.SessionID, executor.ProhibitedPatternsMessage)
	case errors.Is(err, executor.ErrInvalidSession):
		c.SendError("Invalid session")
	case errors.Is(err, executor.ErrUnsupportedLanguage):
		c.SendError("Unsupported language: " + p.Language)
	case errors.Is(err, executor.ErrRunInFlight):
		c.SendError("An execution is already running for this session")
	default:
		c.SendError("Internal server error")
	}
}

// HandleDisconnect removes the connection from every session containing it
// and tells each affected room who left. Called once from the read pump on
// its way out.
func (d *Dispatcher) HandleDisconnect(c *Client) {
	ctx := context.Background()
	departures, err := d.sessions.DisconnectCleanup(ctx, c.ConnectionID())
	if err != nil {
		logrus.WithError(err).WithField("connection_id", c.ConnectionID()).Error("Disconnect cleanup failed")
		return
	}
	for _, dep := range departures {
		d.hub.Broadcast(dep.SessionID, EventUserLeft, map[string]string{
			"user":    dep.DisplayName,
			"message": dep.DisplayName + " has disconnected",
		}, c)
	}
	for _, sessionID := range c.joinedSessions() {
		c.markLeft(sessionID)
	}
}

// sendServiceError maps service errors onto the sender's error channel. The
// sentinel messages are user-safe; anything unexpected is masked.
func (d *Dispatcher) sendServiceError(c *Client, err error) {
	switch {
	case errors.Is(err, service.ErrNotJoined),
		errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrUserNotFound):
		c.SendError(err.Error())
	default:
		c.SendError("Internal server error")
	}
}
