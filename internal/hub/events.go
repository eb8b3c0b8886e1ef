package hub

import (
	"encoding/json"
	"fmt"
)

// Client-emitted event names.
const (
	EventJoinSession = "join-session"
	EventCodeChange  = "code-change"
	EventSendChat    = "send-chat-message"
	EventChangeRole  = "change-role"
	EventEndSession  = "end-session"
	EventLeave       = "leave-session"
	EventRunCode     = "run-code"
)

// Server-emitted event names.
const (
	EventUserList          = "user-list"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventSessionData       = "session-data"
	EventCodeUpdate        = "code-update"
	EventChatMessage       = "chat-message"
	EventRoleUpdated       = "role-updated"
	EventSessionEnded      = "session-ended"
	EventTerminalOutput    = "terminal-output"
	EventExecutionComplete = "execution-complete"
	EventError             = "error"
)

// Envelope is the wire frame for every realtime event in either direction.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payloads. Field names follow the wire contract.

type joinSessionPayload struct {
	SessionID string `json:"sessionId"`
	Password  string `json:"password"`
	User      string `json:"user"`
	UserID    string `json:"userId"`
}

type codeChangePayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

type sendChatPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type changeRolePayload struct {
	SessionID  string `json:"sessionId"`
	TargetUser string `json:"targetUser"`
	NewRole    string `json:"newRole"`
}

type endSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type leaveSessionPayload struct {
	SessionID string `json:"sessionId"`
}

type runCodePayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

// encodeEvent frames an outbound event.
func encodeEvent(event string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		raw = data
	}
	frame, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}
