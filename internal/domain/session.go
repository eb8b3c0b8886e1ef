// Package domain defines the data structures of the collaborative session engine.
package domain

import "time"

// DefaultCode is the placeholder buffer every new session starts with.
const DefaultCode = "// New session started..."

// SessionTTL is the retention horizon: sessions older than this are eligible
// for expiry regardless of activity.
const SessionTTL = 24 * time.Hour

// Session is the root aggregate for one collaborative editing session.
// The SessionID doubles as the broadcast room identifier.
type Session struct {
	SessionID    string        `bson:"sessionId"`
	PasswordHash string        `bson:"password"`
	Owner        string        `bson:"owner"`
	Participants []Participant `bson:"users"`
	Code         string        `bson:"code"`
	Chat         []ChatMessage `bson:"chat"`
	Active       bool          `bson:"active"`
	CreatedAt    time.Time     `bson:"createdAt"`
}

// Participant is one live connection joined to a session. ConnectionID is
// ephemeral and never reused; UserID is the persistent identity supplied at
// join time.
type Participant struct {
	ConnectionID string `bson:"connectionId" json:"-"`
	UserID       string `bson:"userId" json:"-"`
	DisplayName  string `bson:"name" json:"name"`
	Role         Role   `bson:"role" json:"role"`
}

// ChatMessage is an append-only chat entry. Timestamp is assigned by the
// server at arrival, so chat ordering is server arrival order.
type ChatMessage struct {
	Author    string    `bson:"user" json:"user"`
	Text      string    `bson:"message" json:"message"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// ParticipantByConnection returns the participant entry for the given
// connection, or nil if the connection is not a member of the session.
func (s *Session) ParticipantByConnection(connectionID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ConnectionID == connectionID {
			return &s.Participants[i]
		}
	}
	return nil
}

// RoleForUser determines the role a joining user is assigned: the session
// creator joins as owner, everyone else as editor. Viewer is never assigned
// on join; it is reachable only through an explicit role change.
func (s *Session) RoleForUser(userID string) Role {
	if userID == s.Owner {
		return RoleOwner
	}
	return RoleEditor
}

// Roster is the public projection of the participant list used for
// user-list broadcasts.
func (s *Session) Roster() []RosterEntry {
	roster := make([]RosterEntry, 0, len(s.Participants))
	for _, p := range s.Participants {
		roster = append(roster, RosterEntry{Name: p.DisplayName, Role: p.Role})
	}
	return roster
}

// RosterEntry is one row of the broadcast participant list.
type RosterEntry struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}
