package repository

import (
	"context"
	"time"

	"codehive/internal/domain"
)

// SessionRepository defines storage for collaborative sessions.
//
// Every mutation is a single-field conditional update against the backing
// store, never a full-document replace, so independent fields cannot lose
// each other's concurrent writes. Concurrent SetCode calls resolve to
// last-write-wins with no merge.
type SessionRepository interface {
	// Create persists a new active session. Returns ErrDuplicateEntry if
	// the session id is already taken.
	Create(ctx context.Context, session *domain.Session) error

	// Exists reports whether a session with the given id is stored.
	Exists(ctx context.Context, sessionID string) (bool, error)

	// FindByID returns a point-in-time snapshot of the session. Callers
	// must not assume it stays current. Returns ErrSessionNotFound if absent.
	FindByID(ctx context.Context, sessionID string) (*domain.Session, error)

	// FindByParticipant returns every session currently containing the
	// given connection. Used for disconnect cleanup; a connection is not
	// assumed to belong to at most one session.
	FindByParticipant(ctx context.Context, connectionID string) ([]domain.Session, error)

	// AddParticipant appends a participant to the session's member set.
	AddParticipant(ctx context.Context, sessionID string, p domain.Participant) error

	// RemoveParticipant removes the participant with the given connection id.
	RemoveParticipant(ctx context.Context, sessionID, connectionID string) error

	// SetRole updates the role of the participant with the given display
	// name. Returns ErrNotFound if no such participant exists.
	SetRole(ctx context.Context, sessionID, displayName string, role domain.Role) error

	// SetCode overwrites the shared code buffer (last write wins).
	SetCode(ctx context.Context, sessionID, code string) error

	// AppendChat appends a message to the session chat log.
	AppendChat(ctx context.Context, sessionID string, msg domain.ChatMessage) error

	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// DeleteExpired removes sessions created before the cutoff and returns
	// how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
