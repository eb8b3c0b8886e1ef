// Package service implements the business logic of the session engine.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"codehive/internal/domain"
	"codehive/internal/repository"
)

// SessionService owns session lifecycle, membership and authorization. It is
// the single component through which concurrent connections mutate shared
// session state; every mutation it issues is an atomic single-field store
// operation, so the weak-consistency contract (last-write-wins code, append
// ordered chat) holds without a session-wide lock.
type SessionService struct {
	sessions repository.SessionRepository
}

// NewSessionService creates a SessionService.
func NewSessionService(sessions repository.SessionRepository) *SessionService {
	if sessions == nil {
		panic("SessionRepository cannot be nil for SessionService")
	}
	return &SessionService{sessions: sessions}
}

// Create persists a new active session with an empty participant set, empty
// chat and the default placeholder code buffer. The join secret is stored as
// a bcrypt hash; the plaintext is never persisted.
func (s *SessionService) Create(ctx context.Context, sessionID, secret, owner string) error {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "owner": owner})

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		logCtx.WithError(err).Error("Failed to hash session secret")
		return ErrInternalServer
	}

	session := &domain.Session{
		SessionID:    sessionID,
		PasswordHash: string(hash),
		Owner:        owner,
		Participants: []domain.Participant{},
		Code:         domain.DefaultCode,
		Chat:         []domain.ChatMessage{},
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.Warn("Session id already taken")
			return ErrSessionExists
		}
		logCtx.WithError(err).Error("Failed to persist new session")
		return ErrInternalServer
	}

	logCtx.Info("Session created")
	return nil
}

// Exists reports whether the session id is currently taken.
func (s *SessionService) Exists(ctx context.Context, sessionID string) (bool, error) {
	exists, err := s.sessions.Exists(ctx, sessionID)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to check session existence")
		return false, ErrInternalServer
	}
	return exists, nil
}

// Verify checks the join secret against the stored hash. It fails closed:
// an absent or inactive session verifies as false regardless of the secret.
// bcrypt performs the comparison in constant time.
func (s *SessionService) Verify(ctx context.Context, sessionID, secret string) (bool, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return false, nil
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to load session for verification")
		return false, ErrInternalServer
	}
	if !session.Active {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(session.PasswordHash), []byte(secret)) == nil, nil
}

// JoinParams carries everything a connection supplies when joining a session.
type JoinParams struct {
	SessionID    string
	Secret       string
	ConnectionID string
	UserID       string
	DisplayName  string
}

// JoinResult is the private snapshot returned to a joiner plus the roster
// broadcast to the room.
type JoinResult struct {
	Code        string
	Chat        []domain.ChatMessage
	Role        domain.Role
	DisplayName string
	Roster      []domain.RosterEntry
}

// Join admits a connection into a session after verifying the join secret.
// The session creator's first join is assigned the owner role; every other
// joiner defaults to editor.
func (s *SessionService) Join(ctx context.Context, p JoinParams) (*JoinResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id":    p.SessionID,
		"connection_id": p.ConnectionID,
		"user_id":       p.UserID,
	})

	session, err := s.sessions.FindByID(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			logCtx.Warn("Join rejected: session not found")
			return nil, ErrSessionNotFound
		}
		logCtx.WithError(err).Error("Failed to load session for join")
		return nil, ErrInternalServer
	}
	if !session.Active {
		logCtx.Warn("Join rejected: session inactive")
		return nil, ErrSessionNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(session.PasswordHash), []byte(p.Secret)) != nil {
		logCtx.Warn("Join rejected: invalid secret")
		return nil, ErrUnauthorized
	}

	participant := domain.Participant{
		ConnectionID: p.ConnectionID,
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		Role:         session.RoleForUser(p.UserID),
	}
	if err := s.sessions.AddParticipant(ctx, p.SessionID, participant); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		logCtx.WithError(err).Error("Failed to add participant")
		return nil, ErrInternalServer
	}

	// Re-read for the joiner's snapshot and the updated roster. The snapshot
	// reflects whatever other connections wrote in the meantime.
	updated, err := s.sessions.FindByID(ctx, p.SessionID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to reload session after join")
		return nil, ErrInternalServer
	}

	role := domain.RoleViewer // lookup-miss default, mirrors the store contract
	if me := updated.ParticipantByConnection(p.ConnectionID); me != nil {
		role = me.Role
	}

	logCtx.WithField("role", role).Info("Participant joined session")
	return &JoinResult{
		Code:        updated.Code,
		Chat:        updated.Chat,
		Role:        role,
		DisplayName: p.DisplayName,
		Roster:      updated.Roster(),
	}, nil
}

// member loads the session and resolves the acting connection's participant
// entry, returning ErrNotJoined when the connection is not a member. Every
// mutating operation goes through this check so the precondition is uniform.
func (s *SessionService) member(ctx context.Context, sessionID, connectionID string) (*domain.Session, *domain.Participant, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to load session")
		return nil, nil, ErrInternalServer
	}
	participant := session.ParticipantByConnection(connectionID)
	if participant == nil {
		return nil, nil, ErrNotJoined
	}
	return session, participant, nil
}

// SetCode overwrites the shared code buffer. Concurrent writers resolve to
// last-write-wins; there is no merge and no version number.
func (s *SessionService) SetCode(ctx context.Context, sessionID, connectionID, code string) error {
	_, participant, err := s.member(ctx, sessionID, connectionID)
	if err != nil {
		return err
	}
	if !participant.Role.CanEditCode() {
		return ErrForbidden
	}
	if err := s.sessions.SetCode(ctx, sessionID, code); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to store code update")
		return ErrInternalServer
	}
	return nil
}

// AppendChat appends a chat message stamped with the server arrival time and
// returns the stored message for broadcast.
func (s *SessionService) AppendChat(ctx context.Context, sessionID, connectionID, text string) (domain.ChatMessage, error) {
	_, participant, err := s.member(ctx, sessionID, connectionID)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	msg := domain.ChatMessage{
		Author:    participant.DisplayName,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	if err := s.sessions.AppendChat(ctx, sessionID, msg); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return domain.ChatMessage{}, ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to append chat message")
		return domain.ChatMessage{}, ErrInternalServer
	}
	return msg, nil
}

// AuthorizeRun checks that the connection may trigger execution of the
// shared buffer. Execution is gated by the same edit permission as the
// buffer itself, so viewers cannot run code either.
func (s *SessionService) AuthorizeRun(ctx context.Context, sessionID, connectionID string) error {
	_, participant, err := s.member(ctx, sessionID, connectionID)
	if err != nil {
		return err
	}
	if !participant.Role.CanEditCode() {
		return ErrForbidden
	}
	return nil
}

// ChangeRole reassigns a participant's role. Only a participant currently
// holding the owner role may do this; anyone else gets ErrForbidden rather
// than a silent no-op. Returns the updated roster.
func (s *SessionService) ChangeRole(ctx context.Context, sessionID, connectionID, targetName string, newRole domain.Role) ([]domain.RosterEntry, error) {
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"target_user": targetName,
		"new_role":    newRole,
	})

	_, requester, err := s.member(ctx, sessionID, connectionID)
	if err != nil {
		return nil, err
	}
	if !requester.Role.CanChangeRoles() {
		logCtx.WithField("requester_role", requester.Role).Warn("Role change rejected: requester is not owner")
		return nil, ErrForbidden
	}

	if err := s.sessions.SetRole(ctx, sessionID, targetName, newRole); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		logCtx.WithError(err).Error("Failed to store role change")
		return nil, ErrInternalServer
	}

	updated, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to reload session after role change")
		return nil, ErrInternalServer
	}
	logCtx.Info("Role updated")
	return updated.Roster(), nil
}

// Leave removes the acting connection from the session and returns the
// departed participant's display name for the user-left broadcast.
func (s *SessionService) Leave(ctx context.Context, sessionID, connectionID string) (string, error) {
	_, participant, err := s.member(ctx, sessionID, connectionID)
	if err != nil {
		return "", err
	}
	if err := s.sessions.RemoveParticipant(ctx, sessionID, connectionID); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to remove participant")
		return "", ErrInternalServer
	}
	logrus.WithFields(logrus.Fields{"session_id": sessionID, "connection_id": connectionID}).Info("Participant left session")
	return participant.DisplayName, nil
}

// End deletes the session. Only the persistent owner identity may end it.
func (s *SessionService) End(ctx context.Context, sessionID, connectionID, userID string) error {
	session, _, err := s.member(ctx, sessionID, connectionID)
	if err != nil {
		return err
	}
	if session.Owner != userID {
		return ErrForbidden
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to delete session")
		return ErrInternalServer
	}
	logrus.WithField("session_id", sessionID).Info("Session ended by owner")
	return nil
}

// Departure names one session a disconnected connection was removed from.
type Departure struct {
	SessionID   string
	DisplayName string
}

// DisconnectCleanup removes the connection from every session that contains
// it. A connection joining multiple sessions is rare but supported.
func (s *SessionService) DisconnectCleanup(ctx context.Context, connectionID string) ([]Departure, error) {
	logCtx := logrus.WithField("connection_id", connectionID)

	sessions, err := s.sessions.FindByParticipant(ctx, connectionID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to find sessions for disconnected connection")
		return nil, ErrInternalServer
	}

	var departures []Departure
	for i := range sessions {
		session := &sessions[i]
		if err := s.sessions.RemoveParticipant(ctx, session.SessionID, connectionID); err != nil {
			// Keep cleaning the remaining sessions; a partial failure must
			// not strand the connection in every other session.
			logCtx.WithError(err).WithField("session_id", session.SessionID).Error("Failed to remove disconnected participant")
			continue
		}
		if p := session.ParticipantByConnection(connectionID); p != nil {
			departures = append(departures, Departure{SessionID: session.SessionID, DisplayName: p.DisplayName})
		}
	}
	if len(departures) > 0 {
		logCtx.WithField("session_count", len(departures)).Info("Disconnected connection cleaned up")
	}
	return departures, nil
}

// Snapshot returns a point-in-time view of the session.
func (s *SessionService) Snapshot(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to load session snapshot")
		return nil, ErrInternalServer
	}
	return session, nil
}

// SweepExpired removes sessions past the retention horizon. Driven by the
// periodic worker task, independent of traffic.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-domain.SessionTTL)
	removed, err := s.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		logrus.WithError(err).Error("Expired session sweep failed")
		return 0, ErrInternalServer
	}
	return removed, nil
}
