// Package mocks provides testify mocks for the repository interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"codehive/internal/domain"
)

// SessionRepository is a mock implementation of repository.SessionRepository.
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionRepository) Exists(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *SessionRepository) FindByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if s, ok := args.Get(0).(*domain.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) FindByParticipant(ctx context.Context, connectionID string) ([]domain.Session, error) {
	args := m.Called(ctx, connectionID)
	if s, ok := args.Get(0).([]domain.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) AddParticipant(ctx context.Context, sessionID string, p domain.Participant) error {
	args := m.Called(ctx, sessionID, p)
	return args.Error(0)
}

func (m *SessionRepository) RemoveParticipant(ctx context.Context, sessionID, connectionID string) error {
	args := m.Called(ctx, sessionID, connectionID)
	return args.Error(0)
}

func (m *SessionRepository) SetRole(ctx context.Context, sessionID, displayName string, role domain.Role) error {
	args := m.Called(ctx, sessionID, displayName, role)
	return args.Error(0)
}

func (m *SessionRepository) SetCode(ctx context.Context, sessionID, code string) error {
	args := m.Called(ctx, sessionID, code)
	return args.Error(0)
}

func (m *SessionRepository) AppendChat(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	args := m.Called(ctx, sessionID, msg)
	return args.Error(0)
}

func (m *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
