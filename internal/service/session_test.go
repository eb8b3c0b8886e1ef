package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"codehive/internal/domain"
	"codehive/internal/repository"
	"codehive/internal/repository/mocks"
	"codehive/internal/service"
)

func hashSecret(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func activeSession(t *testing.T, id, owner, secret string) *domain.Session {
	t.Helper()
	return &domain.Session{
		SessionID:    id,
		PasswordHash: hashSecret(t, secret),
		Owner:        owner,
		Code:         domain.DefaultCode,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestSessionService_Create_Success(t *testing.T) {
	// Arrange
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)
	ctx := context.Background()

	repo.On("Create", mock.Anything, mock.MatchedBy(func(s *domain.Session) bool {
		assert.Equal(t, "sess-1", s.SessionID)
		assert.Equal(t, "alice", s.Owner)
		assert.Equal(t, domain.DefaultCode, s.Code)
		assert.True(t, s.Active)
		assert.Empty(t, s.Participants)
		assert.Empty(t, s.Chat)
		// The plaintext secret must never be stored.
		assert.NotEqual(t, "hunter2", s.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte("hunter2")))
		return true
	})).Return(nil).Once()

	// Act
	err := svc.Create(ctx, "sess-1", "hunter2", "alice")

	// Assert
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestSessionService_Create_DuplicateID(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Session")).
		Return(repository.ErrDuplicateEntry).Once()

	err := svc.Create(context.Background(), "taken", "secret", "alice")

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrSessionExists))
	repo.AssertExpectations(t)
}

func TestSessionService_Verify(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)
	ctx := context.Background()

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil)

	ok, err := svc.Verify(ctx, "sess-1", "hunter2")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Verify(ctx, "sess-1", "wrong")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionService_Verify_FailsClosed(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)
	ctx := context.Background()

	// Absent session: false, no error.
	repo.On("FindByID", mock.Anything, "gone").Return(nil, repository.ErrSessionNotFound).Once()
	ok, err := svc.Verify(ctx, "gone", "whatever")
	assert.NoError(t, err)
	assert.False(t, ok)

	// Inactive session: false even with the previously valid secret.
	inactive := activeSession(t, "sess-2", "alice", "hunter2")
	inactive.Active = false
	repo.On("FindByID", mock.Anything, "sess-2").Return(inactive, nil).Once()
	ok, err = svc.Verify(ctx, "sess-2", "hunter2")
	assert.NoError(t, err)
	assert.False(t, ok)

	repo.AssertExpectations(t)
}

func TestSessionService_Join_CreatorBecomesOwner(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	joined := *stored
	joined.Participants = []domain.Participant{
		{ConnectionID: "conn-1", UserID: "alice", DisplayName: "Alice", Role: domain.RoleOwner},
	}

	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Once()
	repo.On("AddParticipant", mock.Anything, "sess-1", mock.MatchedBy(func(p domain.Participant) bool {
		return p.Role == domain.RoleOwner && p.UserID == "alice"
	})).Return(nil).Once()
	repo.On("FindByID", mock.Anything, "sess-1").Return(&joined, nil).Once()

	result, err := svc.Join(context.Background(), service.JoinParams{
		SessionID:    "sess-1",
		Secret:       "hunter2",
		ConnectionID: "conn-1",
		UserID:       "alice",
		DisplayName:  "Alice",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, result.Role)
	assert.Equal(t, domain.DefaultCode, result.Code)
	assert.Len(t, result.Roster, 1)
	repo.AssertExpectations(t)
}

func TestSessionService_Join_OthersDefaultToEditor(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	joined := *stored
	joined.Participants = []domain.Participant{
		{ConnectionID: "conn-2", UserID: "bob", DisplayName: "Bob", Role: domain.RoleEditor},
	}

	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Once()
	repo.On("AddParticipant", mock.Anything, "sess-1", mock.MatchedBy(func(p domain.Participant) bool {
		return p.Role == domain.RoleEditor && p.UserID == "bob"
	})).Return(nil).Once()
	repo.On("FindByID", mock.Anything, "sess-1").Return(&joined, nil).Once()

	result, err := svc.Join(context.Background(), service.JoinParams{
		SessionID:    "sess-1",
		Secret:       "hunter2",
		ConnectionID: "conn-2",
		UserID:       "bob",
		DisplayName:  "Bob",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.RoleEditor, result.Role)
	repo.AssertExpectations(t)
}

func TestSessionService_Join_InvalidSecret(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Once()

	_, err := svc.Join(context.Background(), service.JoinParams{
		SessionID:    "sess-1",
		Secret:       "wrong",
		ConnectionID: "conn-1",
		UserID:       "mallory",
		DisplayName:  "Mallory",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrUnauthorized))
	repo.AssertNotCalled(t, "AddParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionService_SetCode_NotJoined(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Once()

	err := svc.SetCode(context.Background(), "sess-1", "stranger-conn", "x = 1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrNotJoined))
	repo.AssertNotCalled(t, "SetCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionService_SetCode_ViewerForbidden(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	stored.Participants = []domain.Participant{
		{ConnectionID: "conn-3", UserID: "carol", DisplayName: "Carol", Role: domain.RoleViewer},
	}
	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Once()

	err := svc.SetCode(context.Background(), "sess-1", "conn-3", "x = 1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrForbidden))
	repo.AssertNotCalled(t, "SetCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionService_SetCode_LastWriteWins(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)
	ctx := context.Background()

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	stored.Participants = []domain.Participant{
		{ConnectionID: "conn-1", UserID: "alice", DisplayName: "Alice", Role: domain.RoleOwner},
	}
	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Twice()
	repo.On("SetCode", mock.Anything, "sess-1", "A").Return(nil).Once()
	repo.On("SetCode", mock.Anything, "sess-1", "B").Return(nil).Once()

	require.NoError(t, svc.SetCode(ctx, "sess-1", "conn-1", "A"))
	require.NoError(t, svc.SetCode(ctx, "sess-1", "conn-1", "B"))

	// The store receives each write in order; the final stored value is the
	// last write, with no merging in between.
	repo.AssertExpectations(t)
}

func TestSessionService_AppendChat_ServerTimestamp(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	stored.Participants = []domain.Participant{
		{ConnectionID: "conn-1", UserID: "alice", DisplayName: "Alice", Role: domain.RoleOwner},
	}
	before := time.Now().UTC()

	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Once()
	repo.On("AppendChat", mock.Anything, "sess-1", mock.MatchedBy(func(m domain.ChatMessage) bool {
		assert.Equal(t, "Alice", m.Author)
		assert.Equal(t, "hello", m.Text)
		assert.False(t, m.Timestamp.Before(before))
		return true
	})).Return(nil).Once()

	msg, err := svc.AppendChat(context.Background(), "sess-1", "conn-1", "hello")

	require.NoError(t, err)
	assert.Equal(t, "Alice", msg.Author)
	repo.AssertExpectations(t)
}

func TestSessionService_AuthorizeRun(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	stored.Participants = []domain.Participant{
		{ConnectionID: "conn-1", UserID: "bob", DisplayName: "Bob", Role: domain.RoleEditor},
		{ConnectionID: "conn-3", UserID: "carol", DisplayName: "Carol", Role: domain.RoleViewer},
	}
	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil)

	require.NoError(t, svc.AuthorizeRun(context.Background(), "sess-1", "conn-1"))

	err := svc.AuthorizeRun(context.Background(), "sess-1", "conn-3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrForbidden))

	err = svc.AuthorizeRun(context.Background(), "sess-1", "conn-9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrNotJoined))
}

func TestSessionService_ChangeRole_NonOwnerForbidden(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	stored.Participants = []domain.Participant{
		{ConnectionID: "conn-2", UserID: "bob", DisplayName: "Bob", Role: domain.RoleEditor},
		{ConnectionID: "conn-3", UserID: "carol", DisplayName: "Carol", Role: domain.RoleEditor},
	}
	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Once()

	_, err := svc.ChangeRole(context.Background(), "sess-1", "conn-2", "Carol", domain.RoleViewer)

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrForbidden))
	// A rejected request must not mutate any role.
	repo.AssertNotCalled(t, "SetRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionService_ChangeRole_OwnerSucceeds(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	stored.Participants = []domain.Participant{
		{ConnectionID: "conn-1", UserID: "alice", DisplayName: "Alice", Role: domain.RoleOwner},
		{ConnectionID: "conn-2", UserID: "bob", DisplayName: "Bob", Role: domain.RoleEditor},
	}
	updated := *stored
	updated.Participants = []domain.Participant{
		{ConnectionID: "conn-1", UserID: "alice", DisplayName: "Alice", Role: domain.RoleOwner},
		{ConnectionID: "conn-2", UserID: "bob", DisplayName: "Bob", Role: domain.RoleViewer},
	}

	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Once()
	repo.On("SetRole", mock.Anything, "sess-1", "Bob", domain.RoleViewer).Return(nil).Once()
	repo.On("FindByID", mock.Anything, "sess-1").Return(&updated, nil).Once()

	roster, err := svc.ChangeRole(context.Background(), "sess-1", "conn-1", "Bob", domain.RoleViewer)

	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, domain.RoleViewer, roster[1].Role)
	repo.AssertExpectations(t)
}

func TestSessionService_ChangeRole_TargetMissing(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	stored.Participants = []domain.Participant{
		{ConnectionID: "conn-1", UserID: "alice", DisplayName: "Alice", Role: domain.RoleOwner},
	}
	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Once()
	repo.On("SetRole", mock.Anything, "sess-1", "Nobody", domain.RoleViewer).
		Return(repository.ErrNotFound).Once()

	_, err := svc.ChangeRole(context.Background(), "sess-1", "conn-1", "Nobody", domain.RoleViewer)

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrUserNotFound))
}

func TestSessionService_End_OnlyOwnerIdentity(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)
	ctx := context.Background()

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	stored.Participants = []domain.Participant{
		{ConnectionID: "conn-1", UserID: "alice", DisplayName: "Alice", Role: domain.RoleOwner},
		{ConnectionID: "conn-2", UserID: "bob", DisplayName: "Bob", Role: domain.RoleEditor},
	}

	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil)

	err := svc.End(ctx, "sess-1", "conn-2", "bob")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrForbidden))
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)

	repo.On("Delete", mock.Anything, "sess-1").Return(nil).Once()
	err = svc.End(ctx, "sess-1", "conn-1", "alice")
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestSessionService_Leave(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	stored := activeSession(t, "sess-1", "alice", "hunter2")
	stored.Participants = []domain.Participant{
		{ConnectionID: "conn-2", UserID: "bob", DisplayName: "Bob", Role: domain.RoleEditor},
	}
	repo.On("FindByID", mock.Anything, "sess-1").Return(stored, nil).Once()
	repo.On("RemoveParticipant", mock.Anything, "sess-1", "conn-2").Return(nil).Once()

	name, err := svc.Leave(context.Background(), "sess-1", "conn-2")

	require.NoError(t, err)
	assert.Equal(t, "Bob", name)
	repo.AssertExpectations(t)
}

func TestSessionService_DisconnectCleanup_RemovesFromEverySession(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	bob := domain.Participant{ConnectionID: "conn-2", UserID: "bob", DisplayName: "Bob", Role: domain.RoleEditor}
	s1 := *activeSession(t, "sess-1", "alice", "a")
	s1.Participants = []domain.Participant{bob}
	s2 := *activeSession(t, "sess-2", "carol", "b")
	s2.Participants = []domain.Participant{bob}

	repo.On("FindByParticipant", mock.Anything, "conn-2").
		Return([]domain.Session{s1, s2}, nil).Once()
	repo.On("RemoveParticipant", mock.Anything, "sess-1", "conn-2").Return(nil).Once()
	repo.On("RemoveParticipant", mock.Anything, "sess-2", "conn-2").Return(nil).Once()

	departures, err := svc.DisconnectCleanup(context.Background(), "conn-2")

	require.NoError(t, err)
	require.Len(t, departures, 2)
	assert.Equal(t, "sess-1", departures[0].SessionID)
	assert.Equal(t, "Bob", departures[0].DisplayName)
	assert.Equal(t, "sess-2", departures[1].SessionID)
	repo.AssertExpectations(t)
}

func TestSessionService_SweepExpired(t *testing.T) {
	repo := new(mocks.SessionRepository)
	svc := service.NewSessionService(repo)

	repo.On("DeleteExpired", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		// Cutoff sits one retention horizon in the past.
		expected := time.Now().UTC().Add(-domain.SessionTTL)
		return cutoff.Sub(expected) < time.Minute && expected.Sub(cutoff) < time.Minute
	})).Return(int64(3), nil).Once()

	removed, err := svc.SweepExpired(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	repo.AssertExpectations(t)
}
