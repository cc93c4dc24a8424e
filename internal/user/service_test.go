package user

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tempoq/internal/domain"
	"tempoq/internal/store"
)

func newTestService() *Service {
	return NewService(store.NewMemory(), []byte("test-secret"), time.Hour, zerolog.Nop())
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	id, err := s.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Authenticate(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	_, err := s.Register(ctx, "", "pw")
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.Register(ctx, "alice", "")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	_, err := s.Register(ctx, "alice", "pw1")
	require.NoError(t, err)
	_, err = s.Register(ctx, "alice", "pw2")
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	_, err := s.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)

	_, err = s.Authenticate(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, "nobody", "hunter2")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenRoundTrip(t *testing.T) {
	s := newTestService()

	raw, err := s.IssueToken("usr_1", "alice")
	require.NoError(t, err)

	got, err := s.VerifyToken(raw)
	require.NoError(t, err)
	require.Equal(t, "usr_1", got)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	s := newTestService()
	_, err := s.VerifyToken("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	s := newTestService()
	other := NewService(store.NewMemory(), []byte("other-secret"), time.Hour, zerolog.Nop())

	raw, err := other.IssueToken("usr_1", "alice")
	require.NoError(t, err)

	_, err = s.VerifyToken(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	s := newTestService()

	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	raw, err := s.IssueToken("usr_1", "alice")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.VerifyToken(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}
