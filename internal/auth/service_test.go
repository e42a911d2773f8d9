package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/logger"
	"github.com/wonny/bullscan/pkg/redis"
)

func newTestService(inviteRequired bool) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, redis.NewKV(redis.Disabled()), "test-secret", time.Hour, inviteRequired, logger.Nop()), store
}

func TestService_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(false)

	tok, err := s.Register(ctx, RegisterRequest{Username: "alice", Password: "secret1", Email: "a@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)
	assert.Equal(t, contracts.TierFree, tok.User.Tier)

	_, err = s.Register(ctx, RegisterRequest{Username: "alice", Password: "secret2"})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = s.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	tok, err = s.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	require.NotNil(t, tok.User.LastLogin)

	claims, err := s.Validate(ctx, tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, contracts.TierFree, claims.Tier)
}

func TestService_RegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"short username", RegisterRequest{Username: "ab", Password: "secret1"}},
		{"bad characters", RegisterRequest{Username: "al ice", Password: "secret1"}},
		{"short password", RegisterRequest{Username: "alice", Password: "12345"}},
	}
	s, _ := newTestService(false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestService_Invites(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(true)

	_, err := s.Register(ctx, RegisterRequest{Username: "bob", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidInvite)

	_, err = s.Register(ctx, RegisterRequest{Username: "bob", Password: "secret1", InviteCode: "NOPE"})
	assert.ErrorIs(t, err, ErrInvalidInvite)

	inv, err := s.CreateInvite(ctx, "root", 1)
	require.NoError(t, err)
	assert.Len(t, inv.Code, 8)

	tok, err := s.Register(ctx, RegisterRequest{Username: "bob", Password: "secret1", InviteCode: inv.Code})
	require.NoError(t, err)
	assert.Equal(t, inv.Code, tok.User.InviteCode)

	_, err = s.Register(ctx, RegisterRequest{Username: "carol", Password: "secret1", InviteCode: inv.Code})
	assert.ErrorIs(t, err, ErrInvalidInvite)

	invites, err := s.Invites(ctx)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, 1, invites[0].UsedCount)
}

func TestService_Validate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(false)
	tok, err := s.Register(ctx, RegisterRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := s.Validate(ctx, "not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewService(NewMemoryStore(), redis.NewKV(redis.Disabled()), "other", time.Hour, false, logger.Nop())
		_, err := other.Validate(ctx, tok.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		defer func() { s.now = time.Now }()
		old, err := s.Login(ctx, "alice", "secret1")
		require.NoError(t, err)
		s.now = time.Now
		_, err = s.Validate(ctx, old.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}}
		none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = s.Validate(ctx, none)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("revoked", func(t *testing.T) {
		claims, err := s.Validate(ctx, tok.AccessToken)
		require.NoError(t, err)
		require.NoError(t, s.Logout(ctx, claims))
		_, err = s.Validate(ctx, tok.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestService_SetTierAndAdmin(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(false)

	require.NoError(t, s.EnsureAdmin(ctx, "root", "rootpass"))
	require.NoError(t, s.EnsureAdmin(ctx, "root", "changed"))
	root, err := store.UserByUsername(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, contracts.TierSuper, root.Tier)

	_, err = s.Register(ctx, RegisterRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, s.SetTier(ctx, "alice", contracts.TierPremium))

	tok, err := s.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, contracts.TierPremium, tok.User.Tier)

	assert.ErrorIs(t, s.SetTier(ctx, "alice", "gold"), ErrInvalidInput)
	assert.ErrorIs(t, s.SetTier(ctx, "nobody", contracts.TierPremium), ErrUserNotFound)
}
