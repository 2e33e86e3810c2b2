package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/storage/memory"
)

func newAuthFixture(t *testing.T) (*AuthService, *engineFixture) {
	t.Helper()
	f := newFixture(t, memory.NewCredentialStore(zap.NewNop().Sugar()), IPMismatchRevoke)
	return NewAuthService(f.engine, f.revoker, f.tokens, zap.NewNop().Sugar()), f
}

func TestAuthService_IssueSession(t *testing.T) {
	auth, f := newAuthFixture(t)

	pair, err := auth.IssueSession(context.Background(), "user@x", laptop, "")
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)

	claims, expired, err := f.tokens.ParseAccessToken(pair.AccessToken, false)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, "user@x", claims.Subject)
	assert.Equal(t, "pwd", mustDecode(t, f.tokens, pair.RefreshToken).AuthMethod)
	assert.Equal(t, 24*time.Hour, auth.RefreshTTL())
}

func TestAuthService_RefreshKeepsLiveAccessToken(t *testing.T) {
	auth, _ := newAuthFixture(t)
	ctx := context.Background()

	pair, err := auth.IssueSession(ctx, "user@x", laptop, "pwd")
	require.NoError(t, err)

	got, err := auth.Refresh(ctx, pair.RefreshToken, pair.AccessToken, laptop)
	require.NoError(t, err)
	assert.Equal(t, pair.AccessToken, got.AccessToken)
	assert.Empty(t, got.RefreshToken)

	// Nothing was consumed, so the refresh credential still rotates.
	_, err = auth.Refresh(ctx, pair.RefreshToken, "", laptop)
	require.NoError(t, err)
}

func TestAuthService_RefreshWithExpiredAccessToken(t *testing.T) {
	auth, f := newAuthFixture(t)
	ctx := context.Background()

	pair, err := auth.IssueSession(ctx, "user@x", laptop, "pwd")
	require.NoError(t, err)

	stale, _, err := f.tokens.CreateAccessToken("user@x", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	got, err := auth.Refresh(ctx, pair.RefreshToken, stale, laptop)
	require.NoError(t, err)
	assert.NotEqual(t, stale, got.AccessToken)
	assert.NotEmpty(t, got.RefreshToken)
	assert.NotEqual(t, pair.RefreshToken, got.RefreshToken)
}

func TestAuthService_RefreshBindingMismatch(t *testing.T) {
	auth, f := newAuthFixture(t)
	ctx := context.Background()

	pair, err := auth.IssueSession(ctx, "user@x", laptop, "pwd")
	require.NoError(t, err)

	stranger, _, err := f.tokens.CreateAccessToken("other@x", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = auth.Refresh(ctx, pair.RefreshToken, stranger, laptop)
	require.ErrorIs(t, err, ErrBindingMismatch)

	_, err = auth.Refresh(ctx, pair.RefreshToken, "", laptop)
	require.ErrorIs(t, err, ErrUnknownCredential)
}

func TestAuthService_RefreshRejectsBadInput(t *testing.T) {
	auth, _ := newAuthFixture(t)
	ctx := context.Background()

	pair, err := auth.IssueSession(ctx, "user@x", laptop, "pwd")
	require.NoError(t, err)

	_, err = auth.Refresh(ctx, pair.RefreshToken, pair.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrInvalidCredential)

	_, err = auth.Refresh(ctx, "", "", laptop)
	require.ErrorIs(t, err, ErrInvalidCredential)

	got, err := auth.Refresh(ctx, pair.RefreshToken, "garbage", laptop)
	require.NoError(t, err)
	assert.NotEmpty(t, got.RefreshToken)
}

func TestAuthService_Logout(t *testing.T) {
	auth, f := newAuthFixture(t)
	ctx := context.Background()

	pair, err := auth.IssueSession(ctx, "user@x", laptop, "pwd")
	require.NoError(t, err)

	require.NoError(t, auth.Logout(ctx, pair.RefreshToken))
	requireGone(t, f.store, mustDecode(t, f.tokens, pair.RefreshToken).ID)

	require.NoError(t, auth.Logout(ctx, pair.RefreshToken))
	require.NoError(t, auth.Logout(ctx, "not-a-token"))
	require.NoError(t, auth.Logout(ctx, ""))
}

func TestAuthService_LogoutAll(t *testing.T) {
	auth, f := newAuthFixture(t)
	ctx := context.Background()

	first, err := auth.IssueSession(ctx, "a@x", laptop, "pwd")
	require.NoError(t, err)
	second, err := auth.IssueSession(ctx, "a@x", phone, "pwd")
	require.NoError(t, err)

	require.NoError(t, auth.LogoutAll(ctx, "a@x"))
	requireGone(t, f.store,
		mustDecode(t, f.tokens, first.RefreshToken).ID,
		mustDecode(t, f.tokens, second.RefreshToken).ID,
	)
	require.ErrorIs(t, auth.LogoutAll(ctx, ""), ErrInvalidSubject)
}
