package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/fingerprint"
	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/storage"
	"github.com/rryowa/sessionguard/internal/storage/memory"
	redisstore "github.com/rryowa/sessionguard/internal/storage/redis"
	"github.com/rryowa/sessionguard/internal/util"
)

const testSecret = "test-secret-key"

var (
	laptop = fingerprint.Client{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64)",
		PeerAddr:  "203.0.113.10:51000",
	}
	phone = fingerprint.Client{
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)",
		PeerAddr:  "203.0.113.10:51000",
	}
)

func testTokenService() *TokenService {
	return NewTokenService(&util.TokenConfig{
		JwtSecretKey: []byte(testSecret),
		Issuer:       "sessionguard",
		Audience:     "sessionguard-app",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   24 * time.Hour,
	})
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (n *recordingNotifier) NotifySecurityEvent(_ context.Context, event models.SecurityEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []models.SecurityEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.SecurityEvent(nil), n.events...)
}

type engineFixture struct {
	engine   *RotationEngine
	tokens   *TokenService
	store    storage.CredentialStore
	revoker  *SessionRevoker
	notifier *recordingNotifier
}

func newFixture(t *testing.T, store storage.CredentialStore, policy IPMismatchPolicy) *engineFixture {
	t.Helper()

	log := zap.NewNop().Sugar()
	tokens := testTokenService()
	revoker := NewSessionRevoker(store, log, time.Second)
	notifier := &recordingNotifier{}
	engine := NewRotationEngine(tokens, store, revoker, notifier, log, RotationOptions{
		RefreshTTL:   tokens.RefreshTTL(),
		StoreTimeout: time.Second,
		IPPolicy:     policy,
	})

	return &engineFixture{
		engine:   engine,
		tokens:   tokens,
		store:    store,
		revoker:  revoker,
		notifier: notifier,
	}
}

func newMiniredisStore(t *testing.T) (*redisstore.CredentialStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redisstore.NewCredentialStore(client), mr
}

// backends runs fn once per store implementation that needs no external service.
func backends(t *testing.T, fn func(t *testing.T, store storage.CredentialStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, memory.NewCredentialStore(zap.NewNop().Sugar()))
	})
	t.Run("redis", func(t *testing.T) {
		store, _ := newMiniredisStore(t)
		fn(t, store)
	})
}

func mustDecode(t *testing.T, tokens *TokenService, raw string) *Claims {
	t.Helper()
	claims, err := tokens.DecodeRefresh(raw)
	require.NoError(t, err)
	return claims
}

func requireGone(t *testing.T, store storage.CredentialStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := store.FindByID(context.Background(), id)
		require.ErrorIs(t, err, storage.ErrCredentialNotFound, "credential %s should be gone", id)
	}
}
