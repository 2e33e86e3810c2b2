package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/fingerprint"
)

const (
	apiKeyGracePeriod = 24 * time.Hour

	// APIKeyRedisKey is a hash holding the current and previous key digests
	// and the time of the last change.
	APIKeyRedisKey = "sessionguard:apikey"
)

var ErrAPIKeyMissing = errors.New("service API key is not configured")

type apiKeyRecord struct {
	Current   string `redis:"current"`
	Previous  string `redis:"previous"`
	RotatedAt int64  `redis:"rotated_at"`
}

// acceptsPrevious reports whether the demoted key is still inside its grace window.
func (r apiKeyRecord) acceptsPrevious(now time.Time) bool {
	if r.Previous == "" || r.RotatedAt == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(r.RotatedAt)) <= apiKeyGracePeriod
}

// APIKeyService guards the internal API. Only SHA-256 digests of keys reach
// Redis; after a key change the previous key stays valid for apiKeyGracePeriod.
type APIKeyService struct {
	rdb           *redis.Client
	log           *zap.SugaredLogger
	configuredKey string
	now           func() time.Time
}

func NewAPIKeyService(rdb *redis.Client, log *zap.SugaredLogger, configuredKey string) *APIKeyService {
	return &APIKeyService{rdb: rdb, log: log, configuredKey: configuredKey, now: time.Now}
}

// Sync makes the configured key current, demoting the previous one.
func (s *APIKeyService) Sync(ctx context.Context) error {
	if s.configuredKey == "" {
		return ErrAPIKeyMissing
	}
	digest := fingerprint.SHA256Hex(s.configuredKey)

	rec, err := s.load(ctx)
	if err != nil {
		return err
	}
	if digestsEqual(digest, rec.Current) {
		s.log.Debug("api key unchanged")
		return nil
	}

	fields := map[string]any{
		"current":    digest,
		"previous":   rec.Current,
		"rotated_at": s.now().UnixMilli(),
	}
	if err := s.rdb.HSet(ctx, APIKeyRedisKey, fields).Err(); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}

	if rec.Current == "" {
		s.log.Info("api key initialized")
	} else {
		s.log.Infow("api key rotated", "grace", apiKeyGracePeriod)
	}
	return nil
}

// Check accepts the current key, or the previous one while its grace lasts.
func (s *APIKeyService) Check(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	digest := fingerprint.SHA256Hex(key)

	rec, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	if digestsEqual(digest, rec.Current) {
		return true, nil
	}
	return digestsEqual(digest, rec.Previous) && rec.acceptsPrevious(s.now()), nil
}

func (s *APIKeyService) load(ctx context.Context) (apiKeyRecord, error) {
	var rec apiKeyRecord
	if err := s.rdb.HGetAll(ctx, APIKeyRedisKey).Scan(&rec); err != nil {
		return apiKeyRecord{}, fmt.Errorf("load api key: %w", err)
	}
	return rec, nil
}

func digestsEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
