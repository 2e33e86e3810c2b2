package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/storage"
)

const (
	TokenKeyPrefix   = "refresh:token:"
	FamilyKeyPrefix  = "refresh:family:"
	SubjectKeyPrefix = "refresh:subject:"
)

const (
	consumeStatusMissing  int64 = -1
	consumeStatusConsumed int64 = 0
	consumeStatusOK       int64 = 1
)

// HSET on an existing hash keeps its TTL, so the consumed record expires on
// its original schedule.
const consumeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "consumed") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "consumed", "1")
return 1
`

var consumeLua = redis.NewScript(consumeScript)

// KEYS[1] family set; ARGV[1] token prefix, ARGV[2] subject prefix, ARGV[3] family id.
// Member keys are built inside the script, so it needs a single-node keyspace
// (standalone or sentinel); Redis Cluster would reject them as undeclared.
const deleteFamilyScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local deleted = 0
for _, id in ipairs(members) do
  local key = ARGV[1] .. id
  local subject = redis.call("HGET", key, "sub")
  if subject then
    redis.call("SREM", ARGV[2] .. subject, ARGV[3])
  end
  deleted = deleted + redis.call("DEL", key)
end
redis.call("DEL", KEYS[1])
return deleted
`

var deleteFamilyLua = redis.NewScript(deleteFamilyScript)

var _ storage.CredentialStore = (*CredentialStore)(nil)

// CredentialStore keeps each credential in a hash under refresh:token:<jti>
// with a TTL equal to its remaining lifetime. refresh:family:<id> holds the
// member jtis and refresh:subject:<subject> the family ids of a subject.
type CredentialStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewCredentialStore(client *redis.Client) *CredentialStore {
	return &CredentialStore{client: client, now: time.Now}
}

type credentialHash struct {
	ID              string `redis:"jti"`
	RawCredential   string `redis:"raw"`
	Subject         string `redis:"sub"`
	FamilyID        string `redis:"fam"`
	Consumed        bool   `redis:"consumed"`
	FingerprintHash string `redis:"ua_hash"`
	IPHint          string `redis:"ip_hint"`
	CreatedAt       int64  `redis:"created_at"`
	ExpiresAt       int64  `redis:"expires_at"`
}

func toHashFields(c models.RefreshCredential) map[string]any {
	return map[string]any{
		"jti":        c.ID,
		"raw":        c.RawCredential,
		"sub":        c.Subject,
		"fam":        c.FamilyID,
		"consumed":   c.Consumed,
		"ua_hash":    c.FingerprintHash,
		"ip_hint":    c.IPHint,
		"created_at": c.CreatedAt.UnixMilli(),
		"expires_at": c.ExpiresAt.UnixMilli(),
	}
}

func (h credentialHash) toModel() *models.RefreshCredential {
	return &models.RefreshCredential{
		ID:              h.ID,
		RawCredential:   h.RawCredential,
		Subject:         h.Subject,
		FamilyID:        h.FamilyID,
		Consumed:        h.Consumed,
		FingerprintHash: h.FingerprintHash,
		IPHint:          h.IPHint,
		CreatedAt:       time.UnixMilli(h.CreatedAt),
		ExpiresAt:       time.UnixMilli(h.ExpiresAt),
	}
}

func tokenKey(id string) string        { return TokenKeyPrefix + id }
func familyKey(familyID string) string { return FamilyKeyPrefix + familyID }
func subjectKey(subject string) string { return SubjectKeyPrefix + subject }

// Save writes the record and both index sets in one MULTI/EXEC.
func (s *CredentialStore) Save(ctx context.Context, cred models.RefreshCredential) error {
	ttl := cred.TTL(s.now())
	if ttl <= 0 {
		return fmt.Errorf("save %s: %w", cred.ID, storage.ErrCredentialExpired)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, tokenKey(cred.ID), toHashFields(cred))
		pipe.PExpire(ctx, tokenKey(cred.ID), ttl)
		pipe.SAdd(ctx, familyKey(cred.FamilyID), cred.ID)
		pipe.PExpire(ctx, familyKey(cred.FamilyID), ttl)
		pipe.SAdd(ctx, subjectKey(cred.Subject), cred.FamilyID)
		pipe.PExpire(ctx, subjectKey(cred.Subject), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*models.RefreshCredential, error) {
	res := s.client.HGetAll(ctx, tokenKey(id))
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	if len(res.Val()) == 0 {
		return nil, storage.ErrCredentialNotFound
	}

	var h credentialHash
	if err := res.Scan(&h); err != nil {
		return nil, fmt.Errorf("failed to decode credential %s: %w", id, err)
	}

	return h.toModel(), nil
}

func (s *CredentialStore) MarkConsumed(ctx context.Context, id string) error {
	status, err := consumeLua.Run(ctx, s.client, []string{tokenKey(id)}).Int64()
	if err != nil {
		return fmt.Errorf("failed to mark credential consumed: %w", err)
	}

	switch status {
	case consumeStatusOK:
		return nil
	case consumeStatusConsumed:
		return storage.ErrAlreadyConsumed
	case consumeStatusMissing:
		return storage.ErrCredentialNotFound
	default:
		return fmt.Errorf("unexpected consume status %d", status)
	}
}

// Rotate is consume-then-save: a crash in between leaves the family with no
// live credential rather than two.
func (s *CredentialStore) Rotate(ctx context.Context, consumedID string, next models.RefreshCredential) error {
	if err := s.MarkConsumed(ctx, consumedID); err != nil {
		return err
	}
	return s.Save(ctx, next)
}

func (s *CredentialStore) DeleteFamily(ctx context.Context, familyID string) (int64, error) {
	deleted, err := deleteFamilyLua.Run(
		ctx,
		s.client,
		[]string{familyKey(familyID)},
		TokenKeyPrefix, SubjectKeyPrefix, familyID,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to delete family: %w", err)
	}
	return deleted, nil
}

func (s *CredentialStore) DeleteAllForSubject(ctx context.Context, subject string) (int64, error) {
	families, err := s.client.SMembers(ctx, subjectKey(subject)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to list subject families: %w", err)
	}

	var total int64
	for _, familyID := range families {
		n, err := s.DeleteFamily(ctx, familyID)
		if err != nil {
			return total, err
		}
		total += n
	}

	if err := s.client.Del(ctx, subjectKey(subject)).Err(); err != nil {
		return total, fmt.Errorf("failed to delete subject index: %w", err)
	}

	return total, nil
}

// DeleteExpired is a no-op: every key carries a TTL.
func (s *CredentialStore) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
