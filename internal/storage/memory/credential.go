package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/storage"
)

var _ storage.CredentialStore = (*InMemoryCredentialStore)(nil)

// InMemoryCredentialStore keeps credentials in process memory. It is meant for
// local development and tests; nothing survives a restart.
type InMemoryCredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]models.RefreshCredential
	log         *zap.SugaredLogger
}

func NewCredentialStore(log *zap.SugaredLogger) *InMemoryCredentialStore {
	return &InMemoryCredentialStore{
		credentials: make(map[string]models.RefreshCredential),
		log:         log,
	}
}

func (m *InMemoryCredentialStore) Save(_ context.Context, cred models.RefreshCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credentials[cred.ID] = cred
	m.log.Debugw("Credential saved", "jti", cred.ID, "familyID", cred.FamilyID)

	return nil
}

func (m *InMemoryCredentialStore) FindByID(_ context.Context, id string) (*models.RefreshCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.credentials[id]
	if !ok {
		return nil, storage.ErrCredentialNotFound
	}

	return &cred, nil
}

func (m *InMemoryCredentialStore) MarkConsumed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.markConsumedLocked(id)
}

func (m *InMemoryCredentialStore) Rotate(_ context.Context, consumedID string, next models.RefreshCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.markConsumedLocked(consumedID); err != nil {
		return err
	}
	m.credentials[next.ID] = next

	return nil
}

func (m *InMemoryCredentialStore) markConsumedLocked(id string) error {
	cred, ok := m.credentials[id]
	if !ok {
		return storage.ErrCredentialNotFound
	}
	if cred.Consumed {
		return storage.ErrAlreadyConsumed
	}
	cred.Consumed = true
	m.credentials[id] = cred

	return nil
}

func (m *InMemoryCredentialStore) DeleteFamily(_ context.Context, familyID string) (int64, error) {
	return m.deleteWhere(func(c models.RefreshCredential) bool { return c.FamilyID == familyID }), nil
}

func (m *InMemoryCredentialStore) DeleteAllForSubject(_ context.Context, subject string) (int64, error) {
	return m.deleteWhere(func(c models.RefreshCredential) bool { return c.Subject == subject }), nil
}

func (m *InMemoryCredentialStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	return m.deleteWhere(func(c models.RefreshCredential) bool { return c.ExpiresAt.Before(before) }), nil
}

func (m *InMemoryCredentialStore) deleteWhere(match func(models.RefreshCredential) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, cred := range m.credentials {
		if match(cred) {
			delete(m.credentials, id)
			deleted++
		}
	}

	return deleted
}
