package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/storage"
)

// SessionRevoker deletes whole families. Both operations are idempotent.
type SessionRevoker struct {
	store   storage.CredentialStore
	log     *zap.SugaredLogger
	timeout time.Duration
}

func NewSessionRevoker(store storage.CredentialStore, log *zap.SugaredLogger, timeout time.Duration) *SessionRevoker {
	return &SessionRevoker{store: store, log: log, timeout: timeout}
}

func (r *SessionRevoker) RevokeFamily(ctx context.Context, familyID string) error {
	if strings.TrimSpace(familyID) == "" {
		return nil
	}

	ctx, cancel := r.context(ctx)
	defer cancel()

	n, err := r.store.DeleteFamily(ctx, familyID)
	if err != nil {
		return fmt.Errorf("%w: delete family: %w", ErrStoreUnavailable, err)
	}
	if n > 0 {
		r.log.Infow("Refresh family revoked", "familyID", familyID, "deleted", n)
	}
	return nil
}

// RevokeAllForSubject ends every session of subject, e.g. after a password change.
func (r *SessionRevoker) RevokeAllForSubject(ctx context.Context, subject string) error {
	if strings.TrimSpace(subject) == "" {
		return ErrInvalidSubject
	}

	ctx, cancel := r.context(ctx)
	defer cancel()

	n, err := r.store.DeleteAllForSubject(ctx, subject)
	if err != nil {
		return fmt.Errorf("%w: delete subject credentials: %w", ErrStoreUnavailable, err)
	}
	r.log.Infow("All refresh families revoked for subject", "subject", subject, "deleted", n)
	return nil
}

func (r *SessionRevoker) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
