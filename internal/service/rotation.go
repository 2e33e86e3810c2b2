package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/fingerprint"
	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/storage"
)

// IPMismatchPolicy decides what a changed network prefix does to a rotation.
type IPMismatchPolicy int

const (
	IPMismatchRevoke IPMismatchPolicy = iota
	IPMismatchLogOnly
)

// Security event types posted through the SecurityNotifier.
const (
	EventReplayDetected  = "replay_detected"
	EventTampered        = "tampered"
	EventDeviceMismatch  = "device_mismatch"
	EventIPMismatch      = "ip_mismatch"
	EventBindingMismatch = "binding_mismatch"
)

type RotationOptions struct {
	RefreshTTL   time.Duration
	StoreTimeout time.Duration
	IPPolicy     IPMismatchPolicy
}

// RotationEngine exchanges a refresh credential for its successor and revokes
// the whole family on any anomaly.
type RotationEngine struct {
	codec    CredentialCodec
	store    storage.CredentialStore
	revoker  *SessionRevoker
	notifier SecurityNotifier
	log      *zap.SugaredLogger
	opts     RotationOptions
	now      func() time.Time
}

func NewRotationEngine(
	codec CredentialCodec,
	store storage.CredentialStore,
	revoker *SessionRevoker,
	notifier SecurityNotifier,
	log *zap.SugaredLogger,
	opts RotationOptions,
) *RotationEngine {
	return &RotationEngine{
		codec:    codec,
		store:    store,
		revoker:  revoker,
		notifier: notifier,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

func (e *RotationEngine) RefreshTTL() time.Duration {
	return e.opts.RefreshTTL
}

// IssueNewFamily starts a new lineage for subject and returns its first credential.
func (e *RotationEngine) IssueNewFamily(ctx context.Context, subject string, client fingerprint.Client, authMethod string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", ErrInvalidSubject
	}
	if authMethod == "" {
		authMethod = models.DefaultAuthMethod
	}

	cred, err := e.newCredential(subject, uuid.NewString(), fingerprint.Of(client), authMethod)
	if err != nil {
		return "", err
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.store.Save(storeCtx, cred); err != nil {
		return "", fmt.Errorf("%w: save credential: %w", ErrStoreUnavailable, err)
	}

	e.log.Infow("New refresh family issued", "subject", subject, "familyID", cred.FamilyID, "jti", cred.ID)
	return cred.RawCredential, nil
}

// Rotate validates raw against its stored record and, if every check passes,
// consumes it and returns the successor credential. A non-empty
// expectedSubject must equal the credential's subject.
func (e *RotationEngine) Rotate(ctx context.Context, raw string, client fingerprint.Client, expectedSubject string) (string, error) {
	claims, err := e.codec.DecodeRefresh(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if claims.ID == "" || claims.FamilyID == "" || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing required claims", ErrInvalidCredential)
	}

	event := models.SecurityEvent{
		Subject:  claims.Subject,
		FamilyID: claims.FamilyID,
		CredID:   claims.ID,
	}

	if expectedSubject != "" && expectedSubject != claims.Subject {
		e.log.Warnw("Refresh credential presented with another subject's access token",
			"familyID", claims.FamilyID, "subject", claims.Subject)
		event.Type = EventBindingMismatch
		return "", e.reject(ctx, ErrBindingMismatch, event)
	}

	stored, err := e.find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			return "", e.revokeSilently(ctx, ErrUnknownCredential, claims.FamilyID)
		}
		return "", err
	}
	event.FamilyID = stored.FamilyID

	now := e.now()
	if stored.IsExpired(now) {
		return "", e.revokeSilently(ctx, ErrUnknownCredential, stored.FamilyID)
	}

	if stored.Consumed {
		e.log.Warnw("Replay attack detected: consumed refresh credential presented",
			"familyID", stored.FamilyID, "subject", stored.Subject, "jti", stored.ID)
		event.Type = EventReplayDetected
		return "", e.reject(ctx, ErrReplayDetected, event)
	}

	if subtle.ConstantTimeCompare([]byte(raw), []byte(stored.RawCredential)) != 1 {
		e.log.Warnw("Refresh credential does not match stored value", "familyID", stored.FamilyID, "jti", stored.ID)
		event.Type = EventTampered
		return "", e.reject(ctx, ErrTampered, event)
	}

	fp := fingerprint.Of(client)
	if fp.UserAgentHash != stored.FingerprintHash {
		e.log.Warnw("Refresh credential presented from another device", "familyID", stored.FamilyID, "jti", stored.ID)
		event.Type = EventDeviceMismatch
		return "", e.reject(ctx, ErrDeviceMismatch, event)
	}

	if stored.IPHint != "" && fp.IPHint != "" && stored.IPHint != fp.IPHint {
		event.Type = EventIPMismatch
		event.OldIPHint = stored.IPHint
		event.NewIPHint = fp.IPHint
		if e.opts.IPPolicy == IPMismatchRevoke {
			e.log.Warnw("Refresh credential presented from another network",
				"familyID", stored.FamilyID, "oldIPHint", stored.IPHint, "newIPHint", fp.IPHint)
			return "", e.reject(ctx, ErrIPMismatch, event)
		}
		e.log.Infow("Network changed during rotation",
			"familyID", stored.FamilyID, "oldIPHint", stored.IPHint, "newIPHint", fp.IPHint)
		e.notify(ctx, event)
	}

	authMethod := claims.AuthMethod
	if authMethod == "" {
		authMethod = models.UnknownAuthMethod
	}
	next, err := e.newCredential(stored.Subject, stored.FamilyID, fp, authMethod)
	if err != nil {
		return "", err
	}

	if err := e.rotate(ctx, stored.ID, next); err != nil {
		switch {
		case errors.Is(err, storage.ErrAlreadyConsumed):
			e.log.Warnw("Concurrent rotation lost the consume race", "familyID", stored.FamilyID, "jti", stored.ID)
			event.Type = EventReplayDetected
			event.OldIPHint, event.NewIPHint = "", ""
			return "", e.reject(ctx, ErrReplayDetected, event)
		case errors.Is(err, storage.ErrCredentialNotFound):
			return "", e.revokeSilently(ctx, ErrUnknownCredential, stored.FamilyID)
		default:
			return "", err
		}
	}

	e.log.Debugw("Refresh credential rotated", "familyID", next.FamilyID, "from", stored.ID, "to", next.ID)
	return next.RawCredential, nil
}

func (e *RotationEngine) newCredential(subject, familyID string, fp fingerprint.Fingerprint, authMethod string) (models.RefreshCredential, error) {
	now := e.now()
	cred := models.RefreshCredential{
		ID:              newCredentialID(),
		Subject:         subject,
		FamilyID:        familyID,
		FingerprintHash: fp.UserAgentHash,
		IPHint:          fp.IPHint,
		CreatedAt:       now,
		ExpiresAt:       now.Add(e.opts.RefreshTTL),
	}

	raw, err := e.codec.EncodeRefresh(cred, authMethod)
	if err != nil {
		return models.RefreshCredential{}, fmt.Errorf("encode refresh credential: %w", err)
	}
	cred.RawCredential = raw
	return cred, nil
}

func (e *RotationEngine) find(ctx context.Context, id string) (*models.RefreshCredential, error) {
	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	cred, err := e.store.FindByID(storeCtx, id)
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: find credential: %w", ErrStoreUnavailable, err)
	}
	return cred, nil
}

func (e *RotationEngine) rotate(ctx context.Context, consumedID string, next models.RefreshCredential) error {
	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	err := e.store.Rotate(storeCtx, consumedID, next)
	if err == nil || errors.Is(err, storage.ErrAlreadyConsumed) || errors.Is(err, storage.ErrCredentialNotFound) {
		return err
	}
	return fmt.Errorf("%w: rotate credential: %w", ErrStoreUnavailable, err)
}

// reject revokes the family, reports the event and returns reason. A failed
// revocation is joined onto reason so the caller still sees both.
func (e *RotationEngine) reject(ctx context.Context, reason error, event models.SecurityEvent) error {
	err := e.revoker.RevokeFamily(ctx, event.FamilyID)
	event.Revoked = err == nil
	e.notify(ctx, event)
	if err != nil {
		e.log.Errorw("Failed to revoke family after rotation anomaly", "familyID", event.FamilyID, "reason", reason, "error", err)
		return errors.Join(reason, err)
	}
	return reason
}

// revokeSilently is reject without a security event, for credentials that are
// merely unknown or expired.
func (e *RotationEngine) revokeSilently(ctx context.Context, reason error, familyID string) error {
	if err := e.revoker.RevokeFamily(ctx, familyID); err != nil {
		e.log.Errorw("Failed to revoke family", "familyID", familyID, "error", err)
		return errors.Join(reason, err)
	}
	return reason
}

func (e *RotationEngine) notify(ctx context.Context, event models.SecurityEvent) {
	if e.notifier == nil {
		return
	}
	event.OccurredAt = e.now().UTC()
	e.notifier.NotifySecurityEvent(ctx, event)
}

func (e *RotationEngine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}

func newCredentialID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
