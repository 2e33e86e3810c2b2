package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rryowa/sessionguard/internal/models"
)

var (
	ErrCredentialNotFound = errors.New("refresh credential not found")
	// ErrAlreadyConsumed is returned by the atomic consume when the
	// precondition consumed=false no longer holds.
	ErrAlreadyConsumed   = errors.New("refresh credential already consumed")
	ErrCredentialExpired = errors.New("refresh credential already expired")
)

// CredentialStore persists refresh credential records and family membership.
type CredentialStore interface {
	Save(ctx context.Context, cred models.RefreshCredential) error
	FindByID(ctx context.Context, id string) (*models.RefreshCredential, error)
	// MarkConsumed flips consumed=false to true atomically; ErrAlreadyConsumed
	// means another caller won.
	MarkConsumed(ctx context.Context, id string) error
	// Rotate consumes consumedID and then saves next as one logical rotation.
	Rotate(ctx context.Context, consumedID string, next models.RefreshCredential) error
	DeleteFamily(ctx context.Context, familyID string) (int64, error)
	DeleteAllForSubject(ctx context.Context, subject string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
