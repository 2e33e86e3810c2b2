package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/storage"
)

const (
	insertCredentialQuery = `INSERT INTO refresh_credentials (jti, raw_credential, subject, family_id, consumed, fingerprint_hash, ip_hint, created_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	selectCredentialQuery = `SELECT jti, raw_credential, subject, family_id, consumed, fingerprint_hash, ip_hint, created_at, expires_at FROM refresh_credentials WHERE jti = $1`

	markConsumedQuery = `UPDATE refresh_credentials SET consumed = TRUE WHERE jti = $1 AND consumed = FALSE`

	deleteFamilyQuery = `DELETE FROM refresh_credentials WHERE family_id = $1`

	deleteSubjectQuery = `DELETE FROM refresh_credentials WHERE subject = $1`

	deleteExpiredQuery = `DELETE FROM refresh_credentials WHERE expires_at < $1`
)

type CredentialRepository struct {
	db storage.DBTX
}

func NewCredentialRepository(db storage.DBTX) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Save(ctx context.Context, cred models.RefreshCredential) error {
	_, err := r.db.ExecContext(
		ctx,
		insertCredentialQuery,
		cred.ID,
		cred.RawCredential,
		cred.Subject,
		cred.FamilyID,
		cred.Consumed,
		cred.FingerprintHash,
		nullString(cred.IPHint),
		cred.CreatedAt,
		cred.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) FindByID(ctx context.Context, id string) (*models.RefreshCredential, error) {
	var (
		cred   models.RefreshCredential
		ipHint sql.NullString
	)
	err := r.db.QueryRowContext(ctx, selectCredentialQuery, id).Scan(
		&cred.ID,
		&cred.RawCredential,
		&cred.Subject,
		&cred.FamilyID,
		&cred.Consumed,
		&cred.FingerprintHash,
		&ipHint,
		&cred.CreatedAt,
		&cred.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential %s: %w", id, storage.ErrCredentialNotFound)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	cred.IPHint = ipHint.String

	return &cred, nil
}

// MarkConsumed is a conditional update; zero affected rows means another
// rotation already consumed the row (or it was revoked meanwhile).
func (r *CredentialRepository) MarkConsumed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, markConsumedQuery, id)
	if err != nil {
		return fmt.Errorf("failed to mark credential consumed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrAlreadyConsumed
	}

	return nil
}

func (r *CredentialRepository) DeleteFamily(ctx context.Context, familyID string) (int64, error) {
	return r.deleteBy(ctx, deleteFamilyQuery, familyID)
}

func (r *CredentialRepository) DeleteAllForSubject(ctx context.Context, subject string) (int64, error) {
	return r.deleteBy(ctx, deleteSubjectQuery, subject)
}

func (r *CredentialRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return r.deleteBy(ctx, deleteExpiredQuery, before)
}

func (r *CredentialRepository) deleteBy(ctx context.Context, query string, arg any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("failed to delete credentials: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return affected, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
