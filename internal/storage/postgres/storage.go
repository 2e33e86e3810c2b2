package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/storage"
)

var _ storage.CredentialStore = (*Storage)(nil)

type Storage struct {
	db *sql.DB
	*CredentialRepository
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{
		db:                   db,
		CredentialRepository: NewCredentialRepository(db),
	}
}

// Rotate consumes the presented credential and inserts its successor in one
// transaction. The conditional UPDATE takes the row lock, so a concurrent
// rotation of the same jti blocks and then sees consumed = TRUE.
func (s *Storage) Rotate(ctx context.Context, consumedID string, next models.RefreshCredential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	credRepoTx := NewCredentialRepository(tx)

	if err := credRepoTx.MarkConsumed(ctx, consumedID); err != nil {
		return err
	}

	if err := credRepoTx.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to save rotated credential in tx: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
