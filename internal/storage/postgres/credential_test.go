package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/storage"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewStorage(db), mock
}

func testCredential(id string) models.RefreshCredential {
	now := time.Now().UTC()
	return models.RefreshCredential{
		ID:              id,
		RawCredential:   "raw-" + id,
		Subject:         "user@x",
		FamilyID:        "fam-1",
		FingerprintHash: "fp-hash",
		IPHint:          "203.0.113.0/24",
		CreatedAt:       now,
		ExpiresAt:       now.Add(24 * time.Hour),
	}
}

func TestCredentialRepository_Save(t *testing.T) {
	s, mock := newMockStorage(t)
	cred := testCredential("jti-1")

	mock.ExpectExec(insertCredentialQuery).
		WithArgs(cred.ID, cred.RawCredential, cred.Subject, cred.FamilyID, false, cred.FingerprintHash,
			cred.IPHint, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Save(context.Background(), cred))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepository_SaveWithoutIPHint(t *testing.T) {
	s, mock := newMockStorage(t)
	cred := testCredential("jti-1")
	cred.IPHint = ""

	mock.ExpectExec(insertCredentialQuery).
		WithArgs(cred.ID, cred.RawCredential, cred.Subject, cred.FamilyID, false, cred.FingerprintHash,
			nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Save(context.Background(), cred))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepository_FindByID(t *testing.T) {
	s, mock := newMockStorage(t)
	cred := testCredential("jti-1")

	rows := sqlmock.NewRows([]string{"jti", "raw_credential", "subject", "family_id", "consumed", "fingerprint_hash", "ip_hint", "created_at", "expires_at"}).
		AddRow(cred.ID, cred.RawCredential, cred.Subject, cred.FamilyID, true, cred.FingerprintHash, nil, cred.CreatedAt, cred.ExpiresAt)
	mock.ExpectQuery(selectCredentialQuery).WithArgs("jti-1").WillReturnRows(rows)

	got, err := s.FindByID(context.Background(), "jti-1")
	require.NoError(t, err)
	assert.Equal(t, cred.RawCredential, got.RawCredential)
	assert.True(t, got.Consumed)
	assert.Empty(t, got.IPHint)
	assert.True(t, cred.ExpiresAt.Equal(got.ExpiresAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepository_FindByIDNotFound(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(selectCredentialQuery).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := s.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrCredentialNotFound)
}

func TestCredentialRepository_FindByIDFailure(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(selectCredentialQuery).WithArgs("jti-1").WillReturnError(sql.ErrConnDone)

	_, err := s.FindByID(context.Background(), "jti-1")
	require.ErrorIs(t, err, sql.ErrConnDone)
	require.NotErrorIs(t, err, storage.ErrCredentialNotFound)
}

func TestCredentialRepository_MarkConsumed(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(markConsumedQuery).WithArgs("jti-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(markConsumedQuery).WithArgs("jti-1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.MarkConsumed(context.Background(), "jti-1"))
	require.ErrorIs(t, s.MarkConsumed(context.Background(), "jti-1"), storage.ErrAlreadyConsumed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Rotate(t *testing.T) {
	s, mock := newMockStorage(t)
	next := testCredential("jti-2")

	mock.ExpectBegin()
	mock.ExpectExec(markConsumedQuery).WithArgs("jti-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertCredentialQuery).
		WithArgs(next.ID, next.RawCredential, next.Subject, next.FamilyID, false, next.FingerprintHash,
			next.IPHint, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Rotate(context.Background(), "jti-1", next))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_RotateLostRace(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(markConsumedQuery).WithArgs("jti-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Rotate(context.Background(), "jti-1", testCredential("jti-2"))
	require.ErrorIs(t, err, storage.ErrAlreadyConsumed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_RotateInsertFailureRollsBack(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(markConsumedQuery).WithArgs("jti-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertCredentialQuery).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := s.Rotate(context.Background(), "jti-1", testCredential("jti-2"))
	require.ErrorIs(t, err, sql.ErrConnDone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepository_Deletes(t *testing.T) {
	s, mock := newMockStorage(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(deleteFamilyQuery).WithArgs("fam-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(deleteSubjectQuery).WithArgs("user@x").WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(deleteExpiredQuery).WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.DeleteFamily(ctx, "fam-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = s.DeleteAllForSubject(ctx, "user@x")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	n, err = s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	require.NoError(t, mock.ExpectationsWereMet())
}
