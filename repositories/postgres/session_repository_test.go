package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/repositories"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

var sessionColumns = []string{"id", "subject_id", "tenant_id", "attributes", "created_at", "expires_at", "revoked_at"}

func TestSessionRepository_Create(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	session := &models.Session{
		ID:         "sid-1",
		SubjectID:  "u1",
		TenantID:   "acme",
		Attributes: map[string]string{"editor": "true"},
		CreatedAt:  created,
		ExpiresAt:  created.Add(time.Hour),
	}

	t.Run("inserts row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSessionRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO sessions").
			WithArgs("sid-1", "u1", "acme", []byte(`{"editor":"true"}`), created, created.Add(time.Hour)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(context.Background(), session))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id is a conflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSessionRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO sessions").
			WillReturnError(&pq.Error{Code: uniqueViolation})

		err := repo.Create(context.Background(), session)
		assert.ErrorIs(t, err, repositories.ErrConflict)
	})

	t.Run("nil attributes are stored as an empty object", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSessionRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO sessions").
			WithArgs("sid-2", "u2", "", []byte(`{}`), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(context.Background(), &models.Session{ID: "sid-2", SubjectID: "u2"}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionRepository_GetByID(t *testing.T) {
	query := regexp.QuoteMeta("FROM sessions")
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSessionRepository(db, zap.NewNop())

		mock.ExpectQuery(query).WithArgs("sid-1").WillReturnRows(
			sqlmock.NewRows(sessionColumns).
				AddRow("sid-1", "u1", "acme", []byte(`{"dept":"finance"}`), created, created.Add(time.Hour), nil))

		s, err := repo.GetByID(context.Background(), "sid-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", s.SubjectID)
		assert.Equal(t, "acme", s.TenantID)
		assert.Equal(t, map[string]string{"dept": "finance"}, s.Attributes)
		assert.Nil(t, s.RevokedAt)
		assert.True(t, s.IsActive(created.Add(time.Minute)))
		assert.False(t, s.IsActive(created.Add(2*time.Hour)))
	})

	t.Run("revoked", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSessionRepository(db, zap.NewNop())
		revoked := created.Add(10 * time.Minute)

		mock.ExpectQuery(query).WithArgs("sid-1").WillReturnRows(
			sqlmock.NewRows(sessionColumns).
				AddRow("sid-1", "u1", "acme", []byte(`{}`), created, created.Add(time.Hour), revoked))

		s, err := repo.GetByID(context.Background(), "sid-1")
		require.NoError(t, err)
		require.NotNil(t, s.RevokedAt)
		assert.False(t, s.IsActive(created.Add(time.Minute)))
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSessionRepository(db, zap.NewNop())

		mock.ExpectQuery(query).WithArgs("nope").WillReturnRows(sqlmock.NewRows(sessionColumns))

		_, err := repo.GetByID(context.Background(), "nope")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSessionRepository(db, zap.NewNop())

		mock.ExpectQuery(query).WillReturnError(errors.New("connection reset"))

		_, err := repo.GetByID(context.Background(), "sid-1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestSessionRepository_Revoke(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	db, mock := newMockDB(t)
	repo := NewSessionRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE sessions SET revoked_at").WithArgs("sid-1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET revoked_at").WithArgs("nope", at).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Revoke(context.Background(), "sid-1", at))
	assert.ErrorIs(t, repo.Revoke(context.Background(), "nope", at), repositories.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	cutoff := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	db, mock := newMockDB(t)
	repo := NewSessionRepository(db, zap.NewNop())

	mock.ExpectExec("DELETE FROM sessions").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
