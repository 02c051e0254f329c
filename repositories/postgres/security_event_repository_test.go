package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/repositories"
	"go.uber.org/zap"
)

var eventColumns = []string{
	"id", "kind", "request_id", "subject_id", "tenant_id", "client_ip", "path",
	"route_class", "stage", "status_code", "reason", "policy_id", "details", "timestamp",
}

func newEventRepo(t *testing.T) (*SecurityEventRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	repo := NewSecurityEventRepository(db, NewTxManager(db, zap.NewNop()), zap.NewNop())
	return repo.(*SecurityEventRepository), mock
}

func TestSecurityEventRepository_InsertBatch(t *testing.T) {
	subject := "u1"
	first := models.NewSecurityEvent(models.SecurityEventRequestRejected, "Internal Access Only")
	first.RequestID = "req-1"
	first.Path = "/api/internal/test"
	first.RouteClass = models.RouteClassInternalOnly
	first.StatusCode = 403
	second := models.NewSecurityEvent(models.SecurityEventAuthzDenied, "tenant mismatch")
	second.SubjectID = &subject
	second.Details = json.RawMessage(`{"resource":"document:acme/1"}`)

	t.Run("commits all rows", func(t *testing.T) {
		repo, mock := newEventRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO security_events").
			WithArgs(first.ID, "request_rejected", "req-1", nil, nil, "", "/api/internal/test",
				string(models.RouteClassInternalOnly), "", 403, "Internal Access Only", nil, nil, first.Timestamp).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO security_events").
			WithArgs(second.ID, "authz_denied", sqlmock.AnyArg(), "u1", nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "tenant mismatch", nil,
				[]byte(`{"resource":"document:acme/1"}`), second.Timestamp).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.InsertBatch(context.Background(), []*models.SecurityEvent{first, second}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		repo, mock := newEventRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO security_events").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO security_events").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := repo.InsertBatch(context.Background(), []*models.SecurityEvent{first, second})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		repo, mock := newEventRepo(t)
		require.NoError(t, repo.InsertBatch(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSecurityEventRepository_List(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.New()

	t.Run("by request id", func(t *testing.T) {
		repo, mock := newEventRepo(t)

		mock.ExpectQuery("FROM security_events\\s+WHERE request_id = \\$1 ORDER BY timestamp ASC").
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows(eventColumns).AddRow(
				id.String(), "request_rejected", "req-1", nil, "acme", "1.2.3.4", "/dashboard",
				"protected", "auth", int64(302), "authentication required", nil, nil, ts))

		events, err := repo.ListByRequestID(context.Background(), "req-1")
		require.NoError(t, err)
		require.Len(t, events, 1)

		e := events[0]
		assert.Equal(t, id, e.ID)
		assert.Equal(t, models.SecurityEventRequestRejected, e.Kind)
		assert.Nil(t, e.SubjectID)
		require.NotNil(t, e.TenantID)
		assert.Equal(t, "acme", *e.TenantID)
		assert.Equal(t, models.RouteClassProtected, e.RouteClass)
		assert.Equal(t, 302, e.StatusCode)
		assert.Nil(t, e.Details)
		assert.Equal(t, ts, e.Timestamp)
	})

	t.Run("recent clamps the limit", func(t *testing.T) {
		repo, mock := newEventRepo(t)

		mock.ExpectQuery("ORDER BY timestamp DESC LIMIT \\$1").
			WithArgs(100).
			WillReturnRows(sqlmock.NewRows(eventColumns))

		events, err := repo.ListRecent(context.Background(), 5000)
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTxManager_JoinsOuterTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTxManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sessions := NewSessionRepository(db, zap.NewNop())
	err := tm.InTransaction(context.Background(), func(ctx context.Context, _ repositories.Transaction) error {
		return tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			_, err := sessions.DeleteExpired(ctx, time.Now())
			return err
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
