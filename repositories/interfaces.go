package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/upb/request-shield/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when an insert collides with an existing key
	ErrConflict = errors.New("record already exists")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// SessionRepository stores server-side login sessions
type SessionRepository interface {
	// Create stores a new session
	Create(ctx context.Context, session *models.Session) error

	// GetByID returns the session, or ErrNotFound
	GetByID(ctx context.Context, id string) (*models.Session, error)

	// Revoke marks a session as revoked
	Revoke(ctx context.Context, id string, at time.Time) error

	// DeleteExpired removes sessions that expired before the cutoff
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SecurityEventRepository persists the security audit trail
type SecurityEventRepository interface {
	// InsertBatch stores events atomically
	InsertBatch(ctx context.Context, events []*models.SecurityEvent) error

	// ListByRequestID returns the events recorded for one request
	ListByRequestID(ctx context.Context, requestID string) ([]*models.SecurityEvent, error)

	// ListRecent returns the newest events first
	ListRecent(ctx context.Context, limit int) ([]*models.SecurityEvent, error)
}
