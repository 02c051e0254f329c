package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/repositories"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// SessionRepository implements repositories.SessionRepository
type SessionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB, logger *zap.Logger) repositories.SessionRepository {
	return &SessionRepository{db: db, logger: logger}
}

// Create stores a new session
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (id, subject_id, tenant_id, attributes, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	attrs, err := json.Marshal(nonNilAttributes(s.Attributes))
	if err != nil {
		return fmt.Errorf("failed to encode session attributes: %w", err)
	}

	_, err = r.db.conn(ctx).ExecContext(ctx, query,
		s.ID, s.SubjectID, s.TenantID, attrs, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return repositories.ErrConflict
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its opaque id
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, subject_id, tenant_id, attributes, created_at, expires_at, revoked_at
		FROM sessions
		WHERE id = $1
	`

	s := &models.Session{}
	var attrs []byte
	var revokedAt sql.NullTime
	err := r.db.conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.SubjectID,
		&s.TenantID,
		&attrs,
		&s.CreatedAt,
		&s.ExpiresAt,
		&revokedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &s.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode session attributes: %w", err)
		}
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return s, nil
}

// Revoke marks a session as revoked. Revoking twice keeps the first timestamp.
func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`

	res, err := r.db.conn(ctx).ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if n == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// DeleteExpired removes sessions that expired before the cutoff
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	if n > 0 {
		r.logger.Debug("expired sessions deleted", zap.Int64("count", n))
	}
	return n, nil
}

func nonNilAttributes(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
