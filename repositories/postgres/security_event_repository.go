package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/repositories"
	"go.uber.org/zap"
)

// SecurityEventRepository implements repositories.SecurityEventRepository
type SecurityEventRepository struct {
	db     *DB
	tx     repositories.TransactionManager
	logger *zap.Logger
}

// NewSecurityEventRepository creates a new security event repository
func NewSecurityEventRepository(db *DB, tx repositories.TransactionManager, logger *zap.Logger) repositories.SecurityEventRepository {
	return &SecurityEventRepository{db: db, tx: tx, logger: logger}
}

const insertSecurityEvent = `
	INSERT INTO security_events (
		id, kind, request_id, subject_id, tenant_id, client_ip, path,
		route_class, stage, status_code, reason, policy_id, details, timestamp
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
	)
`

const selectSecurityEvents = `
	SELECT id, kind, request_id, subject_id, tenant_id, client_ip, path,
	       route_class, stage, status_code, reason, policy_id, details, timestamp
	FROM security_events
`

// InsertBatch stores all events in one transaction
func (r *SecurityEventRepository) InsertBatch(ctx context.Context, events []*models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	err := r.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		for _, e := range events {
			var details interface{}
			if len(e.Details) > 0 {
				details = []byte(e.Details)
			}
			_, err := r.db.conn(ctx).ExecContext(ctx, insertSecurityEvent,
				e.ID,
				string(e.Kind),
				e.RequestID,
				e.SubjectID,
				e.TenantID,
				e.ClientIP,
				e.Path,
				string(e.RouteClass),
				e.Stage,
				e.StatusCode,
				e.Reason,
				e.PolicyID,
				details,
				e.Timestamp,
			)
			if err != nil {
				return fmt.Errorf("failed to insert security event %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("security events inserted", zap.Int("count", len(events)))
	return nil
}

// ListByRequestID returns the events recorded for one request, oldest first
func (r *SecurityEventRepository) ListByRequestID(ctx context.Context, requestID string) ([]*models.SecurityEvent, error) {
	return r.list(ctx, selectSecurityEvents+` WHERE request_id = $1 ORDER BY timestamp ASC`, requestID)
}

// ListRecent returns the newest events first
func (r *SecurityEventRepository) ListRecent(ctx context.Context, limit int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return r.list(ctx, selectSecurityEvents+` ORDER BY timestamp DESC LIMIT $1`, limit)
}

func (r *SecurityEventRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.SecurityEvent, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	var events []*models.SecurityEvent
	for rows.Next() {
		e := &models.SecurityEvent{}
		var (
			requestID, clientIP, path, routeClass, stage sql.NullString
			subjectID, tenantID, policyID                sql.NullString
			statusCode                                   sql.NullInt64
			details                                      []byte
		)
		if err := rows.Scan(
			&e.ID,
			&e.Kind,
			&requestID,
			&subjectID,
			&tenantID,
			&clientIP,
			&path,
			&routeClass,
			&stage,
			&statusCode,
			&e.Reason,
			&policyID,
			&details,
			&e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}

		e.RequestID = requestID.String
		e.ClientIP = clientIP.String
		e.Path = path.String
		e.RouteClass = models.RouteClass(routeClass.String)
		e.Stage = stage.String
		e.StatusCode = int(statusCode.Int64)
		e.SubjectID = nullableString(subjectID)
		e.TenantID = nullableString(tenantID)
		e.PolicyID = nullableString(policyID)
		if len(details) > 0 {
			e.Details = details
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate security events: %w", err)
	}
	return events, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
