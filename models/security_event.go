package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SecurityEventKind represents the type of security decision being audited
type SecurityEventKind string

const (
	SecurityEventRequestRejected SecurityEventKind = "request_rejected"
	SecurityEventAuthzDenied     SecurityEventKind = "authz_denied"
	SecurityEventAuthzAllowed    SecurityEventKind = "authz_allowed"
	SecurityEventEgressBlocked   SecurityEventKind = "egress_blocked"
)

// SecurityEvent represents an audit trail entry for a security decision
type SecurityEvent struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	Kind       SecurityEventKind `json:"kind" db:"kind"`
	RequestID  string            `json:"request_id" db:"request_id"`
	SubjectID  *string           `json:"subject_id,omitempty" db:"subject_id"`
	TenantID   *string           `json:"tenant_id,omitempty" db:"tenant_id"`
	ClientIP   string            `json:"client_ip" db:"client_ip"`
	Path       string            `json:"path" db:"path"`
	RouteClass RouteClass        `json:"route_class,omitempty" db:"route_class"`
	Stage      string            `json:"stage,omitempty" db:"stage"`
	StatusCode int               `json:"status_code,omitempty" db:"status_code"`
	Reason     string            `json:"reason" db:"reason"`
	PolicyID   *string           `json:"policy_id,omitempty" db:"policy_id"`
	Details    json.RawMessage   `json:"details,omitempty" db:"details"`
	Timestamp  time.Time         `json:"timestamp" db:"timestamp"`
}

// NewSecurityEvent creates an event with a fresh id and timestamp
func NewSecurityEvent(kind SecurityEventKind, reason string) *SecurityEvent {
	return &SecurityEvent{
		ID:        uuid.New(),
		Kind:      kind,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// WithSubject attaches identity facts when present
func (e *SecurityEvent) WithSubject(sc SecurityContext) *SecurityEvent {
	if sc.IsAuthenticated() {
		subject := sc.SubjectID()
		e.SubjectID = &subject
	}
	if tenant := sc.TenantID(); tenant != "" {
		e.TenantID = &tenant
	}
	return e
}
