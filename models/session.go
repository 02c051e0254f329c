package models

import "time"

// Session is a server-side login session referenced by an opaque cookie
type Session struct {
	ID         string            `json:"id" db:"id"`
	SubjectID  string            `json:"subject_id" db:"subject_id"`
	TenantID   string            `json:"tenant_id" db:"tenant_id"`
	Attributes map[string]string `json:"attributes,omitempty" db:"attributes"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at" db:"expires_at"`
	RevokedAt  *time.Time        `json:"revoked_at,omitempty" db:"revoked_at"`
}

// IsActive reports whether the session can still authenticate at now
func (s *Session) IsActive(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Identity converts the session into the identity it vouches for
func (s *Session) Identity() *Identity {
	return &Identity{
		SubjectID:  s.SubjectID,
		TenantID:   s.TenantID,
		Attributes: s.Attributes,
		ExpiresAt:  s.ExpiresAt,
	}
}
