package models

import (
	"strings"
	"time"
)

// RouteClass is the classification of a request path
type RouteClass string

const (
	RouteClassPublic       RouteClass = "public"
	RouteClassAuthPage     RouteClass = "auth_page"
	RouteClassProtected    RouteClass = "protected"
	RouteClassInternalOnly RouteClass = "internal_only"
)

// IsValid returns true if the route class is one of the known classes
func (c RouteClass) IsValid() bool {
	switch c {
	case RouteClassPublic, RouteClassAuthPage, RouteClassProtected, RouteClassInternalOnly:
		return true
	}
	return false
}

// Identity is what an identity provider returns for a valid credential
type Identity struct {
	SubjectID  string
	TenantID   string
	Attributes map[string]string
	ExpiresAt  time.Time
}

// SecurityContext carries identity facts for a single request.
// It never carries roles or permissions; those are derived by the authorization engine.
type SecurityContext struct {
	subjectID  string
	tenantID   string
	attributes map[string]string
}

// Anonymous returns a SecurityContext without subject or tenant
func Anonymous() SecurityContext {
	return SecurityContext{}
}

// NewSecurityContext builds an immutable SecurityContext from an identity
func NewSecurityContext(identity *Identity) SecurityContext {
	if identity == nil || strings.TrimSpace(identity.SubjectID) == "" {
		return Anonymous()
	}
	attrs := make(map[string]string, len(identity.Attributes))
	for k, v := range identity.Attributes {
		attrs[k] = v
	}
	return SecurityContext{
		subjectID:  identity.SubjectID,
		tenantID:   identity.TenantID,
		attributes: attrs,
	}
}

// SubjectID returns the subject id, empty when unauthenticated
func (c SecurityContext) SubjectID() string {
	return c.subjectID
}

// TenantID returns the tenant id, empty when unknown
func (c SecurityContext) TenantID() string {
	return c.tenantID
}

// IsAuthenticated reports whether a subject was resolved
func (c SecurityContext) IsAuthenticated() bool {
	return c.subjectID != ""
}

// Attribute returns a single subject attribute
func (c SecurityContext) Attribute(name string) (string, bool) {
	v, ok := c.attributes[name]
	return v, ok
}

// Attributes returns a copy of the subject attributes
func (c SecurityContext) Attributes() map[string]string {
	out := make(map[string]string, len(c.attributes))
	for k, v := range c.attributes {
		out[k] = v
	}
	return out
}
