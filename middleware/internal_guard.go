package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/upb/request-shield/models"
)

// InternalKeyHeader carries the shared secret for internal-only routes
const InternalKeyHeader = "X-Internal-Key"

// InternalAccessDenied is the rejection reason for internal-only routes
const InternalAccessDenied = "Internal Access Only"

// InternalGuard admits internal-only requests that present one of the
// configured keys. Several keys may be active at once during rotation.
type InternalGuard struct {
	digests [][sha256.Size]byte
}

// NewInternalGuard creates the internal perimeter check. Empty keys are ignored.
func NewInternalGuard(keys []string) *InternalGuard {
	g := &InternalGuard{}
	for _, k := range keys {
		if k == "" {
			continue
		}
		g.digests = append(g.digests, sha256.Sum256([]byte(k)))
	}
	return g
}

// Allows reports whether a request of class presenting provided may pass.
// Keys are compared as fixed-size digests in constant time, and every
// configured key is checked so timing does not reveal which one matched.
func (g *InternalGuard) Allows(class models.RouteClass, provided string) bool {
	if class != models.RouteClassInternalOnly {
		return true
	}
	if provided == "" || len(g.digests) == 0 {
		return false
	}

	digest := sha256.Sum256([]byte(provided))
	match := 0
	for i := range g.digests {
		match |= subtle.ConstantTimeCompare(digest[:], g.digests[i][:])
	}
	return match == 1
}

// Name implements Guard
func (g *InternalGuard) Name() string { return "internal" }

// Passed implements Guard
func (g *InternalGuard) Passed() State { return StateInternalChecked }

// Evaluate implements Guard
func (g *InternalGuard) Evaluate(_ context.Context, req *Request) Decision {
	if !g.Allows(req.Class, req.HTTP.Header.Get(InternalKeyHeader)) {
		return Reject(http.StatusForbidden, InternalAccessDenied)
	}
	return Continue()
}
