package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeEgressBlocked, "destination blocked", baseErr)

	assert.Equal(t, ErrorTypeEgressBlocked, domainErr.Type)
	assert.Equal(t, "destination blocked", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeDNSFailure,
				Message: "lookup failed",
				Err:     errors.New("no such host"),
			},
			wantMsg: "dns_failure: lookup failed (no such host)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same error type",
			err:    NewDomainError(ErrorTypeEgressBlocked, "loopback", nil),
			target: ErrBlockedDestination,
			want:   true,
		},
		{
			name:   "different error type",
			err:    NewDomainError(ErrorTypeValidation, "validation", nil),
			target: ErrBlockedDestination,
			want:   false,
		},
		{
			name:   "not a domain error",
			err:    NewDomainError(ErrorTypeRateLimit, "too many", nil),
			target: errors.New("regular error"),
			want:   false,
		},
		{
			name:   "wrapped with fmt",
			err:    fmt.Errorf("fetch: %w", NewDomainError(ErrorTypeRedirectBlocked, "hop 2", nil)),
			target: ErrRedirectBlocked,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeEgressBlocked, "blocked", nil)

	err.WithDetail("host", "metadata.internal").WithDetail("ip", "169.254.169.254")

	assert.Equal(t, "metadata.internal", err.Details["host"])
	assert.Equal(t, "169.254.169.254", err.Details["ip"])
}

func TestErrorTypePredicates(t *testing.T) {
	tests := []struct {
		name string
		fn   func(error) bool
		err  error
		want bool
	}{
		{"validation", IsValidationError, ErrInvalidPolicy, true},
		{"validation wrapped", IsValidationError, fmt.Errorf("load: %w", ErrInvalidInput), true},
		{"validation mismatch", IsValidationError, ErrForbidden, false},
		{"unauthorized token", IsUnauthorizedError, ErrInvalidToken, true},
		{"unauthorized expired", IsUnauthorizedError, ErrTokenExpired, true},
		{"unauthorized mismatch", IsUnauthorizedError, ErrInvalidInput, false},
		{"forbidden tenant", IsForbiddenError, ErrTenantMismatch, true},
		{"forbidden mismatch", IsForbiddenError, ErrUnauthorized, false},
		{"rate limit", IsRateLimitError, ErrRateLimitExceeded, true},
		{"internal db", IsInternalError, ErrDatabaseError, true},
		{"internal mismatch", IsInternalError, ErrIdentityProviderUnavailable, false},
		{"external idp", IsExternalError, ErrIdentityProviderUnavailable, true},
		{"plain error", IsInternalError, errors.New("plain"), false},
		{"nil error", IsValidationError, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.err))
		})
	}
}

func TestEgressClassification(t *testing.T) {
	for _, err := range []error{ErrInvalidURL, ErrBlockedDestination, ErrRedirectBlocked} {
		assert.True(t, IsEgressRejection(err), err.Error())
		assert.False(t, IsEgressFailure(err), err.Error())
	}
	for _, err := range []error{ErrDNSFailure, ErrNetworkFailure} {
		assert.True(t, IsEgressFailure(err), err.Error())
		assert.False(t, IsEgressRejection(err), err.Error())
	}
	assert.False(t, IsEgressRejection(errors.New("plain")))
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"blocked", ErrBlockedDestination, ErrorTypeEgressBlocked},
		{"validation", ErrInvalidInput, ErrorTypeValidation},
		{"rate limit", ErrRateLimitExceeded, ErrorTypeRateLimit},
		{"network", ErrNetworkFailure, ErrorTypeNetwork},
		{"regular error", errors.New("regular"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(tt.err))
		})
	}
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)
	err.WithDetail("field", "policies[0].effect").WithDetail("reason", "oneof")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "policies[0].effect", details["field"])
	assert.Equal(t, "oneof", details["reason"])

	assert.Nil(t, GetErrorDetails(errors.New("regular error")))
}

func TestWrapError(t *testing.T) {
	baseErr := errors.New("base error")
	wrapped := WrapError(ErrorTypeInternal, "wrapped message", baseErr)

	var domainErr *DomainError
	require.True(t, errors.As(wrapped, &domainErr))
	assert.Equal(t, ErrorTypeInternal, domainErr.Type)
	assert.Equal(t, "wrapped message", domainErr.Message)
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapInternal(t *testing.T) {
	baseErr := errors.New("database connection failed")
	wrapped := WrapInternal("failed to connect", baseErr)

	assert.True(t, IsInternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapExternal(t *testing.T) {
	baseErr := errors.New("jwks endpoint returned 503")
	wrapped := WrapExternal("identity provider request failed", baseErr)

	assert.True(t, IsExternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}
