package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteClass_IsValid(t *testing.T) {
	assert.True(t, RouteClassPublic.IsValid())
	assert.True(t, RouteClassAuthPage.IsValid())
	assert.True(t, RouteClassProtected.IsValid())
	assert.True(t, RouteClassInternalOnly.IsValid())
	assert.False(t, RouteClass("admin").IsValid())
}

func TestNewSecurityContext(t *testing.T) {
	t.Run("nil identity is anonymous", func(t *testing.T) {
		sc := NewSecurityContext(nil)
		assert.False(t, sc.IsAuthenticated())
		assert.Empty(t, sc.SubjectID())
		assert.Empty(t, sc.TenantID())
	})

	t.Run("blank subject is anonymous", func(t *testing.T) {
		sc := NewSecurityContext(&Identity{SubjectID: "  ", TenantID: "acme"})
		assert.False(t, sc.IsAuthenticated())
		assert.Empty(t, sc.TenantID())
	})

	t.Run("attributes are copied", func(t *testing.T) {
		attrs := map[string]string{"department": "finance"}
		sc := NewSecurityContext(&Identity{SubjectID: "u1", TenantID: "acme", Attributes: attrs})
		attrs["department"] = "changed"

		v, ok := sc.Attribute("department")
		assert.True(t, ok)
		assert.Equal(t, "finance", v)

		copied := sc.Attributes()
		copied["department"] = "mutated"
		v, _ = sc.Attribute("department")
		assert.Equal(t, "finance", v)
		assert.Equal(t, "u1", sc.SubjectID())
		assert.Equal(t, "acme", sc.TenantID())
	})
}
