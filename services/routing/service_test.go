package routing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/upb/request-shield/models"
)

func newTestClassifier() *Classifier {
	return NewClassifier(Rules{
		Internal:  []string{"/api/internal"},
		Protected: []string{"/dashboard", "/api/tenants"},
		AuthPages: []string{"/sign-in", "/sign-up/"},
	})
}

func TestClassifier_Classify(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		path string
		want models.RouteClass
	}{
		{"/", models.RouteClassPublic},
		{"", models.RouteClassPublic},
		{"/about", models.RouteClassPublic},
		{"/api/internal", models.RouteClassInternalOnly},
		{"/api/internal/test", models.RouteClassInternalOnly},
		{"/api/internal-other", models.RouteClassPublic},
		{"/api/internalx/test", models.RouteClassPublic},
		{"/dashboard", models.RouteClassProtected},
		{"/dashboard/settings", models.RouteClassProtected},
		{"/dashboards", models.RouteClassPublic},
		{"/api/tenants/acme/documents/1", models.RouteClassProtected},
		{"/sign-in", models.RouteClassAuthPage},
		{"/sign-up", models.RouteClassAuthPage},
		{"/sign-up/verify", models.RouteClassAuthPage},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.path))
		})
	}
}

func TestClassifier_PathConfusion(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		name string
		path string
	}{
		{"upper case", "/API/Internal/test"},
		{"double slash", "//api//internal/test"},
		{"dot segments", "/public/../api/internal/test"},
		{"current dir", "/api/./internal/test"},
		{"trailing slash", "/api/internal/"},
		{"backslash", "/api\\internal\\test"},
		{"missing leading slash", "api/internal/test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, models.RouteClassInternalOnly, c.Classify(tt.path))
		})
	}
}

func TestClassifier_StricterClassWins(t *testing.T) {
	c := NewClassifier(Rules{
		Internal:  []string{"/admin/ops"},
		Protected: []string{"/admin"},
	})

	assert.Equal(t, models.RouteClassProtected, c.Classify("/admin/users"))
	assert.Equal(t, models.RouteClassInternalOnly, c.Classify("/admin/ops/flush"))
}

func TestClassifier_TotalAndDeterministic(t *testing.T) {
	c := newTestClassifier()
	rng := rand.New(rand.NewSource(42))
	alphabet := []byte("/.\\-_aAiInN%?#\x00 ")

	for i := 0; i < 2000; i++ {
		b := make([]byte, rng.Intn(24))
		for j := range b {
			b[j] = alphabet[rng.Intn(len(alphabet))]
		}
		p := string(b)
		first := c.Classify(p)
		assert.True(t, first.IsValid(), "path %q", p)
		assert.Equal(t, first, c.Classify(p), "path %q", p)
	}
}

func TestClassifier_EmptyRules(t *testing.T) {
	c := NewClassifier(Rules{Protected: []string{"", "  "}})
	assert.Equal(t, models.RouteClassPublic, c.Classify("/anything"))
}

func TestMatchesPrefix(t *testing.T) {
	assert.True(t, MatchesPrefix("/a/b", "/"))
	assert.True(t, MatchesPrefix("/a", "/a"))
	assert.True(t, MatchesPrefix("/a/b", "/a"))
	assert.False(t, MatchesPrefix("/ab", "/a"))
}
