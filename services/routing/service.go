package routing

import (
	"path"
	"strings"

	"github.com/upb/request-shield/models"
)

// Rules lists the path prefixes for each non-public route class
type Rules struct {
	Internal  []string
	Protected []string
	AuthPages []string
}

// Classifier maps request paths to a route class.
// Safe for concurrent use; it holds no mutable state after construction.
type Classifier struct {
	classes []classRule
}

type classRule struct {
	class    models.RouteClass
	prefixes []string
}

// NewClassifier builds a Classifier. When prefixes of different classes
// overlap, the stricter class wins: internal, then protected, then auth page.
func NewClassifier(rules Rules) *Classifier {
	return &Classifier{
		classes: []classRule{
			{class: models.RouteClassInternalOnly, prefixes: normalizePrefixes(rules.Internal)},
			{class: models.RouteClassProtected, prefixes: normalizePrefixes(rules.Protected)},
			{class: models.RouteClassAuthPage, prefixes: normalizePrefixes(rules.AuthPages)},
		},
	}
}

// Classify returns the route class for p. Unmatched paths are public.
func (c *Classifier) Classify(p string) models.RouteClass {
	normalized := NormalizePath(p)
	for _, rule := range c.classes {
		for _, prefix := range rule.prefixes {
			if MatchesPrefix(normalized, prefix) {
				return rule.class
			}
		}
	}
	return models.RouteClassPublic
}

// NormalizePath folds case, collapses duplicate slashes and resolves dot
// segments so equivalent spellings of a path classify the same way.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(path.Clean(p))
}

// MatchesPrefix reports whether p equals prefix or lies below it on a segment
// boundary: "/internal" matches "/internal/x" but not "/internal-other".
func MatchesPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func normalizePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		if strings.TrimSpace(prefix) == "" {
			continue
		}
		out = append(out, NormalizePath(strings.TrimSpace(prefix)))
	}
	return out
}
