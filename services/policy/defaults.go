package policy

// DefaultPolicies is the built-in policy set for tenant documents.
// File policies are evaluated after these, and any deny still wins.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:          "deny-suspended-subjects",
			Effect:      EffectDeny,
			Description: "suspended subjects may not act on anything",
			When: PredicateFunc(func(req Request) bool {
				status, _ := req.Subject.Attribute("status")
				return status == "suspended"
			}),
		},
		{
			ID:          "tenant-members-read-documents",
			Effect:      EffectAllow,
			Description: "authenticated tenant members may read their tenant's documents",
			When: PredicateFunc(func(req Request) bool {
				return req.Subject.IsAuthenticated() &&
					req.Resource.Type == "documents" &&
					req.Action == "read"
			}),
		},
		{
			ID:          "editors-write-documents",
			Effect:      EffectAllow,
			Description: "subjects with the editor attribute may modify documents",
			When: PredicateFunc(func(req Request) bool {
				editor, _ := req.Subject.Attribute("editor")
				return req.Subject.IsAuthenticated() &&
					req.Resource.Type == "documents" &&
					(req.Action == "write" || req.Action == "delete") &&
					editor == "true"
			}),
		},
	}
}
