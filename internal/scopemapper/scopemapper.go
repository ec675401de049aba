// Package scopemapper implements the ScopeMapper component of spec.md §4.7:
// translating an upstream provider's granted scopes and raw profile claims
// (groups, roles, custom claims) into the gateway's own mxcp_scopes
// vocabulary, which PolicyEvaluator and endpoint RequiredScopes checks
// operate on.
package scopemapper

import "github.com/mxcp-io/mxcp-core/internal/logger"

// Rule maps one upstream signal to a set of mxcp scopes. Exactly one of
// FromProviderScope, FromGroup or FromRole should be set; Grants is unioned
// into the result whenever the rule matches.
type Rule struct {
	FromProviderScope string
	FromGroup         string
	FromRole          string
	Grants            []string
}

// Mapper evaluates a fixed list of Rules against one authenticated user's
// provider scopes and raw profile.
type Mapper struct {
	rules []Rule
}

// New builds a Mapper from a provider's configured scope-mapping rules.
func New(rules []Rule) *Mapper {
	return &Mapper{rules: rules}
}

// Map returns the union of every rule's Grants that matched providerScopes
// or one of the "groups"/"roles" claims in rawProfile. The result is a set
// (each scope appears once), in no particular order.
func (m *Mapper) Map(providerScopes []string, rawProfile map[string]any) []string {
	granted := map[string]struct{}{}

	scopeSet := toSet(providerScopes)
	groupSet := toSet(stringSliceClaim(rawProfile, "groups"))
	roleSet := toSet(stringSliceClaim(rawProfile, "roles"))

	for _, r := range m.rules {
		switch {
		case r.FromProviderScope != "":
			if _, ok := scopeSet[r.FromProviderScope]; ok {
				grant(granted, r.Grants)
			}
		case r.FromGroup != "":
			if _, ok := groupSet[r.FromGroup]; ok {
				grant(granted, r.Grants)
			}
		case r.FromRole != "":
			if _, ok := roleSet[r.FromRole]; ok {
				grant(granted, r.Grants)
			}
		default:
			logger.Warnw("scopemapper: rule has no match condition, ignoring", "grants", r.Grants)
		}
	}

	out := make([]string, 0, len(granted))
	for s := range granted {
		out = append(out, s)
	}
	return out
}

func grant(granted map[string]struct{}, scopes []string) {
	for _, s := range scopes {
		granted[s] = struct{}{}
	}
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		out[i] = struct{}{}
	}
	return out
}

// stringSliceClaim reads a claim that may be encoded as []string or []any
// (the common shape after JSON/CEL round-tripping) and normalizes it.
func stringSliceClaim(rawProfile map[string]any, key string) []string {
	v, ok := rawProfile[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
