package auth

import (
	"sort"
	"strings"
)

// FeatureGrants maps a role id to the feature patterns its members hold. The
// reserved role id "*" applies to every authenticated user.
type FeatureGrants map[string][]string

// GrantedFor returns the deduplicated union of grant patterns for the given
// roles, in sorted order for stable responses.
func (g FeatureGrants) GrantedFor(roles []string) []string {
	if len(g) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	collect := func(patterns []string) {
		for _, pattern := range patterns {
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				continue
			}
			seen[pattern] = struct{}{}
		}
	}
	collect(g["*"])
	for _, role := range roles {
		collect(g[role])
	}
	if len(seen) == 0 {
		return nil
	}
	granted := make([]string, 0, len(seen))
	for pattern := range seen {
		granted = append(granted, pattern)
	}
	sort.Strings(granted)
	return granted
}

// MatchFeature reports whether a candidate feature is covered by the granted
// patterns. A grant matches when it is the exact feature, the universal
// wildcard "*", or a "prefix.*" wildcard whose prefix equals the candidate or
// is a dotted ancestor of it.
func MatchFeature(granted []string, feature string) bool {
	feature = strings.TrimSpace(feature)
	if feature == "" {
		return false
	}
	for _, grant := range granted {
		grant = strings.TrimSpace(grant)
		if grant == "" {
			continue
		}
		if grant == "*" || grant == feature {
			return true
		}
		if !strings.HasSuffix(grant, ".*") {
			continue
		}
		prefix := strings.TrimSuffix(grant, ".*")
		if prefix == "" {
			continue
		}
		if feature == prefix || strings.HasPrefix(feature, prefix+".") {
			return true
		}
	}
	return false
}
