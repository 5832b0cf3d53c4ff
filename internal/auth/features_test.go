package auth

import (
	"reflect"
	"testing"
)

func TestMatchFeature(t *testing.T) {
	tests := []struct {
		name    string
		granted []string
		feature string
		matched bool
	}{
		{name: "exact_match", granted: []string{"perspectives.manage"}, feature: "perspectives.manage", matched: true},
		{name: "universal_wildcard", granted: []string{"*"}, feature: "anything.at.all", matched: true},
		{name: "prefix_wildcard_child", granted: []string{"perspectives.*"}, feature: "perspectives.roles.assign", matched: true},
		{name: "prefix_wildcard_equals_prefix", granted: []string{"perspectives.*"}, feature: "perspectives", matched: true},
		{name: "prefix_requires_dot_boundary", granted: []string{"perspectives.*"}, feature: "perspectivesX", matched: false},
		{name: "no_grants", granted: nil, feature: "perspectives.manage", matched: false},
		{name: "unrelated_grant", granted: []string{"billing.*"}, feature: "perspectives.manage", matched: false},
		{name: "empty_feature", granted: []string{"*"}, feature: "", matched: false},
		{name: "bare_dot_star_grant_is_ignored", granted: []string{".*"}, feature: "perspectives", matched: false},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			if matched := MatchFeature(testCase.granted, testCase.feature); matched != testCase.matched {
				t.Fatalf("MatchFeature(%v, %q) = %v, expected %v", testCase.granted, testCase.feature, matched, testCase.matched)
			}
		})
	}
}

func TestFeatureGrantsUnion(t *testing.T) {
	grants := FeatureGrants{
		"*":       {"tables.read"},
		"admin":   {"perspectives.*", "tables.read"},
		"support": {"perspectives.view"},
	}

	granted := grants.GrantedFor([]string{"support", "unknown"})
	expected := []string{"perspectives.view", "tables.read"}
	if !reflect.DeepEqual(granted, expected) {
		t.Fatalf("unexpected grants: %#v", granted)
	}

	if granted := grants.GrantedFor(nil); !reflect.DeepEqual(granted, []string{"tables.read"}) {
		t.Fatalf("universal role should always apply: %#v", granted)
	}

	if granted := (FeatureGrants{}).GrantedFor([]string{"admin"}); granted != nil {
		t.Fatalf("empty grants should yield nil, got %#v", granted)
	}
}
