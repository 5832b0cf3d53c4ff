package engine

import (
	"testing"

	"github.com/vantagehq/vantage/backend/internal/perspective"
	"github.com/vantagehq/vantage/backend/internal/settings"
)

func testSource() perspective.Source {
	return perspective.Source{
		Perspectives: []perspective.Perspective{
			{ID: "pa", Name: "A", Settings: settings.Sanitize(map[string]any{"searchValue": "from-a"})},
			{ID: "pb", Name: "B", IsDefault: true, Settings: settings.Sanitize(map[string]any{"searchValue": "from-b"})},
		},
		RolePerspectives: []perspective.RolePerspective{
			{ID: "rp1", Name: "Team", RoleID: "support", IsDefault: true, Settings: settings.Sanitize(map[string]any{"searchValue": "from-role"})},
		},
		DefaultPerspectiveID: "pb",
	}
}

func TestResolveInitialPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		activeID   string
		pointerID  string
		snapshotID string
		expectedID string
	}{
		{name: "active_id_wins", activeID: "pa", pointerID: "pb", expectedID: "pa"},
		{name: "cookie_beats_server_default", pointerID: "pa", expectedID: "pa"},
		{name: "snapshot_beats_server_default", snapshotID: "pa", expectedID: "pa"},
		{name: "server_default_when_no_pointer", expectedID: "pb"},
		{name: "stale_pointer_falls_through", pointerID: "gone", expectedID: "pb"},
		{name: "role_perspective_resolves_by_id", pointerID: "rp1", expectedID: "rp1"},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			resolution, ok := ResolveInitial(testSource(), testCase.activeID, testCase.pointerID, testCase.snapshotID)
			if !ok {
				t.Fatalf("expected a resolution")
			}
			if resolution.PerspectiveID() != testCase.expectedID {
				t.Fatalf("expected %q, got %q", testCase.expectedID, resolution.PerspectiveID())
			}
		})
	}
}

func TestResolveInitialRoleDefaultBeforeFirstPersonal(t *testing.T) {
	source := testSource()
	source.DefaultPerspectiveID = ""
	source.Perspectives[1].IsDefault = false

	resolution, ok := ResolveInitial(source, "", "", "")
	if !ok {
		t.Fatalf("expected a resolution")
	}
	if resolution.RolePerspective == nil || resolution.RolePerspective.ID != "rp1" {
		t.Fatalf("expected role default rp1, got %#v", resolution)
	}
}

func TestResolveInitialFirstPersonalFallback(t *testing.T) {
	source := testSource()
	source.DefaultPerspectiveID = ""
	source.RolePerspectives = nil

	resolution, ok := ResolveInitial(source, "", "", "")
	if !ok {
		t.Fatalf("expected a resolution")
	}
	if resolution.PerspectiveID() != "pa" {
		t.Fatalf("expected first personal pa, got %q", resolution.PerspectiveID())
	}
}

func TestResolveInitialNoMatch(t *testing.T) {
	if _, ok := ResolveInitial(perspective.Source{}, "stale", "stale", "stale"); ok {
		t.Fatalf("expected no resolution for an empty source")
	}
}

func TestResolutionGateSingleTransition(t *testing.T) {
	gate := &resolutionGate{}
	if gate.State() != ResolutionUnresolved {
		t.Fatalf("expected unresolved initial state")
	}
	if !gate.TryAcquire() {
		t.Fatalf("first acquire should succeed")
	}
	if gate.TryAcquire() {
		t.Fatalf("second acquire should fail")
	}
	if gate.State() != ResolutionResolved {
		t.Fatalf("expected resolved state")
	}
	gate.Reset()
	if !gate.TryAcquire() {
		t.Fatalf("acquire after reset should succeed")
	}
}
