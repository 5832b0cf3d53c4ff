package engine

import (
	"sync"

	"github.com/vantagehq/vantage/backend/internal/perspective"
	"github.com/vantagehq/vantage/backend/internal/settings"
)

// Resolution names the perspective chosen for the first render. Exactly one
// of Perspective and RolePerspective is set.
type Resolution struct {
	Perspective     *perspective.Perspective
	RolePerspective *perspective.RolePerspective
	Settings        *settings.PerspectiveSettings
}

// PerspectiveID returns the id of the chosen perspective.
func (r Resolution) PerspectiveID() string {
	if r.Perspective != nil {
		return r.Perspective.ID
	}
	if r.RolePerspective != nil {
		return r.RolePerspective.ID
	}
	return ""
}

// ResolveInitial deterministically picks the perspective to activate on first
// render. Precedence, first match wins:
//
//  1. the session's already-active id, if it still resolves against source
//  2. the device cookie pointer
//  3. the device snapshot pointer
//  4. the server-declared default perspective id
//  5. the first role perspective flagged as default
//  6. the first personal perspective in server list order
//
// The second return is false when nothing matched; the caller keeps whatever
// settings were already seeded and must not invent empty ones.
func ResolveInitial(source perspective.Source, activeID, pointerID, snapshotID string) (Resolution, bool) {
	for _, candidate := range []string{activeID, pointerID, snapshotID, source.DefaultPerspectiveID} {
		if resolution, ok := resolveID(source, candidate); ok {
			return resolution, true
		}
	}

	for index := range source.RolePerspectives {
		if source.RolePerspectives[index].IsDefault {
			chosen := source.RolePerspectives[index]
			return Resolution{RolePerspective: &chosen, Settings: chosen.Settings}, true
		}
	}

	if len(source.Perspectives) > 0 {
		chosen := source.Perspectives[0]
		return Resolution{Perspective: &chosen, Settings: chosen.Settings}, true
	}

	return Resolution{}, false
}

func resolveID(source perspective.Source, perspectiveID string) (Resolution, bool) {
	if perspectiveID == "" {
		return Resolution{}, false
	}
	if personal := source.FindPerspective(perspectiveID); personal != nil {
		chosen := *personal
		return Resolution{Perspective: &chosen, Settings: chosen.Settings}, true
	}
	if shared := source.FindRolePerspective(perspectiveID); shared != nil {
		chosen := *shared
		return Resolution{RolePerspective: &chosen, Settings: chosen.Settings}, true
	}
	return Resolution{}, false
}

// ResolutionState is the lifecycle of the one-shot initial resolution.
type ResolutionState int

const (
	// ResolutionUnresolved means the initial resolution has not run yet.
	ResolutionUnresolved ResolutionState = iota
	// ResolutionResolved means the single allowed transition has happened.
	ResolutionResolved
)

// resolutionGate is the explicit state machine guarding initial resolution:
// Unresolved -> Resolved is the only transition, so a refetch of the source
// can never replay resolution over live user edits. Reset is reserved for the
// coordinator after the active perspective is deleted.
type resolutionGate struct {
	mu    sync.Mutex
	state ResolutionState
}

// TryAcquire performs the single transition. It returns false when resolution
// already ran.
func (g *resolutionGate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == ResolutionResolved {
		return false
	}
	g.state = ResolutionResolved
	return true
}

// Reset rearms the gate so a future reload can resolve anew.
func (g *resolutionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = ResolutionUnresolved
}

// State reports the current gate state.
func (g *resolutionGate) State() ResolutionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
