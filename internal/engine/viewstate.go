package engine

import (
	"errors"
	"sync"

	"github.com/vantagehq/vantage/backend/internal/settings"
)

var errMissingLeafColumns = errors.New("engine: leaf column provider is required")

// MoveDirection names the two adjacent-swap directions for MoveColumn.
type MoveDirection string

const (
	// MoveLeft swaps a column with its left neighbour.
	MoveLeft MoveDirection = "left"
	// MoveRight swaps a column with its right neighbour.
	MoveRight MoveDirection = "right"
)

// ViewStateConfig wires the live view state to its owning table. LeafColumns
// is required and must return the identifiers of the columns that currently
// exist; the remaining hooks let the owner keep filters, search, and page
// size in its own state while still participating in settings round trips.
type ViewStateConfig struct {
	LeafColumns func() []string

	Filters    func() map[string]any
	SetFilters func(map[string]any)

	Search    func() string
	SetSearch func(string)

	PageSize    func() int
	SetPageSize func(int)
}

// ViewState is the live, mutable view state a table renders from. It is owned
// by exactly one view instance; the mutex only protects against the
// coordinator's queue goroutines touching it concurrently with the UI.
type ViewState struct {
	mu          sync.Mutex
	cfg         ViewStateConfig
	columnOrder []string
	visibility  map[string]bool
	sorting     []settings.SortRule
}

// NewViewState builds a view state seeded with the current leaf columns, all
// visible, unsorted.
func NewViewState(cfg ViewStateConfig) (*ViewState, error) {
	if cfg.LeafColumns == nil {
		return nil, errMissingLeafColumns
	}
	state := &ViewState{cfg: cfg, visibility: map[string]bool{}}
	state.columnOrder = append([]string(nil), cfg.LeafColumns()...)
	return state, nil
}

// ApplySettings performs a total replace of the view state. An omitted column
// order falls back to the current leaf columns, and ids that no longer exist
// among them are discarded so the order never references stale columns.
// Omitted visibility means all visible; omitted sorting means unsorted.
// Filters, search, and page size delegate to the owner hooks when present.
func (v *ViewState) ApplySettings(applied *settings.PerspectiveSettings) {
	v.mu.Lock()
	leaf := v.cfg.LeafColumns()
	leafSet := make(map[string]struct{}, len(leaf))
	for _, id := range leaf {
		leafSet[id] = struct{}{}
	}

	var requestedOrder []string
	var requestedVisibility map[string]bool
	if applied != nil {
		requestedOrder = applied.ColumnOrder
		requestedVisibility = applied.ColumnVisibility
	}

	order := make([]string, 0, len(leaf))
	placed := make(map[string]struct{}, len(leaf))
	for _, id := range requestedOrder {
		if _, exists := leafSet[id]; !exists {
			continue
		}
		if _, duplicate := placed[id]; duplicate {
			continue
		}
		placed[id] = struct{}{}
		order = append(order, id)
	}
	for _, id := range leaf {
		if _, duplicate := placed[id]; duplicate {
			continue
		}
		placed[id] = struct{}{}
		order = append(order, id)
	}
	v.columnOrder = order

	v.visibility = map[string]bool{}
	for id, visible := range requestedVisibility {
		if _, exists := leafSet[id]; !exists {
			continue
		}
		v.visibility[id] = visible
	}

	v.sorting = nil
	if applied != nil && len(applied.Sorting) > 0 {
		v.sorting = append([]settings.SortRule(nil), applied.Sorting...)
	}
	v.mu.Unlock()

	if v.cfg.SetFilters != nil {
		var filters map[string]any
		if applied != nil && len(applied.Filters) > 0 {
			filters = make(map[string]any, len(applied.Filters))
			for key, value := range applied.Filters {
				filters[key] = value
			}
		}
		v.cfg.SetFilters(filters)
	}
	if v.cfg.SetSearch != nil {
		search := ""
		if applied != nil {
			search = applied.SearchValue
		}
		v.cfg.SetSearch(search)
	}
	if v.cfg.SetPageSize != nil {
		size := 0
		if applied != nil {
			size = applied.PageSize
		}
		v.cfg.SetPageSize(size)
	}
}

// CurrentSettings reads the live state back as canonical settings. The result
// passes through the sanitizing constructor so what is persisted always
// matches what is displayed, making ApplySettings(CurrentSettings()) a fixed
// point.
func (v *ViewState) CurrentSettings() *settings.PerspectiveSettings {
	v.mu.Lock()
	current := settings.PerspectiveSettings{
		ColumnOrder: append([]string(nil), v.columnOrder...),
	}
	if len(v.visibility) > 0 {
		current.ColumnVisibility = make(map[string]bool, len(v.visibility))
		for id, visible := range v.visibility {
			current.ColumnVisibility[id] = visible
		}
	}
	if len(v.sorting) > 0 {
		current.Sorting = append([]settings.SortRule(nil), v.sorting...)
	}
	v.mu.Unlock()

	if v.cfg.Filters != nil {
		current.Filters = v.cfg.Filters()
	}
	if v.cfg.Search != nil {
		current.SearchValue = v.cfg.Search()
	}
	if v.cfg.PageSize != nil {
		current.PageSize = v.cfg.PageSize()
	}
	return settings.Sanitize(current)
}

// MoveColumn swaps a column with its neighbour in the given direction. Moving
// past either boundary is a no-op.
func (v *ViewState) MoveColumn(columnID string, direction MoveDirection) {
	v.mu.Lock()
	defer v.mu.Unlock()
	position := -1
	for index, id := range v.columnOrder {
		if id == columnID {
			position = index
			break
		}
	}
	if position < 0 {
		return
	}
	neighbour := position - 1
	if direction == MoveRight {
		neighbour = position + 1
	}
	if neighbour < 0 || neighbour >= len(v.columnOrder) {
		return
	}
	v.columnOrder[position], v.columnOrder[neighbour] = v.columnOrder[neighbour], v.columnOrder[position]
}

// ToggleColumn shows or hides a column. The canonical "visible" is key
// absence, so toggling a column visible removes it from the map instead of
// storing true.
func (v *ViewState) ToggleColumn(columnID string, visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if visible {
		delete(v.visibility, columnID)
		return
	}
	v.visibility[columnID] = false
}

// SetSorting replaces the sort rules.
func (v *ViewState) SetSorting(rules []settings.SortRule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sorting = append([]settings.SortRule(nil), rules...)
}

// ColumnOrder returns a copy of the current column order.
func (v *ViewState) ColumnOrder() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.columnOrder...)
}

// ColumnVisibility returns a copy of the explicit visibility map.
func (v *ViewState) ColumnVisibility() map[string]bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]bool, len(v.visibility))
	for id, visible := range v.visibility {
		out[id] = visible
	}
	return out
}

// Sorting returns a copy of the current sort rules.
func (v *ViewState) Sorting() []settings.SortRule {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]settings.SortRule(nil), v.sorting...)
}
