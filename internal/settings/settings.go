package settings

// SortRule orders a single column ascending or descending.
type SortRule struct {
	ColumnID   string `json:"id"`
	Descending bool   `json:"desc"`
}

// PerspectiveSettings is the canonical, sanitized shape of a table view
// configuration. Instances are only produced by Sanitize; a nil pointer means
// "no settings", which is distinct from an explicitly empty value.
type PerspectiveSettings struct {
	ColumnOrder      []string        `json:"columnOrder,omitempty"`
	ColumnVisibility map[string]bool `json:"columnVisibility,omitempty"`
	Sorting          []SortRule      `json:"sorting,omitempty"`
	Filters          map[string]any  `json:"filters,omitempty"`
	SearchValue      string          `json:"searchValue,omitempty"`
	PageSize         int             `json:"pageSize,omitempty"`
}

// IsEmpty reports whether no field carries a value.
func (s *PerspectiveSettings) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.ColumnOrder) == 0 &&
		len(s.ColumnVisibility) == 0 &&
		len(s.Sorting) == 0 &&
		len(s.Filters) == 0 &&
		s.SearchValue == "" &&
		s.PageSize == 0
}

// Clone returns a deep copy so callers can hold settings across mutations.
func (s *PerspectiveSettings) Clone() *PerspectiveSettings {
	if s == nil {
		return nil
	}
	out := &PerspectiveSettings{
		SearchValue: s.SearchValue,
		PageSize:    s.PageSize,
	}
	if len(s.ColumnOrder) > 0 {
		out.ColumnOrder = append([]string(nil), s.ColumnOrder...)
	}
	if len(s.ColumnVisibility) > 0 {
		out.ColumnVisibility = make(map[string]bool, len(s.ColumnVisibility))
		for key, value := range s.ColumnVisibility {
			out.ColumnVisibility[key] = value
		}
	}
	if len(s.Sorting) > 0 {
		out.Sorting = append([]SortRule(nil), s.Sorting...)
	}
	if len(s.Filters) > 0 {
		out.Filters = make(map[string]any, len(s.Filters))
		for key, value := range s.Filters {
			out.Filters[key] = value
		}
	}
	return out
}
