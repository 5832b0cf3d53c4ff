package settings

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	maxSearchLength = 200
	minPageSize     = 1
	maxPageSize     = 500
)

// forbiddenKeys are rejected at every mapping level so untrusted payloads can
// never smuggle prototype-polluting identifiers through a persisted settings
// object and back out to a JavaScript consumer.
var forbiddenKeys = map[string]struct{}{
	"__proto__":   {},
	"prototype":   {},
	"constructor": {},
}

func keyForbidden(key string) bool {
	_, forbidden := forbiddenKeys[key]
	return forbidden
}

// Sanitize filters an untrusted payload down to the canonical
// PerspectiveSettings shape. Malformed fields are dropped, never fatal; the
// return value is nil when nothing survives, so callers can distinguish
// "no settings" from an applied-but-empty preference. Sanitize is the only
// permitted constructor for PerspectiveSettings crossing a module boundary.
func Sanitize(raw any) *PerspectiveSettings {
	switch value := raw.(type) {
	case nil:
		return nil
	case *PerspectiveSettings:
		if value == nil {
			return nil
		}
		return sanitizeTyped(*value)
	case PerspectiveSettings:
		return sanitizeTyped(value)
	case map[string]any:
		return sanitizeMap(value)
	default:
		return nil
	}
}

func sanitizeMap(raw map[string]any) *PerspectiveSettings {
	result := &PerspectiveSettings{}

	if order, ok := raw["columnOrder"].([]any); ok {
		result.ColumnOrder = sanitizeColumnOrder(order)
	}

	if visibility, ok := raw["columnVisibility"].(map[string]any); ok {
		for key, value := range visibility {
			flag, isBool := value.(bool)
			if !isBool || key == "" || keyForbidden(key) {
				continue
			}
			if result.ColumnVisibility == nil {
				result.ColumnVisibility = map[string]bool{}
			}
			result.ColumnVisibility[key] = flag
		}
	}

	if sorting, ok := raw["sorting"].([]any); ok {
		for _, entry := range sorting {
			rule, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			columnID, idOK := rule["id"].(string)
			descending, descOK := rule["desc"].(bool)
			if !idOK || !descOK || strings.TrimSpace(columnID) == "" || keyForbidden(columnID) {
				continue
			}
			result.Sorting = append(result.Sorting, SortRule{ColumnID: columnID, Descending: descending})
		}
	}

	if filters, ok := raw["filters"].(map[string]any); ok {
		for key, value := range filters {
			if key == "" || keyForbidden(key) {
				continue
			}
			if result.Filters == nil {
				result.Filters = map[string]any{}
			}
			result.Filters[key] = value
		}
	}

	if search, ok := raw["searchValue"].(string); ok {
		result.SearchValue = sanitizeSearch(search)
	}

	if size, ok := coercePageSize(raw["pageSize"]); ok {
		result.PageSize = size
	}

	if result.IsEmpty() {
		return nil
	}
	return result
}

func sanitizeTyped(value PerspectiveSettings) *PerspectiveSettings {
	result := &PerspectiveSettings{}

	seen := map[string]struct{}{}
	for _, id := range value.ColumnOrder {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" || keyForbidden(trimmed) {
			continue
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		result.ColumnOrder = append(result.ColumnOrder, trimmed)
	}

	for key, flag := range value.ColumnVisibility {
		if key == "" || keyForbidden(key) {
			continue
		}
		if result.ColumnVisibility == nil {
			result.ColumnVisibility = map[string]bool{}
		}
		result.ColumnVisibility[key] = flag
	}

	for _, rule := range value.Sorting {
		if strings.TrimSpace(rule.ColumnID) == "" || keyForbidden(rule.ColumnID) {
			continue
		}
		result.Sorting = append(result.Sorting, rule)
	}

	for key, filterValue := range value.Filters {
		if key == "" || keyForbidden(key) {
			continue
		}
		if result.Filters == nil {
			result.Filters = map[string]any{}
		}
		result.Filters[key] = filterValue
	}

	result.SearchValue = sanitizeSearch(value.SearchValue)

	if size, ok := coercePageSize(value.PageSize); ok {
		result.PageSize = size
	}

	if result.IsEmpty() {
		return nil
	}
	return result
}

func sanitizeColumnOrder(entries []any) []string {
	var order []string
	seen := map[string]struct{}{}
	for _, entry := range entries {
		id, ok := entry.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(id)
		if trimmed == "" || keyForbidden(trimmed) {
			continue
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		order = append(order, trimmed)
	}
	return order
}

// sanitizeSearch trims and caps the search text. The cap counts runes, not
// bytes, so a multi-byte character is never split into invalid UTF-8.
func sanitizeSearch(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if utf8.RuneCountInString(trimmed) > maxSearchLength {
		runes := []rune(trimmed)
		trimmed = strings.TrimSpace(string(runes[:maxSearchLength]))
	}
	return trimmed
}

func coercePageSize(raw any) (int, bool) {
	var size int
	switch value := raw.(type) {
	case int:
		size = value
	case int64:
		size = int(value)
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, false
		}
		size = int(value)
	default:
		return 0, false
	}
	if size == 0 {
		return 0, false
	}
	if size < minPageSize {
		size = minPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return size, true
}
