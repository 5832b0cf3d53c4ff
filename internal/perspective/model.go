package perspective

import (
	"github.com/vantagehq/vantage/backend/internal/settings"
)

// Perspective is a named, server-owned settings set scoped to one table and
// one owning user. Saves are full replacements keyed by perspective id; a
// perspective is never mutated in place.
type Perspective struct {
	ID        string                        `json:"id"`
	Name      string                        `json:"name"`
	Settings  *settings.PerspectiveSettings `json:"settings"`
	IsDefault bool                          `json:"isDefault"`
}

// RolePerspective is a named settings set shared with every member of a role.
// HasPreference reports whether the requesting user carries a member-level
// override for the same table.
type RolePerspective struct {
	ID            string                        `json:"id"`
	Name          string                        `json:"name"`
	RoleID        string                        `json:"roleId"`
	Settings      *settings.PerspectiveSettings `json:"settings"`
	IsDefault     bool                          `json:"isDefault"`
	HasPreference bool                          `json:"hasPreference"`
}

// Role identifies a role the requesting user may share perspectives with.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source is the full server response for one table: everything the resolver
// needs to pick an initial perspective.
type Source struct {
	Perspectives         []Perspective     `json:"perspectives"`
	RolePerspectives     []RolePerspective `json:"rolePerspectives"`
	Roles                []Role            `json:"roles"`
	DefaultPerspectiveID string            `json:"defaultPerspectiveId"`
	CanApplyToRoles      bool              `json:"canApplyToRoles"`
}

// FindPerspective returns the personal perspective with the given id, if any.
func (s Source) FindPerspective(perspectiveID string) *Perspective {
	if perspectiveID == "" {
		return nil
	}
	for index := range s.Perspectives {
		if s.Perspectives[index].ID == perspectiveID {
			return &s.Perspectives[index]
		}
	}
	return nil
}

// FindRolePerspective returns the role perspective with the given id, if any.
func (s Source) FindRolePerspective(perspectiveID string) *RolePerspective {
	if perspectiveID == "" {
		return nil
	}
	for index := range s.RolePerspectives {
		if s.RolePerspectives[index].ID == perspectiveID {
			return &s.RolePerspectives[index]
		}
	}
	return nil
}

// SaveRequest carries one save mutation: the current view settings plus the
// naming and sharing flags chosen by the user.
type SaveRequest struct {
	PerspectiveID  string                        `json:"perspectiveId,omitempty"`
	Name           string                        `json:"name"`
	Settings       *settings.PerspectiveSettings `json:"settings"`
	IsDefault      bool                          `json:"isDefault"`
	ApplyToRoles   []string                      `json:"applyToRoles,omitempty"`
	SetRoleDefault bool                          `json:"setRoleDefault"`
}
