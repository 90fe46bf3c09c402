// Package org defines the organizational hierarchy: SECTOR > DEPARTMENT > TEAM,
// plus the transitive closure used by run visibility.
package org

import (
	"errors"
	"fmt"

	"github.com/Strob0t/EvalForge/internal/domain/user"
)

// UnitType is the level of an org unit in the hierarchy.
type UnitType string

const (
	TypeTeam       UnitType = "TEAM"
	TypeDepartment UnitType = "DEPARTMENT"
	TypeSector     UnitType = "SECTOR"
)

// ValidUnitTypes is the set of recognized org unit types.
var ValidUnitTypes = map[UnitType]bool{
	TypeTeam:       true,
	TypeDepartment: true,
	TypeSector:     true,
}

// RequiredParentType returns the unit type a parent must have, or "" for roots.
func RequiredParentType(t UnitType) UnitType {
	switch t {
	case TypeTeam:
		return TypeDepartment
	case TypeDepartment:
		return TypeSector
	default:
		return ""
	}
}

// Unit is one node of the org hierarchy. ManagerUserID is only meaningful
// on TEAM units.
type Unit struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Type          UnitType `json:"type"`
	ParentID      string   `json:"parent_id,omitempty"`
	ManagerUserID string   `json:"manager_user_id,omitempty"`
}

// Validate checks the unit's parent-type rules.
func (u *Unit) Validate() error {
	if u.Name == "" {
		return errors.New("name is required")
	}
	if !ValidUnitTypes[u.Type] {
		return fmt.Errorf("invalid unit type %q", u.Type)
	}
	if u.Type == TypeSector && u.ParentID != "" {
		return errors.New("SECTOR must not have a parent")
	}
	if u.Type != TypeSector && u.ParentID == "" {
		return fmt.Errorf("%s requires a %s parent", u.Type, RequiredParentType(u.Type))
	}
	if u.ManagerUserID != "" && u.Type != TypeTeam {
		return errors.New("only TEAM units have a manager")
	}
	return nil
}

// ClosureEntry is one (ancestor, descendant, depth) row of the transitive
// closure, including self-links at depth 0.
type ClosureEntry struct {
	AncestorID   string `json:"ancestor_id"`
	DescendantID string `json:"descendant_id"`
	Depth        int    `json:"depth"`
}

// BuildClosure computes the full closure for a unit forest keyed by id.
// Returns an error when a parent reference is dangling or cyclic.
func BuildClosure(units []Unit) ([]ClosureEntry, error) {
	byID := make(map[string]*Unit, len(units))
	for i := range units {
		byID[units[i].ID] = &units[i]
	}

	var entries []ClosureEntry
	for i := range units {
		u := &units[i]
		entries = append(entries, ClosureEntry{AncestorID: u.ID, DescendantID: u.ID, Depth: 0})

		depth := 0
		seen := map[string]bool{u.ID: true}
		for cur := u; cur.ParentID != ""; {
			parent, ok := byID[cur.ParentID]
			if !ok {
				return nil, fmt.Errorf("unit %s references missing parent %s", cur.ID, cur.ParentID)
			}
			if seen[parent.ID] {
				return nil, fmt.Errorf("cycle detected at unit %s", parent.ID)
			}
			seen[parent.ID] = true
			depth++
			entries = append(entries, ClosureEntry{AncestorID: parent.ID, DescendantID: u.ID, Depth: depth})
			cur = parent
		}
	}
	return entries, nil
}

// RequiredUnitType maps a role to the org unit type it must be attached to.
// ADMIN has no unit; the second return is false in that case.
func RequiredUnitType(role user.Role) (UnitType, bool) {
	switch role {
	case user.RoleEmployee, user.RoleManager:
		return TypeTeam, true
	case user.RoleGM:
		return TypeDepartment, true
	case user.RoleVP:
		return TypeSector, true
	default:
		return "", false
	}
}
