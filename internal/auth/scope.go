package auth

import (
	"sort"

	hierarchy "energy-dashboard/internal/hierarchy/domain"
)

// Scope is the set of entities an identity may view. An entity is covered
// when it or one of its ancestors is listed. Only All covers the sector.
type Scope struct {
	All       bool     `json:"all,omitempty"`
	States    []string `json:"states,omitempty"`
	Plants    []string `json:"plants,omitempty"`
	Equipment []string `json:"equipment,omitempty"`
}

// Unrestricted is the scope of administrators and sector-wide viewers.
func Unrestricted() Scope {
	return Scope{All: true}
}

// IsEmpty reports whether the scope covers nothing.
func (s Scope) IsEmpty() bool {
	return !s.All && len(s.States) == 0 && len(s.Plants) == 0 && len(s.Equipment) == 0
}

// Covers reports whether the entity described by lineage is visible.
func (s Scope) Covers(lineage hierarchy.Lineage) bool {
	if s.All {
		return true
	}
	if lineage.Level == hierarchy.LevelSector {
		return false
	}
	return (lineage.StateID != "" && contains(s.States, lineage.StateID)) ||
		(lineage.PlantID != "" && contains(s.Plants, lineage.PlantID)) ||
		(lineage.EquipmentID != "" && contains(s.Equipment, lineage.EquipmentID))
}

// CoversState reports whether a whole state is visible.
func (s Scope) CoversState(stateID string) bool {
	return s.All || contains(s.States, stateID)
}

// Default returns the room an identity lands in after connecting: the
// sector for unrestricted scopes, otherwise the first state, plant or
// equipment in that order.
func (s Scope) Default() (hierarchy.Level, string, bool) {
	switch {
	case s.All:
		return hierarchy.LevelSector, "", true
	case len(s.States) > 0:
		return hierarchy.LevelState, first(s.States), true
	case len(s.Plants) > 0:
		return hierarchy.LevelPlant, first(s.Plants), true
	case len(s.Equipment) > 0:
		return hierarchy.LevelEquipment, first(s.Equipment), true
	default:
		return "", "", false
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func first(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return sorted[0]
}
