package hierarchy

import (
	"context"
	"errors"
	"strings"
)

// Level is a position in the containment hierarchy.
type Level string

const (
	LevelEquipment Level = "equipment"
	LevelPlant     Level = "plant"
	LevelState     Level = "state"
	LevelSector    Level = "sector"
)

// SectorID is the placeholder entity id used for the implicit sector root.
const SectorID = "all"

var (
	// ErrInvalidLevel is returned when a level string is not one of the supported values.
	ErrInvalidLevel = errors.New("hierarchy: invalid level")
	// ErrNotFound is returned when an entity id does not resolve.
	ErrNotFound = errors.New("hierarchy: entity not found")
)

// ParseLevel normalizes a level string. Matching is case-insensitive.
func ParseLevel(value string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(value)))
	if !level.IsValid() {
		return "", ErrInvalidLevel
	}
	return level, nil
}

// IsValid checks if the level is one of the supported values.
func (l Level) IsValid() bool {
	switch l {
	case LevelEquipment, LevelPlant, LevelState, LevelSector:
		return true
	default:
		return false
	}
}

// Parent returns the next level up. Sector has no parent.
func (l Level) Parent() (Level, bool) {
	switch l {
	case LevelEquipment:
		return LevelPlant, true
	case LevelPlant:
		return LevelState, true
	case LevelState:
		return LevelSector, true
	default:
		return "", false
	}
}

// Status is the operational status of a piece of equipment.
type Status string

const (
	StatusOperational Status = "operational"
	StatusMaintenance Status = "maintenance"
	StatusFault       Status = "fault"
)

// NormalizeStatus maps free-form status strings onto the known statuses.
func NormalizeStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusOperational, "online", "running":
		return StatusOperational, true
	case StatusMaintenance:
		return StatusMaintenance, true
	case StatusFault, "error", "offline":
		return StatusFault, true
	default:
		return "", false
	}
}

// State is a regional grouping of plants.
type State struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Plant is a generation site that belongs to one state.
type Plant struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	StateID string `json:"stateId" yaml:"state_id"`
}

// Equipment is a leaf of the hierarchy (inverter, turbine, meter).
type Equipment struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	PlantID string `json:"plantId" yaml:"plant_id"`
	Type    string `json:"type,omitempty" yaml:"type"`
	Status  Status `json:"status" yaml:"status"`
}

// Lineage is the chain of ancestors of an entity. Fields below the entity's
// own level are empty.
type Lineage struct {
	Level       Level
	EquipmentID string
	PlantID     string
	StateID     string
}

// EntityID returns the id of the entity the lineage was resolved for.
func (l Lineage) EntityID() string {
	switch l.Level {
	case LevelEquipment:
		return l.EquipmentID
	case LevelPlant:
		return l.PlantID
	case LevelState:
		return l.StateID
	default:
		return ""
	}
}

// IDAt returns the ancestor id at the given level.
func (l Lineage) IDAt(level Level) (string, bool) {
	switch level {
	case LevelEquipment:
		return l.EquipmentID, l.EquipmentID != ""
	case LevelPlant:
		return l.PlantID, l.PlantID != ""
	case LevelState:
		return l.StateID, l.StateID != ""
	case LevelSector:
		return "", true
	default:
		return "", false
	}
}

// Directory resolves hierarchy membership. It is the read-only view over
// equipment/plant metadata owned by an external service.
type Directory interface {
	// EquipmentUnder returns the equipment set under the entity. Sector ignores entityID.
	EquipmentUnder(ctx context.Context, level Level, entityID string) ([]Equipment, error)
	// Lineage returns the ancestors of the entity, or ErrNotFound.
	Lineage(ctx context.Context, level Level, entityID string) (Lineage, error)
	// States lists all states of the sector.
	States(ctx context.Context) ([]State, error)
}
