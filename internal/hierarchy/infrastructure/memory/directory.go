package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	hierarchy "energy-dashboard/internal/hierarchy/domain"
)

// Seed is the on-disk layout of a hierarchy file.
type Seed struct {
	States    []hierarchy.State     `yaml:"states"`
	Plants    []hierarchy.Plant     `yaml:"plants"`
	Equipment []hierarchy.Equipment `yaml:"equipment"`
}

// Directory is an in-memory hierarchy directory.
type Directory struct {
	mu        sync.RWMutex
	states    map[string]hierarchy.State
	plants    map[string]hierarchy.Plant
	equipment map[string]hierarchy.Equipment
}

// NewDirectory builds a directory from a seed. References to unknown parents are rejected.
func NewDirectory(seed Seed) (*Directory, error) {
	d := &Directory{
		states:    make(map[string]hierarchy.State, len(seed.States)),
		plants:    make(map[string]hierarchy.Plant, len(seed.Plants)),
		equipment: make(map[string]hierarchy.Equipment, len(seed.Equipment)),
	}
	for _, state := range seed.States {
		if state.ID == "" {
			return nil, errors.New("hierarchy seed: state with empty id")
		}
		d.states[state.ID] = state
	}
	for _, plant := range seed.Plants {
		if plant.ID == "" {
			return nil, errors.New("hierarchy seed: plant with empty id")
		}
		if _, ok := d.states[plant.StateID]; !ok {
			return nil, fmt.Errorf("hierarchy seed: plant %s references unknown state %q", plant.ID, plant.StateID)
		}
		d.plants[plant.ID] = plant
	}
	for _, eq := range seed.Equipment {
		if eq.ID == "" {
			return nil, errors.New("hierarchy seed: equipment with empty id")
		}
		if _, ok := d.plants[eq.PlantID]; !ok {
			return nil, fmt.Errorf("hierarchy seed: equipment %s references unknown plant %q", eq.ID, eq.PlantID)
		}
		if eq.Status == "" {
			eq.Status = hierarchy.StatusOperational
		}
		d.equipment[eq.ID] = eq
	}
	return d, nil
}

// LoadFile reads a YAML seed file and builds a directory from it.
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("hierarchy seed: %w", err)
	}
	return NewDirectory(seed)
}

// EquipmentUnder returns equipment under the entity, sorted by id.
func (d *Directory) EquipmentUnder(_ context.Context, level hierarchy.Level, entityID string) ([]hierarchy.Equipment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []hierarchy.Equipment
	switch level {
	case hierarchy.LevelEquipment:
		eq, ok := d.equipment[entityID]
		if !ok {
			return nil, hierarchy.ErrNotFound
		}
		out = append(out, eq)
	case hierarchy.LevelPlant:
		if _, ok := d.plants[entityID]; !ok {
			return nil, hierarchy.ErrNotFound
		}
		for _, eq := range d.equipment {
			if eq.PlantID == entityID {
				out = append(out, eq)
			}
		}
	case hierarchy.LevelState:
		if _, ok := d.states[entityID]; !ok {
			return nil, hierarchy.ErrNotFound
		}
		for _, eq := range d.equipment {
			if d.plants[eq.PlantID].StateID == entityID {
				out = append(out, eq)
			}
		}
	case hierarchy.LevelSector:
		for _, eq := range d.equipment {
			out = append(out, eq)
		}
	default:
		return nil, hierarchy.ErrInvalidLevel
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Lineage resolves the ancestors of an entity.
func (d *Directory) Lineage(_ context.Context, level hierarchy.Level, entityID string) (hierarchy.Lineage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	lineage := hierarchy.Lineage{Level: level}
	switch level {
	case hierarchy.LevelEquipment:
		eq, ok := d.equipment[entityID]
		if !ok {
			return hierarchy.Lineage{}, hierarchy.ErrNotFound
		}
		lineage.EquipmentID = eq.ID
		lineage.PlantID = eq.PlantID
		lineage.StateID = d.plants[eq.PlantID].StateID
	case hierarchy.LevelPlant:
		plant, ok := d.plants[entityID]
		if !ok {
			return hierarchy.Lineage{}, hierarchy.ErrNotFound
		}
		lineage.PlantID = plant.ID
		lineage.StateID = plant.StateID
	case hierarchy.LevelState:
		if _, ok := d.states[entityID]; !ok {
			return hierarchy.Lineage{}, hierarchy.ErrNotFound
		}
		lineage.StateID = entityID
	case hierarchy.LevelSector:
	default:
		return hierarchy.Lineage{}, hierarchy.ErrInvalidLevel
	}
	return lineage, nil
}

// States lists all states sorted by id.
func (d *Directory) States(_ context.Context) ([]hierarchy.State, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]hierarchy.State, 0, len(d.states))
	for _, state := range d.states {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
