package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	hierarchy "energy-dashboard/internal/hierarchy/domain"
)

const (
	defaultStatesTable    = "states"
	defaultPlantsTable    = "plants"
	defaultEquipmentTable = "equipment"
)

// DBTX is the subset of *sql.DB / *sql.Tx used by the directory.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Directory is a Postgres implementation of hierarchy.Directory.
type Directory struct {
	db             DBTX
	statesTable    string
	plantsTable    string
	equipmentTable string
}

// Option configures the directory.
type Option func(*Directory)

// WithTables overrides the default table names. Empty values keep the default.
func WithTables(states, plants, equipment string) Option {
	return func(d *Directory) {
		if states != "" {
			d.statesTable = states
		}
		if plants != "" {
			d.plantsTable = plants
		}
		if equipment != "" {
			d.equipmentTable = equipment
		}
	}
}

// NewDirectory constructs a directory.
func NewDirectory(db DBTX, opts ...Option) *Directory {
	d := &Directory{
		db:             db,
		statesTable:    defaultStatesTable,
		plantsTable:    defaultPlantsTable,
		equipmentTable: defaultEquipmentTable,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EquipmentUnder returns the equipment set under the entity.
func (d *Directory) EquipmentUnder(ctx context.Context, level hierarchy.Level, entityID string) ([]hierarchy.Equipment, error) {
	if d == nil || d.db == nil {
		return nil, errors.New("hierarchy directory: nil db")
	}

	var (
		query string
		args  []any
	)
	base := fmt.Sprintf(`
SELECT e.id, e.name, e.plant_id, e.equipment_type, e.status
FROM %s e
JOIN %s p ON p.id = e.plant_id`, d.equipmentTable, d.plantsTable)

	switch level {
	case hierarchy.LevelEquipment:
		query = base + "\nWHERE e.id = $1"
		args = []any{entityID}
	case hierarchy.LevelPlant:
		if err := d.ensureExists(ctx, d.plantsTable, entityID); err != nil {
			return nil, err
		}
		query = base + "\nWHERE e.plant_id = $1"
		args = []any{entityID}
	case hierarchy.LevelState:
		if err := d.ensureExists(ctx, d.statesTable, entityID); err != nil {
			return nil, err
		}
		query = base + "\nWHERE p.state_id = $1"
		args = []any{entityID}
	case hierarchy.LevelSector:
		query = base
	default:
		return nil, hierarchy.ErrInvalidLevel
	}
	query += "\nORDER BY e.id ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hierarchy.Equipment
	for rows.Next() {
		var (
			eq        hierarchy.Equipment
			eqType    sql.NullString
			rawStatus sql.NullString
		)
		if err := rows.Scan(&eq.ID, &eq.Name, &eq.PlantID, &eqType, &rawStatus); err != nil {
			return nil, err
		}
		eq.Type = eqType.String
		if status, ok := hierarchy.NormalizeStatus(rawStatus.String); ok {
			eq.Status = status
		}
		out = append(out, eq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if level == hierarchy.LevelEquipment && len(out) == 0 {
		return nil, hierarchy.ErrNotFound
	}
	return out, nil
}

// Lineage resolves the ancestors of an entity.
func (d *Directory) Lineage(ctx context.Context, level hierarchy.Level, entityID string) (hierarchy.Lineage, error) {
	if d == nil || d.db == nil {
		return hierarchy.Lineage{}, errors.New("hierarchy directory: nil db")
	}
	lineage := hierarchy.Lineage{Level: level}

	var row *sql.Row
	switch level {
	case hierarchy.LevelEquipment:
		row = d.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT e.id, p.id, p.state_id
FROM %s e
JOIN %s p ON p.id = e.plant_id
WHERE e.id = $1
LIMIT 1`, d.equipmentTable, d.plantsTable), entityID)
		if err := row.Scan(&lineage.EquipmentID, &lineage.PlantID, &lineage.StateID); err != nil {
			return hierarchy.Lineage{}, notFound(err)
		}
	case hierarchy.LevelPlant:
		row = d.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT id, state_id
FROM %s
WHERE id = $1
LIMIT 1`, d.plantsTable), entityID)
		if err := row.Scan(&lineage.PlantID, &lineage.StateID); err != nil {
			return hierarchy.Lineage{}, notFound(err)
		}
	case hierarchy.LevelState:
		if err := d.ensureExists(ctx, d.statesTable, entityID); err != nil {
			return hierarchy.Lineage{}, err
		}
		lineage.StateID = entityID
	case hierarchy.LevelSector:
	default:
		return hierarchy.Lineage{}, hierarchy.ErrInvalidLevel
	}
	return lineage, nil
}

// States lists all states.
func (d *Directory) States(ctx context.Context) ([]hierarchy.State, error) {
	if d == nil || d.db == nil {
		return nil, errors.New("hierarchy directory: nil db")
	}
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, name
FROM %s
ORDER BY id ASC`, d.statesTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hierarchy.State
	for rows.Next() {
		var state hierarchy.State
		if err := rows.Scan(&state.ID, &state.Name); err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

func (d *Directory) ensureExists(ctx context.Context, table, id string) error {
	var found string
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 LIMIT 1`, table), id).Scan(&found)
	return notFound(err)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return hierarchy.ErrNotFound
	}
	return err
}
