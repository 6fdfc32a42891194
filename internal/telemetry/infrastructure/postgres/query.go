package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"energy-dashboard/internal/telemetry/domain"
)

const defaultReadingsTable = "equipment_readings"

// ReadingQuery is a Postgres implementation of telemetry.ReadingQuery.
type ReadingQuery struct {
	db    *sql.DB
	table string
}

// QueryOption configures the reading query.
type QueryOption func(*ReadingQuery)

// WithQueryTable overrides the default table name for queries.
func WithQueryTable(table string) QueryOption {
	return func(query *ReadingQuery) {
		if query != nil && table != "" {
			query.table = table
		}
	}
}

// NewReadingQuery constructs a query with default table name.
func NewReadingQuery(db *sql.DB, opts ...QueryOption) *ReadingQuery {
	query := &ReadingQuery{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// QueryReadings returns readings of the equipment set within [from, to], oldest first.
func (q *ReadingQuery) QueryReadings(ctx context.Context, equipmentIDs []string, from, to time.Time) ([]telemetry.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, errors.New("reading query: invalid time range")
	}
	if len(equipmentIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
SELECT equipment_id, plant_id, state_id, ts,
	active_power_kw, reactive_power_kvar, energy_kwh,
	voltage_l1, voltage_l2, voltage_l3,
	current_l1, current_l2, current_l3,
	frequency_hz, power_factor,
	irradiance_wm2, ambient_temp_c, module_temp_c, wind_speed_ms,
	efficiency, availability, status
FROM %s
WHERE equipment_id = ANY($1)
	AND ts >= $2
	AND ts <= $3
ORDER BY ts ASC`, q.table)

	rows, err := q.db.QueryContext(ctx, query, equipmentIDs, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.Reading
	for rows.Next() {
		var (
			r       telemetry.Reading
			stateID sql.NullString
			status  sql.NullString
			values  [17]sql.NullFloat64
		)
		if err := rows.Scan(
			&r.EquipmentID, &r.PlantID, &stateID, &r.At,
			&values[0], &values[1], &values[2],
			&values[3], &values[4], &values[5],
			&values[6], &values[7], &values[8],
			&values[9], &values[10],
			&values[11], &values[12], &values[13], &values[14],
			&values[15], &values[16], &status,
		); err != nil {
			return nil, err
		}
		r.StateID = stateID.String
		r.Status = status.String
		r.At = r.At.UTC()
		r.Electrical = telemetry.Electrical{
			ActivePowerKW:     values[0].Float64,
			ReactivePowerKVAr: values[1].Float64,
			EnergyKWh:         values[2].Float64,
			VoltageL1:         values[3].Float64,
			VoltageL2:         values[4].Float64,
			VoltageL3:         values[5].Float64,
			CurrentL1:         values[6].Float64,
			CurrentL2:         values[7].Float64,
			CurrentL3:         values[8].Float64,
			FrequencyHz:       values[9].Float64,
			PowerFactor:       values[10].Float64,
		}
		r.Environmental = telemetry.Environmental{
			IrradianceWM2: values[11].Float64,
			AmbientTempC:  values[12].Float64,
			ModuleTempC:   values[13].Float64,
			WindSpeedMS:   values[14].Float64,
		}
		r.Performance = telemetry.Performance{
			Efficiency:   values[15].Float64,
			Availability: values[16].Float64,
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
