package influx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"energy-dashboard/internal/telemetry/domain"
)

const defaultMeasurement = "equipment_readings"

// Config holds InfluxDB v3 connection settings.
type Config struct {
	URL         string
	Token       string
	Database    string
	Measurement string
}

// ReadingQuery reads equipment readings from InfluxDB v3 using SQL.
type ReadingQuery struct {
	client      *influxdb3.Client
	measurement string
}

// NewReadingQuery creates the InfluxDB client.
func NewReadingQuery(cfg Config) (*ReadingQuery, error) {
	if cfg.URL == "" {
		return nil, errors.New("influx reading query: url is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("influx reading query: database is required")
	}
	clientConfig := influxdb3.ClientConfig{
		Host:     cfg.URL,
		Database: cfg.Database,
	}
	if cfg.Token != "" {
		clientConfig.Token = cfg.Token
	}
	client, err := influxdb3.New(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("influx client creation failed: %w", err)
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = defaultMeasurement
	}
	return &ReadingQuery{client: client, measurement: measurement}, nil
}

// Close releases the client.
func (q *ReadingQuery) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

// QueryReadings returns readings of the equipment set within [from, to], oldest first.
func (q *ReadingQuery) QueryReadings(ctx context.Context, equipmentIDs []string, from, to time.Time) ([]telemetry.Reading, error) {
	if q == nil || q.client == nil {
		return nil, errors.New("influx reading query: nil client")
	}
	if len(equipmentIDs) == 0 {
		return nil, nil
	}

	query := buildQuery(q.measurement, equipmentIDs, from, to)
	iterator, err := q.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("influx query failed: %w", err)
	}

	var out []telemetry.Reading
	for iterator.Next() {
		out = append(out, valueToReading(iterator.Value()))
	}
	return out, nil
}

func buildQuery(measurement string, equipmentIDs []string, from, to time.Time) string {
	quoted := make([]string, 0, len(equipmentIDs))
	for _, id := range equipmentIDs {
		quoted = append(quoted, quote(id))
	}
	return fmt.Sprintf(
		"SELECT * FROM %s WHERE equipment_id IN (%s) AND time >= '%s' AND time <= '%s' ORDER BY time ASC",
		measurement,
		strings.Join(quoted, ", "),
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Format(time.RFC3339Nano),
	)
}

func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func valueToReading(value map[string]interface{}) telemetry.Reading {
	r := telemetry.Reading{
		EquipmentID: stringValue(value, "equipment_id"),
		PlantID:     stringValue(value, "plant_id"),
		StateID:     stringValue(value, "state_id"),
		Status:      stringValue(value, "status"),
	}
	switch ts := value["time"].(type) {
	case time.Time:
		r.At = ts.UTC()
	case int64:
		r.At = time.Unix(0, ts).UTC()
	}
	r.Electrical = telemetry.Electrical{
		ActivePowerKW:     floatValue(value, "active_power_kw"),
		ReactivePowerKVAr: floatValue(value, "reactive_power_kvar"),
		EnergyKWh:         floatValue(value, "energy_kwh"),
		VoltageL1:         floatValue(value, "voltage_l1"),
		VoltageL2:         floatValue(value, "voltage_l2"),
		VoltageL3:         floatValue(value, "voltage_l3"),
		CurrentL1:         floatValue(value, "current_l1"),
		CurrentL2:         floatValue(value, "current_l2"),
		CurrentL3:         floatValue(value, "current_l3"),
		FrequencyHz:       floatValue(value, "frequency_hz"),
		PowerFactor:       floatValue(value, "power_factor"),
	}
	r.Environmental = telemetry.Environmental{
		IrradianceWM2: floatValue(value, "irradiance_wm2"),
		AmbientTempC:  floatValue(value, "ambient_temp_c"),
		ModuleTempC:   floatValue(value, "module_temp_c"),
		WindSpeedMS:   floatValue(value, "wind_speed_ms"),
	}
	r.Performance = telemetry.Performance{
		Efficiency:   floatValue(value, "efficiency"),
		Availability: floatValue(value, "availability"),
	}
	return r
}

func stringValue(value map[string]interface{}, key string) string {
	if v, ok := value[key].(string); ok {
		return v
	}
	return ""
}

func floatValue(value map[string]interface{}, key string) float64 {
	switch v := value[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
