package aggregation

import (
	"sort"
	"time"

	hierarchy "energy-dashboard/internal/hierarchy/domain"
	"energy-dashboard/internal/telemetry/domain"
)

// Result is the summary of one (level, entity, window). It is never persisted.
type Result struct {
	Level       hierarchy.Level    `json:"level"`
	EntityID    *string            `json:"entityId"`
	TimeWindow  TimeWindow         `json:"timeWindow"`
	Electrical  ElectricalSummary  `json:"electrical"`
	Performance PerformanceSummary `json:"performance"`
	Equipment   EquipmentSummary   `json:"equipment"`
	DataPoints  int                `json:"dataPoints"`
	ComputedAt  time.Time          `json:"computedAt"`
}

// ElectricalSummary holds summed electrical values.
type ElectricalSummary struct {
	ActivePower   float64 `json:"activePower"`
	ReactivePower float64 `json:"reactivePower"`
	TotalEnergy   float64 `json:"totalEnergy"`
}

// PerformanceSummary holds reading-count weighted averages.
type PerformanceSummary struct {
	AvgEfficiency   float64 `json:"avgEfficiency"`
	AvgAvailability float64 `json:"avgAvailability"`
}

// EquipmentSummary counts reporting equipment by latest status.
type EquipmentSummary struct {
	Total       int `json:"total"`
	Operational int `json:"operational"`
	Maintenance int `json:"maintenance"`
	Fault       int `json:"fault"`
}

// Fold computes a result from raw readings. Power and energy are summed over
// all readings, efficiency and availability are averaged per reading, and the
// status counts use each equipment's latest reading in the slice. fallback
// supplies the directory status for readings that carry no usable status.
func Fold(key Key, readings []telemetry.Reading, fallback map[string]hierarchy.Status, computedAt time.Time) Result {
	result := Result{
		Level:      key.Level,
		TimeWindow: key.TimeWindow,
		ComputedAt: computedAt,
	}
	if key.Level != hierarchy.LevelSector {
		id := key.EntityID
		result.EntityID = &id
	}
	if len(readings) == 0 {
		return result
	}

	var efficiency, availability float64
	latest := make(map[string]telemetry.Reading)
	for _, r := range readings {
		result.Electrical.ActivePower += r.Electrical.ActivePowerKW
		result.Electrical.ReactivePower += r.Electrical.ReactivePowerKVAr
		result.Electrical.TotalEnergy += r.Electrical.EnergyKWh
		efficiency += r.Performance.Efficiency
		availability += r.Performance.Availability
		if prev, ok := latest[r.EquipmentID]; !ok || !r.At.Before(prev.At) {
			latest[r.EquipmentID] = r
		}
	}
	result.DataPoints = len(readings)
	result.Performance.AvgEfficiency = efficiency / float64(len(readings))
	result.Performance.AvgAvailability = availability / float64(len(readings))

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		status, ok := hierarchy.NormalizeStatus(latest[id].Status)
		if !ok {
			status = fallback[id]
		}
		result.Equipment.Total++
		switch status {
		case hierarchy.StatusMaintenance:
			result.Equipment.Maintenance++
		case hierarchy.StatusFault:
			result.Equipment.Fault++
		default:
			result.Equipment.Operational++
		}
	}
	return result
}

// ID returns the entity id or the sector placeholder.
func (r Result) ID() string {
	if r.EntityID == nil {
		return hierarchy.SectorID
	}
	return *r.EntityID
}
