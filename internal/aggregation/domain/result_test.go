package aggregation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	hierarchy "energy-dashboard/internal/hierarchy/domain"
	"energy-dashboard/internal/telemetry/domain"
)

func reading(equipmentID string, at time.Time, power, energy, efficiency float64, status string) telemetry.Reading {
	return telemetry.Reading{
		EquipmentID: equipmentID,
		PlantID:     "P1",
		At:          at,
		Electrical:  telemetry.Electrical{ActivePowerKW: power, EnergyKWh: energy},
		Performance: telemetry.Performance{Efficiency: efficiency, Availability: 100},
		Status:      status,
	}
}

func TestFoldPlantScenario(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	key := Key{Level: hierarchy.LevelPlant, EntityID: "P1", TimeWindow: Window1h}

	result := Fold(key, []telemetry.Reading{
		reading("E1", now.Add(-10*time.Minute), 100, 10, 90, "operational"),
		reading("E2", now.Add(-20*time.Minute), 150, 15, 95, "operational"),
		reading("E3", now.Add(-30*time.Minute), 200, 20, 100, "operational"),
	}, nil, now)

	require.Equal(t, 450.0, result.Electrical.ActivePower)
	require.Equal(t, 45.0, result.Electrical.TotalEnergy)
	require.Equal(t, 3, result.DataPoints)
	require.Equal(t, 3, result.Equipment.Total)
	require.Equal(t, 3, result.Equipment.Operational)
	require.InDelta(t, 95.0, result.Performance.AvgEfficiency, 1e-9)
	require.Equal(t, "P1", result.ID())
	require.Equal(t, now, result.ComputedAt)
}

func TestFoldZeroReadings(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	key := Key{Level: hierarchy.LevelPlant, EntityID: "P2", TimeWindow: Window15m}

	result := Fold(key, nil, nil, now)

	require.Zero(t, result.Electrical)
	require.Zero(t, result.Performance)
	require.Zero(t, result.Equipment)
	require.Zero(t, result.DataPoints)
	require.Equal(t, "P2", *result.EntityID)
}

func TestFoldWeightsAveragesByReadingCount(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	key := Key{Level: hierarchy.LevelSector, TimeWindow: Window1h}

	// E1 reports three times at 90, E2 once at 50: weighted mean is 80, not 70.
	result := Fold(key, []telemetry.Reading{
		reading("E1", now.Add(-3*time.Minute), 1, 0, 90, ""),
		reading("E1", now.Add(-2*time.Minute), 1, 0, 90, ""),
		reading("E1", now.Add(-1*time.Minute), 1, 0, 90, ""),
		reading("E2", now.Add(-1*time.Minute), 1, 0, 50, ""),
	}, nil, now)

	require.InDelta(t, 80.0, result.Performance.AvgEfficiency, 1e-9)
	require.Nil(t, result.EntityID)
	require.Equal(t, hierarchy.SectorID, result.ID())
}

func TestFoldStatusFromLatestReading(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	key := Key{Level: hierarchy.LevelPlant, EntityID: "P1", TimeWindow: Window1h}

	result := Fold(key, []telemetry.Reading{
		reading("E1", now.Add(-30*time.Minute), 10, 0, 0, "fault"),
		reading("E1", now.Add(-5*time.Minute), 10, 0, 0, "operational"),
		reading("E2", now.Add(-5*time.Minute), 10, 0, 0, "maintenance"),
		reading("E3", now.Add(-5*time.Minute), 10, 0, 0, ""),
	}, map[string]hierarchy.Status{"E3": hierarchy.StatusFault}, now)

	require.Equal(t, EquipmentSummary{Total: 3, Operational: 1, Maintenance: 1, Fault: 1}, result.Equipment)
	require.Equal(t, 4, result.DataPoints)
}

func TestFoldParentEqualsSumOfChildren(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	readings := []telemetry.Reading{
		reading("E1", now.Add(-5*time.Minute), 12.5, 1.25, 91, "operational"),
		reading("E2", now.Add(-6*time.Minute), 7.5, 0.75, 93, "operational"),
		reading("E3", now.Add(-7*time.Minute), 30, 3, 97, "fault"),
	}
	children := []Result{
		Fold(Key{Level: hierarchy.LevelEquipment, EntityID: "E1", TimeWindow: Window1h}, readings[:1], nil, now),
		Fold(Key{Level: hierarchy.LevelEquipment, EntityID: "E2", TimeWindow: Window1h}, readings[1:2], nil, now),
		Fold(Key{Level: hierarchy.LevelEquipment, EntityID: "E3", TimeWindow: Window1h}, readings[2:], nil, now),
	}
	parent := Fold(Key{Level: hierarchy.LevelPlant, EntityID: "P1", TimeWindow: Window1h}, readings, nil, now)

	var power, energy float64
	var points, total int
	for _, child := range children {
		power += child.Electrical.ActivePower
		energy += child.Electrical.TotalEnergy
		points += child.DataPoints
		total += child.Equipment.Total
	}
	require.InDelta(t, power, parent.Electrical.ActivePower, 1e-9)
	require.InDelta(t, energy, parent.Electrical.TotalEnergy, 1e-9)
	require.Equal(t, points, parent.DataPoints)
	require.Equal(t, total, parent.Equipment.Total)
}
