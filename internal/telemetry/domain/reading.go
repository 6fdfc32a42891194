package telemetry

import (
	"context"
	"time"
)

// Reading is one immutable telemetry sample reported by a piece of equipment.
type Reading struct {
	EquipmentID string    `json:"equipmentId"`
	PlantID     string    `json:"plantId"`
	StateID     string    `json:"stateId,omitempty"`
	At          time.Time `json:"timestamp"`

	Electrical    Electrical    `json:"electrical"`
	Environmental Environmental `json:"environmental"`
	Performance   Performance   `json:"performance"`
	Status        string        `json:"status"`
}

// Electrical holds the electrical metrics of a reading.
type Electrical struct {
	ActivePowerKW     float64 `json:"activePower"`
	ReactivePowerKVAr float64 `json:"reactivePower"`
	EnergyKWh         float64 `json:"energy"`
	VoltageL1         float64 `json:"voltageL1"`
	VoltageL2         float64 `json:"voltageL2"`
	VoltageL3         float64 `json:"voltageL3"`
	CurrentL1         float64 `json:"currentL1"`
	CurrentL2         float64 `json:"currentL2"`
	CurrentL3         float64 `json:"currentL3"`
	FrequencyHz       float64 `json:"frequency"`
	PowerFactor       float64 `json:"powerFactor"`
}

// Environmental holds site conditions at sample time.
type Environmental struct {
	IrradianceWM2 float64 `json:"irradiance"`
	AmbientTempC  float64 `json:"ambientTemperature"`
	ModuleTempC   float64 `json:"moduleTemperature"`
	WindSpeedMS   float64 `json:"windSpeed"`
}

// Performance holds derived performance ratios, in percent.
type Performance struct {
	Efficiency   float64 `json:"efficiency"`
	Availability float64 `json:"availability"`
}

// ReadingQuery loads readings for a set of equipment within [from, to].
type ReadingQuery interface {
	QueryReadings(ctx context.Context, equipmentIDs []string, from, to time.Time) ([]Reading, error)
}
