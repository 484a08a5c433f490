package simulator

import (
	"math"

	"github.com/ukydev/fleet-delivery/internal/geo"
	"github.com/ukydev/fleet-delivery/internal/models"
)

// Built-in sensor types, matching models.SensorTypes.
const (
	SensorRefrigerated = 0
	SensorFrozen       = 1
)

// SensorModel is a unit-amplitude sine wave around Baseline.
type SensorModel struct {
	Baseline float64
	Units    string
}

// ModelFor returns the model for a sensor type. Unknown types read around zero
// with no units.
func ModelFor(sensorType int) SensorModel {
	switch sensorType {
	case SensorRefrigerated:
		return SensorModel{Baseline: -5, Units: models.SensorUnits}
	case SensorFrozen:
		return SensorModel{Baseline: -18, Units: models.SensorUnits}
	default:
		return SensorModel{}
	}
}

// Value is the reading at tick, rounded to 2 decimals.
func (m SensorModel) Value(tick int) float64 {
	return geo.Round(math.Sin(float64(tick)/10)+m.Baseline, 2)
}
