package tank

import "math"

// Factory geometry of the water tank, in cm
const (
	DefaultDiameter = 97
	DefaultHeight   = 120
)

// Geometry describes a cylindrical tank with the range sensor mounted at the
// top, looking down. Values are not validated.
type Geometry struct {
	DiameterCM int32
	HeightCM   int32
}

// Default returns the factory geometry
func Default() Geometry {
	return Geometry{DiameterCM: DefaultDiameter, HeightCM: DefaultHeight}
}

// Volume returns the litres of water left in the tank when the surface is
// distanceCM below the sensor. A reading past the bottom yields 0.
func Volume(distanceCM float64, g Geometry) float64 {
	water := float64(g.HeightCM) - distanceCM
	if water < 0 {
		return 0
	}
	r := float64(g.DiameterCM) / 2
	return math.Pi * r * r * water / 1000
}
