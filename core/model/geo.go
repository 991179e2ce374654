package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0088

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate rejects NaN and out-of-range values.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return fmt.Errorf("coordinate is NaN")
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", c.Lon)
	}
	return nil
}

// IsZero reports whether the coordinate was never set.
func (c Coordinate) IsZero() bool { return c.Lat == 0 && c.Lon == 0 }

// unit returns the point on the unit sphere.
func (c Coordinate) unit() r3.Vec {
	lat := c.Lat * math.Pi / 180
	lon := c.Lon * math.Pi / 180
	return r3.Vec{
		X: math.Cos(lat) * math.Cos(lon),
		Y: math.Cos(lat) * math.Sin(lon),
		Z: math.Sin(lat),
	}
}

// DistanceKm returns the great-circle distance between c and o. The central
// angle is derived from the chord between both unit vectors, which stays
// accurate for small and antipodal separations.
func (c Coordinate) DistanceKm(o Coordinate) float64 {
	chord := r3.Norm(r3.Sub(c.unit(), o.unit()))
	if chord > 2 {
		chord = 2
	}
	return 2 * math.Asin(chord/2) * EarthRadiusKm
}
