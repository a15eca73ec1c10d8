// Package geo provides coordinate helpers for the dispatch core.
//
// Distances use the Haversine formula on WGS-84 coordinates. They are shown to
// dispatchers as a rough "how far away" hint only; no routing is done here.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0
)

// ErrMalformedPair is returned when a coordinate pair is missing or unusable.
var ErrMalformedPair = errors.New("coordinates must be exactly two finite numbers")

// Point is a WGS-84 position.
type Point struct {
	Lon float64
	Lat float64
}

// ValidatePair checks a [lon, lat] pair: exactly two values, both finite.
func ValidatePair(coords []float64) error {
	if len(coords) != 2 {
		return fmt.Errorf("%w: got %d values", ErrMalformedPair, len(coords))
	}
	for i, v := range coords {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: value %d is not finite", ErrMalformedPair, i)
		}
	}
	return nil
}

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(a, b Point) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// RoundKm rounds a distance to two decimals for display.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
