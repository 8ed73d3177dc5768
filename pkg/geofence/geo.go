// Package geofence ingests GPS samples for voyages, detects control
// point crossings along the waterway, and decides which samples are
// worth forwarding to the authority as ActualizarPosicion calls.
package geofence

import (
	"math"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

const earthRadiusM = 6371000.0

// HaversineMeters returns the great-circle distance between two
// coordinates in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Detect returns the control point whose radius contains the sample,
// or nil. When radii overlap the nearest center wins.
func Detect(points []contracts.ControlPoint, lat, lon float64) *contracts.ControlPoint {
	var best *contracts.ControlPoint
	bestDist := math.MaxFloat64
	for i := range points {
		p := &points[i]
		d := HaversineMeters(lat, lon, p.Latitude, p.Longitude)
		if d <= p.RadiusM && d < bestDist {
			best = p
			bestDist = d
		}
	}
	return best
}

// ValidCoordinates reports whether the pair is a plausible WGS84
// position.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
