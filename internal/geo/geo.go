// Package geo holds the small amount of spherical-earth arithmetic the
// simulator and dashboard need. None of it is survey grade.
package geo

import (
	"math"
	"math/rand"

	"github.com/ukydev/fleet-delivery/internal/models"
)

const (
	// MetersPerDegree is the equirectangular approximation of one degree of latitude.
	MetersPerDegree = 111111.0
	// EarthRadiusMeters is the mean earth radius used by Distance.
	EarthRadiusMeters = 6371009.0
	// CoordinatePlaces bounds message size and float noise.
	CoordinatePlaces = 7
)

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// RoundCoordinate rounds both components to CoordinatePlaces.
func RoundCoordinate(c models.Coordinate) models.Coordinate {
	return models.Coordinate{
		Lat: Round(c.Lat, CoordinatePlaces),
		Lng: Round(c.Lng, CoordinatePlaces),
	}
}

// Offset returns the point distanceMeters from origin along bearingDegrees
// (clockwise from north), using the equirectangular approximation.
func Offset(origin models.Coordinate, bearingDegrees, distanceMeters float64) models.Coordinate {
	bearing := bearingDegrees * math.Pi / 180
	north := distanceMeters * math.Cos(bearing) / MetersPerDegree
	east := distanceMeters * math.Sin(bearing) / math.Cos(origin.Lat*math.Pi/180) / MetersPerDegree
	return RoundCoordinate(models.Coordinate{
		Lat: origin.Lat + north,
		Lng: origin.Lng + east,
	})
}

// RandomOffset picks a whole-degree bearing in [0, 359] and a whole-metre
// distance in [minDistance, minDistance+distanceRange) and applies Offset.
func RandomOffset(rng *rand.Rand, origin models.Coordinate, minDistance, distanceRange int) models.Coordinate {
	bearing := float64(rng.Intn(360))
	distance := minDistance
	if distanceRange > 0 {
		distance += rng.Intn(distanceRange)
	}
	return Offset(origin, bearing, float64(distance))
}

// Distance returns the great-circle distance in metres between a and b (haversine).
func Distance(a, b models.Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return EarthRadiusMeters * c
}

// Lerp interpolates between a and b, t in [0, 1].
func Lerp(a, b models.Coordinate, t float64) models.Coordinate {
	return models.Coordinate{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}
