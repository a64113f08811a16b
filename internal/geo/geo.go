// Package geo provides the great-circle math used for geofence containment
// checks. Haversine is accurate to well under a meter at geofence scales
// (tens to hundreds of meters), which is all the server needs.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinate is returned for latitudes outside [-90, 90] or
// longitudes outside [-180, 180].
var ErrInvalidCoordinate = errors.New("invalid coordinate")

const earthRadiusMeters = 6371008.8

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Valid reports whether the point lies in the legal coordinate ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lon)
}

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b Point) (float64, error) {
	if !a.Valid() {
		return 0, fmt.Errorf("point (%.6f, %.6f): %w", a.Lat, a.Lon, ErrInvalidCoordinate)
	}
	if !b.Valid() {
		return 0, fmt.Errorf("point (%.6f, %.6f): %w", b.Lat, b.Lon, ErrInvalidCoordinate)
	}

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h))), nil
}

// IsInside reports whether p falls within radiusMeters of center.
func IsInside(p, center Point, radiusMeters float64) (bool, error) {
	d, err := DistanceMeters(p, center)
	if err != nil {
		return false, err
	}
	return d <= radiusMeters, nil
}
