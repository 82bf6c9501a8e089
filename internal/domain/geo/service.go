// internal/domain/geo/service.go

package geo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotGeocoded is returned when a geocoder has no result for a query
var ErrNotGeocoded = errors.New("location could not be geocoded")

// GeoPoint is a WGS84 coordinate in decimal degrees
type GeoPoint struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// String formats the point as "lat,lng"
func (p GeoPoint) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}

// ParsePoint parses a "lat,lng" string as written by GeoPoint.String
func ParsePoint(s string) (GeoPoint, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return GeoPoint{}, fmt.Errorf("invalid point %q", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return GeoPoint{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}

	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return GeoPoint{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}

	p := GeoPoint{Latitude: lat, Longitude: lng}
	if !p.Valid() {
		return GeoPoint{}, fmt.Errorf("point %q out of range", s)
	}
	return p, nil
}

// Valid reports whether the point lies within latitude/longitude bounds
func (p GeoPoint) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// SearchCenter is the point and radius used to filter visible events.
// The radius is always kilometers regardless of the display unit.
type SearchCenter struct {
	Point    GeoPoint `json:"point"`
	RadiusKm float64  `json:"radius_km"`
}

// Viewport is the visible map region
type Viewport struct {
	Center         GeoPoint `json:"center"`
	LatitudeDelta  float64  `json:"latitude_delta"`
	LongitudeDelta float64  `json:"longitude_delta"`
}

// Bounds is a latitude/longitude bounding box
type Bounds struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// Unit is a distance display unit
type Unit string

const (
	UnitKilometers Unit = "km"
	UnitMiles      Unit = "mi"
)

// ParseUnit parses a unit name, defaulting to miles
func ParseUnit(s string) Unit {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "km", "kilometers", "metric":
		return UnitKilometers
	default:
		return UnitMiles
	}
}

// Geocoder resolves free text (addresses, postal codes) to a point
type Geocoder interface {
	// Geocode returns the point for text, or ErrNotGeocoded
	Geocode(ctx context.Context, text string) (*GeoPoint, error)
}

// Service defines the geospatial operations used by the map view
type Service interface {
	// CalculateDistance returns the great-circle distance in kilometers
	CalculateDistance(a, b GeoPoint) float64

	// IsWithinBounds checks if a point lies within radiusKm of center
	IsWithinBounds(point GeoPoint, center GeoPoint, radiusKm float64) bool

	// Geocode resolves free text to a point
	Geocode(ctx context.Context, text string) (*GeoPoint, error)
}
