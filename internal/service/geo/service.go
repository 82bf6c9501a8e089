// internal/service/geo/service.go

package geo

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
)

// StaticGeocoder resolves text from a fixed table, e.g. the postal codes
// of a fixture file. It is immutable after construction.
type StaticGeocoder struct {
	entries map[string]geo.GeoPoint
}

// NewStaticGeocoder creates a geocoder over a copy of entries
func NewStaticGeocoder(entries map[string]geo.GeoPoint) *StaticGeocoder {
	g := &StaticGeocoder{entries: make(map[string]geo.GeoPoint, len(entries))}
	for k, v := range entries {
		g.entries[normalizeQuery(k)] = v
	}
	return g
}

// Geocode looks text up in the table
func (g *StaticGeocoder) Geocode(ctx context.Context, text string) (*geo.GeoPoint, error) {
	point, ok := g.entries[normalizeQuery(text)]
	if !ok {
		return nil, geo.ErrNotGeocoded
	}
	return &point, nil
}

func normalizeQuery(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// GeoSpatialConfig contains configuration for the geospatial service
type GeoSpatialConfig struct {
	DefaultRadiusKm    float64
	ClusterThresholdKm float64
	ClusterMode        ClusterMode
}

// GeoSpatialService implements geo.Service and event.MarkerService
type GeoSpatialService struct {
	events    event.Store
	geocoder  geo.Geocoder
	clusterer *Clusterer
	config    GeoSpatialConfig
	logger    zerolog.Logger
}

// NewGeoSpatialService creates a new geospatial service
func NewGeoSpatialService(
	events event.Store,
	geocoder geo.Geocoder,
	config GeoSpatialConfig,
	logger zerolog.Logger,
) *GeoSpatialService {
	clusterer := NewClusterer(config.ClusterMode)
	if config.ClusterThresholdKm > 0 {
		clusterer.ThresholdKm = config.ClusterThresholdKm
	}

	return &GeoSpatialService{
		events:    events,
		geocoder:  geocoder,
		clusterer: clusterer,
		config:    config,
		logger:    logger.With().Str("component", "geo").Logger(),
	}
}

// CalculateDistance calculates the distance between two points in kilometers
func (s *GeoSpatialService) CalculateDistance(a, b geo.GeoPoint) float64 {
	return HaversineKm(a, b)
}

// IsWithinBounds checks if a point is within radiusKm of center
func (s *GeoSpatialService) IsWithinBounds(point, center geo.GeoPoint, radiusKm float64) bool {
	return HaversineKm(point, center) <= radiusKm
}

// Geocode resolves free text through the configured geocoder
func (s *GeoSpatialService) Geocode(ctx context.Context, text string) (*geo.GeoPoint, error) {
	if s.geocoder == nil {
		return nil, geo.ErrNotGeocoded
	}
	return s.geocoder.Geocode(ctx, text)
}

// Cluster groups filtered events with the configured clusterer
func (s *GeoSpatialService) Cluster(events []event.Record) []event.Cluster {
	return s.clusterer.Cluster(events)
}

// Markers fetches events around the filter center, filters and clusters them
func (s *GeoSpatialService) Markers(ctx context.Context, filter event.Filter) ([]event.Cluster, error) {
	if filter.Center.RadiusKm <= 0 {
		filter.Center.RadiusKm = s.config.DefaultRadiusKm
	}

	bounds := BoundsAround(filter.Center.Point, filter.Center.RadiusKm)
	records, err := s.events.ListEvents(ctx, &bounds)
	if err != nil {
		return nil, fmt.Errorf("error listing events: %w", err)
	}

	filtered := FilterEvents(records, filter.Center, filter.Type, filter.IncludePast, filter.Now)
	clusters := s.clusterer.Cluster(filtered)

	s.logger.Debug().
		Int("listed", len(records)).
		Int("filtered", len(filtered)).
		Int("clusters", len(clusters)).
		Str("center", filter.Center.Point.String()).
		Float64("radius_km", filter.Center.RadiusKm).
		Msg("computed markers")

	return clusters, nil
}

// BoundsAround returns a box that contains every point within radiusKm of center.
// It is a prefilter for stores; the haversine check stays authoritative.
func BoundsAround(center geo.GeoPoint, radiusKm float64) geo.Bounds {
	angular := radiusKm / earthRadiusKm
	latDelta := angular * 180 / math.Pi
	cosLat := math.Cos(toRadians(center.Latitude))

	// the circle's east/west reach is asin(sin d / cos lat), attained away
	// from the center latitude; past a pole every longitude is in range
	lngDelta := 180.0
	reachesPole := center.Latitude+latDelta >= 90 || center.Latitude-latDelta <= -90
	if !reachesPole && angular < math.Pi/2 && math.Sin(angular) < cosLat {
		lngDelta = math.Asin(math.Sin(angular)/cosLat) * 180 / math.Pi
	}

	return geo.Bounds{
		MinLat: math.Max(-90, center.Latitude-latDelta),
		MaxLat: math.Min(90, center.Latitude+latDelta),
		MinLng: center.Longitude - lngDelta,
		MaxLng: center.Longitude + lngDelta,
	}
}
