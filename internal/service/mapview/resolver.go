package mapview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"eventmap/internal/domain/geo"
	"eventmap/internal/domain/mapview"
)

// DefaultGPSTimeout bounds the wait for a device fix
const DefaultGPSTimeout = 8 * time.Second

// ResolverConfig contains configuration for initial location resolution
type ResolverConfig struct {
	GPSTimeout      time.Duration
	DefaultLocation geo.GeoPoint
}

// Resolution is the outcome of initial location resolution
type Resolution struct {
	Point  geo.GeoPoint
	Source mapview.LocationSource
}

// Resolver walks the location fallback chain: GPS, persisted coordinate,
// persisted postal code, configured default. It only fails when ctx is done.
type Resolver struct {
	location mapview.LocationProvider
	prefs    mapview.KeyValueStore
	geocoder geo.Geocoder
	config   ResolverConfig
	logger   zerolog.Logger
}

// NewResolver creates a resolver. Any collaborator may be nil, which skips its step.
func NewResolver(
	location mapview.LocationProvider,
	prefs mapview.KeyValueStore,
	geocoder geo.Geocoder,
	config ResolverConfig,
	logger zerolog.Logger,
) *Resolver {
	if config.GPSTimeout <= 0 {
		config.GPSTimeout = DefaultGPSTimeout
	}

	return &Resolver{
		location: location,
		prefs:    prefs,
		geocoder: geocoder,
		config:   config,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}
}

// WithLocation returns a copy of r that uses a different location provider
func (r *Resolver) WithLocation(location mapview.LocationProvider) *Resolver {
	clone := *r
	clone.location = location
	return &clone
}

// WithPrefs returns a copy of r that reads and writes a different key-value store
func (r *Resolver) WithPrefs(prefs mapview.KeyValueStore) *Resolver {
	clone := *r
	clone.prefs = prefs
	return &clone
}

// Resolve returns the first location the fallback chain produces
func (r *Resolver) Resolve(ctx context.Context) (Resolution, error) {
	steps := []struct {
		source mapview.LocationSource
		fn     func(context.Context) (*geo.GeoPoint, error)
	}{
		{mapview.SourceGPS, r.fromGPS},
		{mapview.SourcePersisted, r.fromPersistedPoint},
		{mapview.SourcePostalCode, r.fromPostalCode},
	}

	for _, step := range steps {
		point, err := step.fn(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		if err != nil {
			r.logger.Debug().Err(err).Str("step", string(step.source)).Msg("location step failed, falling back")
			continue
		}
		if point != nil {
			if step.source == mapview.SourceGPS {
				r.remember(ctx, *point)
			}
			return Resolution{Point: *point, Source: step.source}, nil
		}
	}

	return Resolution{Point: r.config.DefaultLocation, Source: mapview.SourceDefault}, nil
}

// remember persists a fresh fix so later sessions can fall back to it
func (r *Resolver) remember(ctx context.Context, point geo.GeoPoint) {
	if r.prefs == nil {
		return
	}
	if err := r.prefs.Set(ctx, mapview.KeyLastLocation, point.String()); err != nil {
		r.logger.Warn().Err(err).Msg("failed to persist last location")
	}
}

func (r *Resolver) fromGPS(ctx context.Context) (*geo.GeoPoint, error) {
	if r.location == nil {
		return nil, nil
	}

	status, err := r.location.PermissionStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("error checking location permission: %w", err)
	}
	if status != mapview.PermissionGranted {
		return nil, mapview.ErrPermissionDenied
	}

	fixCtx, cancel := context.WithTimeout(ctx, r.config.GPSTimeout)
	defer cancel()

	type fixResult struct {
		point *geo.GeoPoint
		err   error
	}

	// buffered so a provider that ignores ctx cannot leak the goroutine
	results := make(chan fixResult, 1)
	go func() {
		point, err := r.location.CurrentPosition(fixCtx, r.config.GPSTimeout)
		results <- fixResult{point: point, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, fmt.Errorf("error getting position: %w", res.err)
		}
		if res.point == nil || !res.point.Valid() {
			return nil, errors.New("provider returned no usable fix")
		}
		return res.point, nil
	case <-fixCtx.Done():
		return nil, fmt.Errorf("gps fix: %w", fixCtx.Err())
	}
}

func (r *Resolver) fromPersistedPoint(ctx context.Context) (*geo.GeoPoint, error) {
	if r.prefs == nil {
		return nil, nil
	}

	value, ok, err := r.prefs.Get(ctx, mapview.KeyLastLocation)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", mapview.KeyLastLocation, err)
	}
	if !ok || value == "" {
		return nil, nil
	}

	point, err := geo.ParsePoint(value)
	if err != nil {
		return nil, err
	}
	return &point, nil
}

func (r *Resolver) fromPostalCode(ctx context.Context) (*geo.GeoPoint, error) {
	if r.prefs == nil || r.geocoder == nil {
		return nil, nil
	}

	code, ok, err := r.prefs.Get(ctx, mapview.KeyPostalCode)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", mapview.KeyPostalCode, err)
	}
	if !ok || code == "" {
		return nil, nil
	}

	point, err := r.geocoder.Geocode(ctx, code)
	if err != nil {
		r.logger.Warn().Err(err).Str("postal_code", code).Msg("postal code geocoding failed")
		return nil, err
	}
	return point, nil
}
