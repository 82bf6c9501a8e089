// internal/adapter/storage/postal_geocoder.go

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"

	"eventmap/internal/domain/geo"
)

// PostalCodeGeocoder resolves postal codes from the postal_codes table.
// A failed lookup is not retried.
type PostalCodeGeocoder struct {
	db Querier
}

// NewPostalCodeGeocoder creates a new postal code geocoder
func NewPostalCodeGeocoder(db Querier) *PostalCodeGeocoder {
	return &PostalCodeGeocoder{
		db: db,
	}
}

// Geocode returns the centroid of a postal code
func (g *PostalCodeGeocoder) Geocode(ctx context.Context, text string) (*geo.GeoPoint, error) {
	code := normalizePostalCode(text)
	if code == "" {
		return nil, geo.ErrNotGeocoded
	}

	query := `
		SELECT ST_Y(location::geometry) as lat, ST_X(location::geometry) as lng
		FROM postal_codes
		WHERE code = $1
	`

	var point geo.GeoPoint
	err := g.db.QueryRow(ctx, query, code).Scan(&point.Latitude, &point.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postal code %q: %w", code, geo.ErrNotGeocoded)
	}
	if err != nil {
		return nil, fmt.Errorf("error querying postal code: %w", err)
	}

	return &point, nil
}

// normalizePostalCode uppercases and drops spaces; ZIP+4 is cut to five digits
func normalizePostalCode(text string) string {
	code := strings.ToUpper(strings.Join(strings.Fields(text), ""))
	if len(code) == 10 && code[5] == '-' {
		code = code[:5]
	}
	return code
}

var _ geo.Geocoder = (*PostalCodeGeocoder)(nil)
