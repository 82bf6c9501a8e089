// internal/adapter/storage/event_store.go

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
)

// Querier is the subset of *pgxpool.Pool used by the stores
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Schema creates the tables read by EventStore and PostalCodeGeocoder
const Schema = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS events (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL DEFAULT 'other',
	location      GEOGRAPHY(POINT, 4326),
	date          TEXT,
	start_date    TEXT,
	end_date      TEXT,
	start_time    TEXT NOT NULL DEFAULT '',
	end_time      TEXT NOT NULL DEFAULT '',
	location_text TEXT NOT NULL DEFAULT '',
	price_text    TEXT NOT NULL DEFAULT '',
	tags          TEXT[] NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS events_location_idx ON events USING GIST (location);

CREATE TABLE IF NOT EXISTS postal_codes (
	code     TEXT PRIMARY KEY,
	location GEOGRAPHY(POINT, 4326) NOT NULL
);
`

// Migrate applies Schema
func Migrate(ctx context.Context, db Querier) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}

const eventColumns = `
	id, title, type,
	ST_Y(location::geometry) as lat, ST_X(location::geometry) as lng,
	date, start_date, end_date, start_time, end_time,
	location_text, price_text, tags
`

// EventStore implements event.Store on Postgres/PostGIS.
// Dates are stored as YYYY-MM-DD text the way clients submit them.
type EventStore struct {
	db Querier
}

// NewEventStore creates a new event store
func NewEventStore(db Querier) *EventStore {
	return &EventStore{
		db: db,
	}
}

// ListEvents returns events inside bounds, or every event when bounds is nil
func (s *EventStore) ListEvents(ctx context.Context, bounds *geo.Bounds) ([]event.Record, error) {
	query, args := buildListQuery(bounds)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying events: %w", err)
	}
	defer rows.Close()

	var records []event.Record
	for rows.Next() {
		var row eventRow
		if err := rows.Scan(row.targets()...); err != nil {
			return nil, fmt.Errorf("error scanning event row: %w", err)
		}
		records = append(records, row.record())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return records, nil
}

// GetEvent retrieves an event by ID
func (s *EventStore) GetEvent(ctx context.Context, id string) (*event.Record, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	var row eventRow
	err := s.db.QueryRow(ctx, query, id).Scan(row.targets()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, event.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying event: %w", err)
	}

	record := row.record()
	return &record, nil
}

// buildListQuery restricts by latitude always and by longitude unless the
// box wraps the antimeridian
func buildListQuery(bounds *geo.Bounds) (string, []interface{}) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`SELECT ` + eventColumns + ` FROM events WHERE 1=1`)

	args := []interface{}{}
	argIndex := 1

	if bounds != nil {
		queryBuilder.WriteString(fmt.Sprintf(
			" AND location IS NOT NULL AND ST_Y(location::geometry) BETWEEN $%d AND $%d",
			argIndex, argIndex+1,
		))
		args = append(args, bounds.MinLat, bounds.MaxLat)
		argIndex += 2

		if bounds.MinLng >= -180 && bounds.MaxLng <= 180 {
			queryBuilder.WriteString(fmt.Sprintf(
				" AND ST_X(location::geometry) BETWEEN $%d AND $%d",
				argIndex, argIndex+1,
			))
			args = append(args, bounds.MinLng, bounds.MaxLng)
		}
	}

	queryBuilder.WriteString(" ORDER BY created_at, id")
	return queryBuilder.String(), args
}

type eventRow struct {
	id, title, typ      string
	lat, lng            *float64
	date, start, end    *string
	startTime, endTime  string
	locationText, price string
	tags                []string
}

func (r *eventRow) targets() []interface{} {
	return []interface{}{
		&r.id, &r.title, &r.typ,
		&r.lat, &r.lng,
		&r.date, &r.start, &r.end, &r.startTime, &r.endTime,
		&r.locationText, &r.price, &r.tags,
	}
}

func (r *eventRow) record() event.Record {
	rec := event.Record{
		ID:           r.id,
		Title:        r.title,
		Type:         event.Type(r.typ),
		StartTime:    r.startTime,
		EndTime:      r.endTime,
		LocationText: r.locationText,
		PriceText:    r.price,
		Tags:         r.tags,
	}

	// Set location only if both coordinates are present
	if r.lat != nil && r.lng != nil {
		rec.Latitude = r.lat
		rec.Longitude = r.lng
	}

	rec.SetDates(deref(r.date), deref(r.start), deref(r.end))

	return rec
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

var _ event.Store = (*EventStore)(nil)
