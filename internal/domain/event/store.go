package event

import (
	"context"

	"eventmap/internal/domain/geo"
)

// Store is the listings collaborator. The map engine never writes to it.
type Store interface {
	// ListEvents returns events inside bounds; a nil bounds lists every event
	ListEvents(ctx context.Context, bounds *geo.Bounds) ([]Record, error)

	// GetEvent returns a single event or ErrNotFound
	GetEvent(ctx context.Context, id string) (*Record, error)
}

// MarkerService produces the markers to render for a query
type MarkerService interface {
	// Markers fetches events, filters them and clusters the result
	Markers(ctx context.Context, filter Filter) ([]Cluster, error)
}
