// internal/domain/mapview/state.go

package mapview

import (
	"context"
	"errors"
	"time"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
)

// ErrSessionNotFound is returned for an unknown map session id
var ErrSessionNotFound = errors.New("map session not found")

// ErrPermissionDenied is returned by the resolver when GPS is tried without a
// granted permission; it makes the chain fall through to the next source
var ErrPermissionDenied = errors.New("location permission denied")

// Persisted keys read during initial location resolution
const (
	KeyLastLocation = "last_location"
	KeyPostalCode   = "postal_code"
)

// PermissionStatus is the foreground location permission state
type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionUndetermined PermissionStatus = "undetermined"
)

// LocationSource records which resolution step produced the user location
type LocationSource string

const (
	SourceNone       LocationSource = ""
	SourceGPS        LocationSource = "gps"
	SourcePersisted  LocationSource = "persisted"
	SourcePostalCode LocationSource = "postal_code"
	SourceDefault    LocationSource = "default"
)

// ViewState is the map screen state owned by a single coordinator
type ViewState struct {
	UserLocation   *geo.GeoPoint     `json:"user_location"`
	SearchCenter   *geo.SearchCenter `json:"search_center"`
	Viewport       geo.Viewport      `json:"viewport"`
	SelectedEvent  *event.Record     `json:"selected_event"`
	MemberList     []event.Record    `json:"member_list,omitempty"`
	ShowSearchArea bool              `json:"show_search_area"`
	Resolved       bool              `json:"resolved"`
	Source         LocationSource    `json:"source,omitempty"`
	TypeFilter     *event.Type       `json:"type_filter,omitempty"`
	IncludePast    bool              `json:"include_past"`
}

// Snapshot is what the rendering surface receives after each transition
type Snapshot struct {
	SessionID string          `json:"session_id"`
	State     ViewState       `json:"state"`
	Markers   []event.Cluster `json:"markers"`
	Version   uint64          `json:"version"`
}

// LocationProvider is the device geolocation collaborator
type LocationProvider interface {
	// PermissionStatus returns the foreground location permission
	PermissionStatus(ctx context.Context) (PermissionStatus, error)

	// CurrentPosition returns a GPS fix, giving up after timeout
	CurrentPosition(ctx context.Context, timeout time.Duration) (*geo.GeoPoint, error)
}

// KeyValueStore is the persisted key-value collaborator
type KeyValueStore interface {
	// Get returns the value for key and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key
	Set(ctx context.Context, key, value string) error
}

// Observer receives a snapshot after every applied transition
type Observer func(Snapshot)
