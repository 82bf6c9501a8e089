// Package mapview implements the map screen state machine: initial location
// resolution, search center and viewport tracking, marker selection, and
// marker recomputation on every transition.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
	"eventmap/internal/domain/mapview"
	geosvc "eventmap/internal/service/geo"
	"eventmap/internal/service/notify"
)

var (
	// ErrLocationUnknown is returned by Recenter before a location is resolved
	ErrLocationUnknown = errors.New("user location not resolved")

	// ErrUnknownMarker is returned when a tapped marker is not on the map
	ErrUnknownMarker = errors.New("marker not found")
)

// CoordinatorConfig contains configuration for a map coordinator
type CoordinatorConfig struct {
	DefaultRadiusKm       float64
	SearchAreaThresholdKm float64
	DefaultSpan           float64
	SelectedSpan          float64
}

// DefaultCoordinatorConfig returns the standard map behavior
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		DefaultRadiusKm:       geosvc.MilesToKm(10),
		SearchAreaThresholdKm: 1,
		DefaultSpan:           0.1,
		SelectedSpan:          0.01,
	}
}

// Coordinator owns the ViewState of one map screen. Every method is one
// discrete event; after each applied event markers are recomputed from the
// latest inputs and observers get a new Snapshot.
type Coordinator struct {
	id        string
	resolver  *Resolver
	clusterer *geosvc.Clusterer
	config    CoordinatorConfig
	now       func() time.Time
	observers *notify.Registry[mapview.Snapshot]
	logger    zerolog.Logger

	// notifyMu is taken before mu is released so snapshots reach
	// observers in version order
	notifyMu sync.Mutex

	mu            sync.Mutex
	state         mapview.ViewState
	events        []event.Record
	markers       []event.Cluster
	version       uint64
	resolving     bool
	resolveGen    uint64
	cancelResolve context.CancelFunc
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithClock sets the clock used for "today" in past-event filtering
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithClusterer sets the clustering engine
func WithClusterer(clusterer *geosvc.Clusterer) CoordinatorOption {
	return func(c *Coordinator) {
		if clusterer != nil {
			c.clusterer = clusterer
		}
	}
}

// WithLogger sets the coordinator logger
func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator for one map session
func NewCoordinator(id string, resolver *Resolver, config CoordinatorConfig, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		id:        id,
		resolver:  resolver,
		clusterer: geosvc.NewClusterer(geosvc.ClusterTransitive),
		config:    config,
		now:       time.Now,
		observers: notify.NewRegistry[mapview.Snapshot](),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("session_id", id).Logger()
	return c
}

// ID returns the session id
func (c *Coordinator) ID() string {
	return c.id
}

// Subscribe registers an observer for snapshots
func (c *Coordinator) Subscribe(observer mapview.Observer) func() {
	return c.observers.Subscribe(observer)
}

// Snapshot returns the current state and markers
func (c *Coordinator) Snapshot() mapview.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

// Activate handles the screen gaining focus. The first activation resolves
// the user location; later ones behave like Refocus. Resolution is abandoned
// if Blur is called before it completes.
func (c *Coordinator) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Resolved {
		c.refocusLocked()
		c.publishLocked()
		return nil
	}
	if c.resolving {
		c.mu.Unlock()
		return nil
	}

	c.resolving = true
	c.resolveGen++
	gen := c.resolveGen
	resolveCtx, cancel := context.WithCancel(ctx)
	c.cancelResolve = cancel
	c.mu.Unlock()

	res, err := c.resolver.Resolve(resolveCtx)
	cancel()

	c.mu.Lock()
	if gen != c.resolveGen {
		// blurred while resolving; drop the late result
		c.mu.Unlock()
		c.logger.Debug().Msg("discarding location resolved after blur")
		return context.Canceled
	}
	c.resolving = false
	c.cancelResolve = nil
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("error resolving location: %w", err)
	}

	point := res.Point
	c.state.UserLocation = &point
	c.state.SearchCenter = &geo.SearchCenter{Point: point, RadiusKm: c.config.DefaultRadiusKm}
	c.state.Viewport = geo.Viewport{
		Center:         point,
		LatitudeDelta:  c.config.DefaultSpan,
		LongitudeDelta: c.config.DefaultSpan,
	}
	c.state.Resolved = true
	c.state.Source = res.Source
	c.recomputeLocked()

	c.logger.Info().
		Str("source", string(res.Source)).
		Str("location", point.String()).
		Msg("location resolved")

	c.publishLocked()
	return nil
}

// Blur handles the screen losing focus and cancels a pending resolution
func (c *Coordinator) Blur() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resolving {
		return
	}
	c.resolveGen++
	c.resolving = false
	if c.cancelResolve != nil {
		c.cancelResolve()
		c.cancelResolve = nil
	}
}

// Refocus handles returning to the map, e.g. from a detail view
func (c *Coordinator) Refocus() {
	c.mu.Lock()
	c.refocusLocked()
	c.publishLocked()
}

func (c *Coordinator) refocusLocked() {
	c.clearSelectionLocked()
	c.state.ShowSearchArea = false
}

// ViewportSettled records the viewport after a pan or zoom and surfaces the
// "search this area" affordance once it drifts away from the search center
func (c *Coordinator) ViewportSettled(viewport geo.Viewport) {
	c.mu.Lock()
	c.state.Viewport = viewport
	if c.state.SearchCenter != nil &&
		geosvc.HaversineKm(c.state.SearchCenter.Point, viewport.Center) > c.config.SearchAreaThresholdKm {
		c.state.ShowSearchArea = true
	}
	c.publishLocked()
}

// SearchThisArea moves the search center to the viewport center with the default radius
func (c *Coordinator) SearchThisArea() {
	c.mu.Lock()
	c.state.SearchCenter = &geo.SearchCenter{
		Point:    c.state.Viewport.Center,
		RadiusKm: c.config.DefaultRadiusKm,
	}
	c.state.ShowSearchArea = false
	c.clearSelectionLocked()
	c.recomputeLocked()
	c.publishLocked()
}

// Recenter moves the viewport and search center back to the user location,
// keeping the current radius
func (c *Coordinator) Recenter() error {
	c.mu.Lock()
	if c.state.UserLocation == nil {
		c.mu.Unlock()
		return ErrLocationUnknown
	}

	radius := c.config.DefaultRadiusKm
	if c.state.SearchCenter != nil {
		radius = c.state.SearchCenter.RadiusKm
	}

	user := *c.state.UserLocation
	c.state.Viewport.Center = user
	c.state.SearchCenter = &geo.SearchCenter{Point: user, RadiusKm: radius}
	c.state.ShowSearchArea = false
	c.clearSelectionLocked()
	c.recomputeLocked()
	c.publishLocked()
	return nil
}

// SetRadius replaces the search center with one of a new radius
func (c *Coordinator) SetRadius(radiusKm float64) error {
	if !(radiusKm > 0) || math.IsInf(radiusKm, 1) {
		return fmt.Errorf("radius must be positive, got %v", radiusKm)
	}

	c.mu.Lock()
	if c.state.SearchCenter == nil {
		c.mu.Unlock()
		return ErrLocationUnknown
	}
	c.state.SearchCenter = &geo.SearchCenter{Point: c.state.SearchCenter.Point, RadiusKm: radiusKm}
	c.recomputeLocked()
	c.publishLocked()
	return nil
}

// MarkerTapped handles a tap on the marker at index in the current snapshot.
// A multi-event marker opens its member list; a single event is selected.
func (c *Coordinator) MarkerTapped(index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.markers) {
		c.mu.Unlock()
		return ErrUnknownMarker
	}

	cluster := c.markers[index]
	if cluster.Count() > 1 {
		c.state.SelectedEvent = nil
		c.state.MemberList = append([]event.Record(nil), cluster.Members...)
	} else {
		c.selectLocked(cluster.Members[0])
	}
	c.publishLocked()
	return nil
}

// SelectEvent picks an event from the open member list or the visible markers
func (c *Coordinator) SelectEvent(id string) error {
	c.mu.Lock()
	for _, m := range c.state.MemberList {
		if m.ID == id {
			c.selectLocked(m)
			c.publishLocked()
			return nil
		}
	}
	for _, cluster := range c.markers {
		for _, m := range cluster.Members {
			if m.ID == id {
				c.selectLocked(m)
				c.publishLocked()
				return nil
			}
		}
	}
	c.mu.Unlock()
	return event.ErrNotFound
}

// BackgroundTapped clears the selection
func (c *Coordinator) BackgroundTapped() {
	c.mu.Lock()
	c.clearSelectionLocked()
	c.publishLocked()
}

// SetTypeFilter restricts markers to one event type; nil shows all types
func (c *Coordinator) SetTypeFilter(t *event.Type) {
	c.mu.Lock()
	c.state.TypeFilter = t
	c.recomputeLocked()
	c.publishLocked()
}

// SetIncludePast toggles whether past events are shown
func (c *Coordinator) SetIncludePast(include bool) {
	c.mu.Lock()
	c.state.IncludePast = include
	c.recomputeLocked()
	c.publishLocked()
}

// SetEvents replaces the listings snapshot the markers are derived from
func (c *Coordinator) SetEvents(records []event.Record) {
	c.mu.Lock()
	c.events = append([]event.Record(nil), records...)
	c.recomputeLocked()
	c.publishLocked()
}

func (c *Coordinator) selectLocked(e event.Record) {
	selected := e
	c.state.SelectedEvent = &selected
	c.state.MemberList = nil
	if point, ok := e.Point(); ok {
		c.state.Viewport = geo.Viewport{
			Center:         point,
			LatitudeDelta:  c.config.SelectedSpan,
			LongitudeDelta: c.config.SelectedSpan,
		}
	}
}

func (c *Coordinator) clearSelectionLocked() {
	c.state.SelectedEvent = nil
	c.state.MemberList = nil
}

// recomputeLocked rebuilds markers from scratch from the current inputs
func (c *Coordinator) recomputeLocked() {
	if c.state.SearchCenter == nil {
		c.markers = nil
		return
	}

	filtered := geosvc.FilterEvents(
		c.events,
		*c.state.SearchCenter,
		c.state.TypeFilter,
		c.state.IncludePast,
		c.now(),
	)
	c.markers = c.clusterer.Cluster(filtered)
}

func (c *Coordinator) snapshotLocked() mapview.Snapshot {
	state := c.state
	state.MemberList = append([]event.Record(nil), c.state.MemberList...)

	return mapview.Snapshot{
		SessionID: c.id,
		State:     state,
		Markers:   c.markers,
		Version:   c.version,
	}
}

// publishLocked bumps the version, releases the lock and notifies observers.
// Observers must not trigger transitions on the same coordinator.
func (c *Coordinator) publishLocked() {
	c.version++
	snap := c.snapshotLocked()
	c.notifyMu.Lock()
	c.mu.Unlock()

	defer c.notifyMu.Unlock()
	c.observers.Notify(snap)
}
