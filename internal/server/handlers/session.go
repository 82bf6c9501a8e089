// internal/server/handlers/session.go

package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"eventmap/internal/adapter/location"
	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
	"eventmap/internal/domain/identity"
	"eventmap/internal/domain/mapview"
	geosvc "eventmap/internal/service/geo"
	mapviewsvc "eventmap/internal/service/mapview"
)

// SessionManager is the map session registry used by the handlers
type SessionManager interface {
	Open(ctx context.Context, userID string, location mapview.LocationProvider) (*mapviewsvc.Coordinator, error)
	Get(id string) (*mapviewsvc.Coordinator, error)
	Refresh(ctx context.Context, id string) error
	Close(id string)
	StateSubject(id string) string
}

// SessionHandler handles map session HTTP requests
type SessionHandler struct {
	manager SessionManager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(manager SessionManager) *SessionHandler {
	return &SessionHandler{
		manager: manager,
	}
}

type openSessionRequest struct {
	UserID     string                   `json:"user_id"`
	Permission mapview.PermissionStatus `json:"permission"`
	Location   *geo.GeoPoint            `json:"location"`
}

// CreateSession opens a map session and returns its first snapshot
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithDomainError(w, r, "Invalid request", err)
		return
	}

	var provider mapview.LocationProvider
	if req.Permission != "" || req.Location != nil {
		provider = location.Reported{Permission: req.Permission, Fix: req.Location}
	}

	coordinator, err := h.manager.Open(r.Context(), req.UserID, provider)
	if err != nil {
		respondWithDomainError(w, r, "Failed to open session", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, coordinator.Snapshot())
}

// GetSession returns the current snapshot of a session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	coordinator, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondWithDomainError(w, r, "Failed to get session", err)
		return
	}

	respondWithJSON(w, http.StatusOK, coordinator.Snapshot())
}

// DeleteSession closes a session
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.manager.Close(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// SessionEvent is one discrete user or lifecycle event sent by the map screen
type SessionEvent struct {
	Type        string        `json:"type"`
	Viewport    *geo.Viewport `json:"viewport,omitempty"`
	Index       *int          `json:"index,omitempty"`
	EventID     string        `json:"event_id,omitempty"`
	Radius      float64       `json:"radius,omitempty"`
	Unit        geo.Unit      `json:"unit,omitempty"`
	EventType   string        `json:"event_type,omitempty"`
	IncludePast *bool         `json:"include_past,omitempty"`
}

// Session event types
const (
	EventActivate         = "activate"
	EventBlur             = "blur"
	EventRefocus          = "refocus"
	EventViewportSettled  = "viewport_settled"
	EventSearchThisArea   = "search_this_area"
	EventRecenter         = "recenter"
	EventSetRadius        = "set_radius"
	EventMarkerTapped     = "marker_tapped"
	EventSelectEvent      = "select_event"
	EventBackgroundTapped = "background_tapped"
	EventSetTypeFilter    = "set_type_filter"
	EventSetIncludePast   = "set_include_past"
	EventRefresh          = "refresh"
)

// PostEvent applies one event to a session and returns the resulting snapshot
func (h *SessionHandler) PostEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	coordinator, err := h.manager.Get(id)
	if err != nil {
		respondWithDomainError(w, r, "Failed to get session", err)
		return
	}

	var ev SessionEvent
	if err := decodeJSON(r, &ev); err != nil {
		respondWithDomainError(w, r, "Invalid event", err)
		return
	}

	refresh := func(ctx context.Context) error { return h.manager.Refresh(ctx, id) }
	if err := applyEvent(r.Context(), coordinator, refresh, ev); err != nil {
		respondWithDomainError(w, r, "Failed to apply event", err)
		return
	}

	respondWithJSON(w, http.StatusOK, coordinator.Snapshot())
}

// applyEvent dispatches ev to the coordinator
func applyEvent(ctx context.Context, c *mapviewsvc.Coordinator, refresh func(context.Context) error, ev SessionEvent) error {
	switch ev.Type {
	case EventActivate:
		return c.Activate(ctx)
	case EventBlur:
		c.Blur()
	case EventRefocus:
		c.Refocus()
	case EventViewportSettled:
		if ev.Viewport == nil || !ev.Viewport.Center.Valid() {
			return badRequest("viewport_settled needs a valid viewport")
		}
		c.ViewportSettled(*ev.Viewport)
	case EventSearchThisArea:
		c.SearchThisArea()
	case EventRecenter:
		return c.Recenter()
	case EventSetRadius:
		if ev.Radius <= 0 {
			return badRequest("set_radius needs a positive radius")
		}
		return c.SetRadius(geosvc.RadiusToKm(ev.Radius, geo.ParseUnit(string(ev.Unit))))
	case EventMarkerTapped:
		if ev.Index == nil {
			return badRequest("marker_tapped needs an index")
		}
		return c.MarkerTapped(*ev.Index)
	case EventSelectEvent:
		if ev.EventID == "" {
			return badRequest("select_event needs an event_id")
		}
		return c.SelectEvent(ev.EventID)
	case EventBackgroundTapped:
		c.BackgroundTapped()
	case EventSetTypeFilter:
		if ev.EventType == "" {
			c.SetTypeFilter(nil)
			return nil
		}
		t, err := event.ParseType(ev.EventType)
		if err != nil {
			return badRequest("%v", err)
		}
		c.SetTypeFilter(&t)
	case EventSetIncludePast:
		if ev.IncludePast == nil {
			return badRequest("set_include_past needs include_past")
		}
		c.SetIncludePast(*ev.IncludePast)
	case EventRefresh:
		return refresh(ctx)
	default:
		return badRequest("unknown event type %q", ev.Type)
	}
	return nil
}

// AuthHandler receives sign-in and sign-out notifications from the auth provider
type AuthHandler struct {
	broadcaster identity.Broadcaster
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(broadcaster identity.Broadcaster) *AuthHandler {
	return &AuthHandler{
		broadcaster: broadcaster,
	}
}

// PostAuthState applies an auth transition
func (h *AuthHandler) PostAuthState(w http.ResponseWriter, r *http.Request) {
	var change identity.AuthChange
	if err := decodeJSON(r, &change); err != nil {
		respondWithDomainError(w, r, "Invalid request", err)
		return
	}

	if _, err := identity.ParseAuthState(string(change.State)); err != nil {
		respondWithError(w, r, http.StatusBadRequest, "Invalid auth state", err)
		return
	}

	applied, err := h.broadcaster.Report(change)
	if err != nil && !applied {
		respondWithDomainError(w, r, "Failed to apply auth state", err)
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("user_id", change.UserID).Msg("auth state applied but not broadcast")
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": change.UserID,
		"state":   h.broadcaster.State(change.UserID),
		"changed": applied,
	})
}
