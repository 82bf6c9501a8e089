// internal/server/handlers/geo.go

package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
	geosvc "eventmap/internal/service/geo"
)

// GeoHandler handles marker and geospatial HTTP requests
type GeoHandler struct {
	service         geo.Service
	markers         event.MarkerService
	unit            geo.Unit
	defaultRadiusKm float64
	now             func() time.Time
}

// NewGeoHandler creates a new geo handler. now supplies "today" for
// past-event filtering and should return times in the display time zone.
func NewGeoHandler(
	service geo.Service,
	markers event.MarkerService,
	unit geo.Unit,
	defaultRadiusKm float64,
	now func() time.Time,
) *GeoHandler {
	if now == nil {
		now = time.Now
	}

	return &GeoHandler{
		service:         service,
		markers:         markers,
		unit:            unit,
		defaultRadiusKm: defaultRadiusKm,
		now:             now,
	}
}

// MarkerView is a cluster decorated with display distance from the search center
type MarkerView struct {
	event.Cluster
	Count      int     `json:"count"`
	DistanceKm float64 `json:"distance_km"`
	Distance   string  `json:"distance"`
	EtaMinutes float64 `json:"eta_minutes"`
	Eta        string  `json:"eta"`
}

// MarkersResponse is the body of GET /markers
type MarkersResponse struct {
	SearchCenter geo.SearchCenter `json:"search_center"`
	Unit         geo.Unit         `json:"unit"`
	Markers      []MarkerView     `json:"markers"`
}

// GetMarkers filters and clusters events around a point
func (h *GeoHandler) GetMarkers(w http.ResponseWriter, r *http.Request) {
	center, err := parseLocation(r, "lat", "lng")
	if err != nil {
		respondWithDomainError(w, r, "Invalid location", err)
		return
	}

	unit := h.unitFor(r)

	radiusKm := h.defaultRadiusKm
	if radiusStr := r.URL.Query().Get("radius"); radiusStr != "" {
		radius, err := strconv.ParseFloat(radiusStr, 64)
		if err != nil || !(radius > 0) || math.IsInf(radius, 1) {
			respondWithError(w, r, http.StatusBadRequest, "Invalid radius", err)
			return
		}
		radiusKm = geosvc.RadiusToKm(radius, unit)
	}

	filter := event.Filter{
		Center: geo.SearchCenter{Point: center, RadiusKm: radiusKm},
		Now:    h.now(),
	}

	if typeStr := r.URL.Query().Get("type"); typeStr != "" {
		t, err := event.ParseType(typeStr)
		if err != nil {
			respondWithError(w, r, http.StatusBadRequest, "Invalid event type", err)
			return
		}
		filter.Type = &t
	}

	if pastStr := r.URL.Query().Get("include_past"); pastStr != "" {
		includePast, err := strconv.ParseBool(pastStr)
		if err != nil {
			respondWithError(w, r, http.StatusBadRequest, "Invalid include_past", err)
			return
		}
		filter.IncludePast = includePast
	}

	clusters, err := h.markers.Markers(r.Context(), filter)
	if err != nil {
		respondWithDomainError(w, r, "Failed to compute markers", err)
		return
	}

	respondWithJSON(w, http.StatusOK, MarkersResponse{
		SearchCenter: filter.Center,
		Unit:         unit,
		Markers:      h.markerViews(clusters, center, unit),
	})
}

func (h *GeoHandler) markerViews(clusters []event.Cluster, from geo.GeoPoint, unit geo.Unit) []MarkerView {
	views := make([]MarkerView, 0, len(clusters))
	for _, c := range clusters {
		km := h.service.CalculateDistance(from, c.Anchor)
		eta := geosvc.EstimateEtaMinutes(geosvc.KmToMiles(km))
		views = append(views, MarkerView{
			Cluster:    c,
			Count:      c.Count(),
			DistanceKm: km,
			Distance:   geosvc.FormatDistance(km, unit),
			EtaMinutes: eta,
			Eta:        geosvc.FormatEta(eta),
		})
	}
	return views
}

// DistanceResponse is the body of GET /geo/distance
type DistanceResponse struct {
	Kilometers float64 `json:"km"`
	Miles      float64 `json:"miles"`
	Distance   string  `json:"distance"`
	EtaMinutes float64 `json:"eta_minutes"`
	Eta        string  `json:"eta"`
}

// GetDistance returns the distance and driving estimate between two points
func (h *GeoHandler) GetDistance(w http.ResponseWriter, r *http.Request) {
	from, err := parseLocation(r, "from_lat", "from_lng")
	if err != nil {
		respondWithDomainError(w, r, "Invalid origin", err)
		return
	}

	to, err := parseLocation(r, "to_lat", "to_lng")
	if err != nil {
		respondWithDomainError(w, r, "Invalid destination", err)
		return
	}

	km := h.service.CalculateDistance(from, to)
	miles := geosvc.KmToMiles(km)
	eta := geosvc.EstimateEtaMinutes(miles)

	respondWithJSON(w, http.StatusOK, DistanceResponse{
		Kilometers: km,
		Miles:      miles,
		Distance:   geosvc.FormatDistance(km, h.unitFor(r)),
		EtaMinutes: eta,
		Eta:        geosvc.FormatEta(eta),
	})
}

// Geocode resolves a postal code or address to a point
func (h *GeoHandler) Geocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respondWithError(w, r, http.StatusBadRequest, "Missing q parameter", nil)
		return
	}

	point, err := h.service.Geocode(r.Context(), q)
	if err != nil {
		respondWithDomainError(w, r, "Failed to geocode", err)
		return
	}

	respondWithJSON(w, http.StatusOK, point)
}

func (h *GeoHandler) unitFor(r *http.Request) geo.Unit {
	if u := r.URL.Query().Get("unit"); u != "" {
		return geo.ParseUnit(u)
	}
	return h.unit
}
