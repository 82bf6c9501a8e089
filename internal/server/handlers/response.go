// internal/server/handlers/response.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
	"eventmap/internal/domain/identity"
	"eventmap/internal/domain/mapview"
	mapviewsvc "eventmap/internal/service/mapview"
)

// ErrBadRequest marks client input errors
var ErrBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, r *http.Request, code int, message string, err error) {
	response := map[string]string{"error": message}

	if err != nil {
		if code >= http.StatusInternalServerError {
			zerolog.Ctx(r.Context()).Error().Err(err).Int("status", code).Msg(message)
		} else {
			response["detail"] = err.Error()
		}
	}

	respondWithJSON(w, code, response)
}

// respondWithDomainError maps domain sentinel errors to a status code
func respondWithDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	respondWithError(w, r, statusForError(err), message, err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, identity.ErrMissingUser):
		return http.StatusBadRequest
	case errors.Is(err, event.ErrNotFound),
		errors.Is(err, mapview.ErrSessionNotFound),
		errors.Is(err, mapviewsvc.ErrUnknownMarker):
		return http.StatusNotFound
	case errors.Is(err, geo.ErrNotGeocoded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mapviewsvc.ErrLocationUnknown), errors.Is(err, context.Canceled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseLocation reads a coordinate pair from query parameters
func parseLocation(r *http.Request, latKey, lngKey string) (geo.GeoPoint, error) {
	latStr := r.URL.Query().Get(latKey)
	lngStr := r.URL.Query().Get(lngKey)

	if latStr == "" || lngStr == "" {
		return geo.GeoPoint{}, badRequest("missing %s/%s parameters", latKey, lngKey)
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return geo.GeoPoint{}, badRequest("invalid %s", latKey)
	}

	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return geo.GeoPoint{}, badRequest("invalid %s", lngKey)
	}

	p := geo.GeoPoint{Latitude: lat, Longitude: lng}
	if !p.Valid() {
		return geo.GeoPoint{}, badRequest("coordinates out of range")
	}
	return p, nil
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}
