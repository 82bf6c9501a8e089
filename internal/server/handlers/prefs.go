// internal/server/handlers/prefs.go

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"eventmap/internal/domain/geo"
	"eventmap/internal/domain/mapview"
)

// PrefsStore is the per-user preference store
type PrefsStore interface {
	Get(ctx context.Context, scope, key string) (string, bool, error)
	Set(ctx context.Context, scope, key, value string) error
	All(ctx context.Context, scope string) (map[string]string, error)
	Delete(ctx context.Context, scope, key string) error
}

// PrefsHandler reads and writes the preferences consulted during location resolution
type PrefsHandler struct {
	store PrefsStore
}

// NewPrefsHandler creates a new preferences handler
func NewPrefsHandler(store PrefsStore) *PrefsHandler {
	return &PrefsHandler{
		store: store,
	}
}

// GetPrefs returns every preference of a user
func (h *PrefsHandler) GetPrefs(w http.ResponseWriter, r *http.Request) {
	values, err := h.store.All(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondWithError(w, r, http.StatusInternalServerError, "Failed to read preferences", err)
		return
	}

	respondWithJSON(w, http.StatusOK, values)
}

type setPrefRequest struct {
	Value string `json:"value"`
}

// SetPref stores one preference after validating it
func (h *PrefsHandler) SetPref(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	key := chi.URLParam(r, "key")

	var req setPrefRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithDomainError(w, r, "Invalid request", err)
		return
	}

	value, err := normalizePref(key, req.Value)
	if err != nil {
		respondWithDomainError(w, r, "Invalid preference", err)
		return
	}

	if err := h.store.Set(r.Context(), userID, key, value); err != nil {
		respondWithError(w, r, http.StatusInternalServerError, "Failed to save preference", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{key: value})
}

// DeletePref clears one preference so resolution falls through to the next source
func (h *PrefsHandler) DeletePref(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key != mapview.KeyLastLocation && key != mapview.KeyPostalCode {
		respondWithDomainError(w, r, "Invalid preference", badRequest("unknown preference %q", key))
		return
	}

	if err := h.store.Delete(r.Context(), chi.URLParam(r, "userID"), key); err != nil {
		respondWithError(w, r, http.StatusInternalServerError, "Failed to delete preference", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func normalizePref(key, value string) (string, error) {
	value = strings.TrimSpace(value)

	switch key {
	case mapview.KeyLastLocation:
		p, err := geo.ParsePoint(value)
		if err != nil {
			return "", badRequest("%v", err)
		}
		return p.String(), nil
	case mapview.KeyPostalCode:
		if value == "" {
			return "", badRequest("postal code is empty")
		}
		return value, nil
	default:
		return "", badRequest("unknown preference %q", key)
	}
}
