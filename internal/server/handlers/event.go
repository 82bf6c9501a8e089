// internal/server/handlers/event.go

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"eventmap/internal/domain/event"
	"eventmap/internal/ics"
)

// EventHandler serves single event records and their calendar export
type EventHandler struct {
	store    event.Store
	location *time.Location
	now      func() time.Time
}

// NewEventHandler creates a new event handler. Event clock times are
// interpreted in location when exporting to a calendar.
func NewEventHandler(store event.Store, location *time.Location) *EventHandler {
	return &EventHandler{
		store:    store,
		location: location,
		now:      time.Now,
	}
}

// GetEvent returns an event, or its iCalendar export when the id ends in .ics
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	asCalendar := strings.HasSuffix(id, ".ics")
	id = strings.TrimSuffix(id, ".ics")

	if id == "" {
		respondWithError(w, r, http.StatusBadRequest, "Missing event ID", nil)
		return
	}

	record, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		respondWithDomainError(w, r, "Failed to get event", err)
		return
	}

	if !asCalendar {
		respondWithJSON(w, http.StatusOK, record)
		return
	}

	doc, err := ics.Export(*record, h.location, h.now())
	if err != nil {
		respondWithError(w, r, http.StatusUnprocessableEntity, "Event cannot be exported", err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}
