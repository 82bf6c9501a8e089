package geo

import (
	"time"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
)

// ExclusionReason names the first filter predicate an event failed
type ExclusionReason string

const (
	ReasonNone          ExclusionReason = ""
	ReasonNoCoordinates ExclusionReason = "no_coordinates"
	ReasonOutOfRadius   ExclusionReason = "out_of_radius"
	ReasonTypeMismatch  ExclusionReason = "type_mismatch"
	ReasonPast          ExclusionReason = "past"
)

// FilterEvents returns the events that pass every predicate, in input order.
// now is the reference instant; "today" is its calendar date in now.Location().
func FilterEvents(
	events []event.Record,
	center geo.SearchCenter,
	typeFilter *event.Type,
	includePast bool,
	now time.Time,
) []event.Record {
	filtered := make([]event.Record, 0, len(events))
	for _, e := range events {
		if ExplainExclusion(e, center, typeFilter, includePast, now) == ReasonNone {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// ExplainExclusion returns why e would be dropped by FilterEvents, or ReasonNone
func ExplainExclusion(
	e event.Record,
	center geo.SearchCenter,
	typeFilter *event.Type,
	includePast bool,
	now time.Time,
) ExclusionReason {
	point, ok := e.Point()
	if !ok {
		return ReasonNoCoordinates
	}

	if HaversineKm(center.Point, point) > center.RadiusKm {
		return ReasonOutOfRadius
	}

	if typeFilter != nil && e.Type != *typeFilter {
		return ReasonTypeMismatch
	}

	if !includePast && isPast(e, now) {
		return ReasonPast
	}

	return ReasonNone
}

// isPast compares calendar dates only. Records without a usable date are
// never considered past.
func isPast(e event.Record, now time.Time) bool {
	date, ok := e.EffectiveDate()
	if !ok || date.IsZero() {
		return false
	}
	return dateOnly(date, date.Location()).Before(dateOnly(now, now.Location()))
}

// dateOnly keeps the year/month/day of t as seen in loc and drops the clock.
// Event dates are calendar dates and are read in their own location.
func dateOnly(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
