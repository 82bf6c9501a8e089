// Package ics renders event records as iCalendar documents so clients can
// hand them to the device calendar.
package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventmap/internal/domain/event"
)

// ProductID identifies this service in exported calendars
const ProductID = "-//eventmap//event export//EN"

// ErrNoDate is returned for records without a usable date
var ErrNoDate = errors.New("event has no date")

// Export builds a single-event calendar for r. Clock times are interpreted
// in loc; events without a start time become all-day events.
func Export(r event.Record, loc *time.Location, stamp time.Time) (string, error) {
	if loc == nil {
		loc = time.UTC
	}

	first, ok := r.EffectiveDate()
	if !ok {
		return "", ErrNoDate
	}
	last := first
	if r.IsMultiDay() && r.EndDate != nil && !r.EndDate.Before(first) {
		last = *r.EndDate
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)

	ev := cal.AddEvent(r.ID + "@eventmap")
	ev.SetDtStampTime(stamp)
	ev.SetSummary(r.Title)
	if r.LocationText != "" {
		ev.SetLocation(r.LocationText)
	}
	if desc := description(r); desc != "" {
		ev.SetDescription(desc)
	}
	if p, ok := r.Point(); ok {
		ev.SetGeo(fmt.Sprintf("%.6f", p.Latitude), fmt.Sprintf("%.6f", p.Longitude))
	}
	if r.Type != "" {
		ev.AddCategory(strings.ToUpper(string(r.Type)))
	}

	start, err := clockOn(first, r.StartTime, loc)
	if err != nil {
		return "", err
	}
	if start == nil {
		// DTEND of an all-day event is exclusive
		ev.SetAllDayStartAt(first)
		ev.SetAllDayEndAt(last.AddDate(0, 0, 1))
		return cal.Serialize(), nil
	}

	end, err := clockOn(last, r.EndTime, loc)
	if err != nil {
		return "", err
	}
	if end == nil || !end.After(*start) {
		t := start.Add(time.Hour)
		end = &t
	}

	ev.SetStartAt(*start)
	ev.SetEndAt(*end)
	return cal.Serialize(), nil
}

// clockOn combines a calendar date with an "HH:MM" clock time in loc.
// A blank clock returns nil.
func clockOn(date time.Time, clock string, loc *time.Location) (*time.Time, error) {
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return nil, nil
	}

	hm, err := time.Parse("15:04", clock)
	if err != nil {
		return nil, fmt.Errorf("invalid clock time %q: %w", clock, err)
	}

	t := time.Date(date.Year(), date.Month(), date.Day(), hm.Hour(), hm.Minute(), 0, 0, loc)
	return &t, nil
}

func description(r event.Record) string {
	var lines []string
	if r.PriceText != "" {
		lines = append(lines, "Price: "+r.PriceText)
	}
	if len(r.Tags) > 0 {
		lines = append(lines, "Tags: "+strings.Join(r.Tags, ", "))
	}
	return strings.Join(lines, "\n")
}
