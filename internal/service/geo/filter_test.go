package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
)

var arizona = time.FixedZone("MST", -7*3600)

func fptr(f float64) *float64 { return &f }

func day(s string) *time.Time {
	d, err := time.Parse(event.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &d
}

func record(id string, lat, lng float64, typ event.Type, date string) event.Record {
	r := event.Record{
		ID:        id,
		Title:     id,
		Type:      typ,
		Latitude:  fptr(lat),
		Longitude: fptr(lng),
	}
	if date != "" {
		r.Date = day(date)
	}
	return r
}

func ids(records []event.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestFilterEvents_Distance(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, arizona)
	center := geo.SearchCenter{Point: phoenix, RadiusKm: 10}

	events := []event.Record{
		record("near", 33.4500, -112.0700, event.TypeYardSale, "2025-06-20"),
		record("far", 34.0, -112.0, event.TypeYardSale, "2025-06-20"),
	}

	got := FilterEvents(events, center, nil, false, now)
	assert.Equal(t, []string{"near"}, ids(got))
}

func TestFilterEvents_PastEvents(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, arizona)
	center := geo.SearchCenter{Point: phoenix, RadiusKm: 10}
	yesterday := []event.Record{record("yesterday", 33.4500, -112.0700, event.TypeYardSale, "2025-06-14")}

	assert.Empty(t, FilterEvents(yesterday, center, nil, false, now))
	assert.Equal(t, []string{"yesterday"}, ids(FilterEvents(yesterday, center, nil, true, now)))
}

func TestFilterEvents_TodayUsesCallerTimezone(t *testing.T) {
	// 23:30 in Arizona is already the next day in UTC
	now := time.Date(2025, 6, 15, 23, 30, 0, 0, arizona)
	center := geo.SearchCenter{Point: phoenix, RadiusKm: 10}

	events := []event.Record{
		record("today", 33.4500, -112.0700, event.TypeYardSale, "2025-06-15"),
		record("yesterday", 33.4500, -112.0700, event.TypeYardSale, "2025-06-14"),
	}

	assert.Equal(t, []string{"today"}, ids(FilterEvents(events, center, nil, false, now)))
}

func TestFilterEvents_MultiDayUsesStartDate(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, arizona)
	center := geo.SearchCenter{Point: phoenix, RadiusKm: 10}

	started := record("started", 33.4500, -112.0700, event.TypeFleaMarket, "")
	started.StartDate = day("2025-06-14")
	started.EndDate = day("2025-06-16")

	upcoming := record("upcoming", 33.4500, -112.0700, event.TypeFleaMarket, "")
	upcoming.StartDate = day("2025-06-15")
	upcoming.EndDate = day("2025-06-17")

	got := FilterEvents([]event.Record{started, upcoming}, center, nil, false, now)
	assert.Equal(t, []string{"upcoming"}, ids(got))
}

func TestFilterEvents_InvalidDateIsNotPast(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, arizona)
	center := geo.SearchCenter{Point: phoenix, RadiusKm: 10}

	broken := record("broken", 33.4500, -112.0700, event.TypeBakeSale, "")
	broken.DateInvalid = true
	undated := record("undated", 33.4500, -112.0700, event.TypeBakeSale, "")

	assert.NotPanics(t, func() {
		got := FilterEvents([]event.Record{broken, undated}, center, nil, false, now)
		assert.Equal(t, []string{"broken", "undated"}, ids(got))
	})
}

func TestFilterEvents_TypeAndCoordinates(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, arizona)
	center := geo.SearchCenter{Point: phoenix, RadiusKm: 10}
	bake := event.TypeBakeSale

	noCoords := event.Record{ID: "nocoords", Type: event.TypeBakeSale, Latitude: fptr(33.45)}
	events := []event.Record{
		record("bake", 33.4490, -112.0730, event.TypeBakeSale, "2025-07-01"),
		record("yard", 33.4490, -112.0730, event.TypeYardSale, "2025-07-01"),
		noCoords,
		record("bake2", 33.4510, -112.0750, event.TypeBakeSale, "2025-07-02"),
	}

	assert.Equal(t, []string{"bake", "bake2"}, ids(FilterEvents(events, center, &bake, false, now)))
	assert.Equal(t, []string{"bake", "yard", "bake2"}, ids(FilterEvents(events, center, nil, false, now)))
}

func TestFilterEvents_ExcludedEventsExplainWhy(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, arizona)
	center := geo.SearchCenter{Point: phoenix, RadiusKm: 5}
	craft := event.TypeCraftFair

	events := []event.Record{
		record("ok", 33.4490, -112.0730, event.TypeCraftFair, "2025-06-15"),
		record("far", 33.9, -112.0730, event.TypeCraftFair, "2025-06-15"),
		record("type", 33.4490, -112.0730, event.TypeSwapMeet, "2025-06-15"),
		record("past", 33.4490, -112.0730, event.TypeCraftFair, "2025-06-01"),
		{ID: "nocoords", Type: event.TypeCraftFair},
	}

	got := FilterEvents(events, center, &craft, false, now)
	kept := map[string]bool{}
	for _, e := range got {
		kept[e.ID] = true
	}

	for _, e := range events {
		reason := ExplainExclusion(e, center, &craft, false, now)
		if kept[e.ID] {
			assert.Equal(t, ReasonNone, reason, e.ID)
		} else {
			assert.NotEqual(t, ReasonNone, reason, e.ID)
		}
	}

	assert.Equal(t, ReasonOutOfRadius, ExplainExclusion(events[1], center, &craft, false, now))
	assert.Equal(t, ReasonTypeMismatch, ExplainExclusion(events[2], center, &craft, false, now))
	assert.Equal(t, ReasonPast, ExplainExclusion(events[3], center, &craft, false, now))
	assert.Equal(t, ReasonNoCoordinates, ExplainExclusion(events[4], center, &craft, false, now))
}
