package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
)

// fixtureFile is the YAML document read by the markers command
type fixtureFile struct {
	Center      *geo.GeoPoint           `yaml:"center"`
	PostalCodes map[string]geo.GeoPoint `yaml:"postal_codes"`
	Events      []fixtureEvent          `yaml:"events"`
}

// fixtureEvent mirrors event.Record with calendar dates kept as text
type fixtureEvent struct {
	ID        string   `yaml:"id"`
	Title     string   `yaml:"title"`
	Type      string   `yaml:"type"`
	Latitude  *float64 `yaml:"latitude"`
	Longitude *float64 `yaml:"longitude"`
	Date      string   `yaml:"date"`
	StartDate string   `yaml:"start_date"`
	EndDate   string   `yaml:"end_date"`
	StartTime string   `yaml:"start_time"`
	EndTime   string   `yaml:"end_time"`
	Location  string   `yaml:"location"`
	Price     string   `yaml:"price"`
	Tags      []string `yaml:"tags"`
}

func loadFixtures(path string, logger zerolog.Logger) (fixtureFile, []event.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fixtureFile{}, nil, fmt.Errorf("reading fixtures: %w", err)
	}
	return parseFixtures(data, logger)
}

func parseFixtures(data []byte, logger zerolog.Logger) (fixtureFile, []event.Record, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fixtureFile{}, nil, fmt.Errorf("parsing fixtures: %w", err)
	}

	records := make([]event.Record, 0, len(f.Events))
	for i, fe := range f.Events {
		if fe.ID == "" {
			return fixtureFile{}, nil, fmt.Errorf("event %d has no id", i)
		}
		records = append(records, fe.record(logger))
	}
	return f, records, nil
}

func (fe fixtureEvent) record(logger zerolog.Logger) event.Record {
	r := event.Record{
		ID:           fe.ID,
		Title:        fe.Title,
		Type:         event.TypeOther,
		Latitude:     fe.Latitude,
		Longitude:    fe.Longitude,
		StartTime:    fe.StartTime,
		EndTime:      fe.EndTime,
		LocationText: fe.Location,
		PriceText:    fe.Price,
		Tags:         fe.Tags,
	}

	if fe.Type != "" {
		t, err := event.ParseType(fe.Type)
		if err != nil {
			logger.Warn().Str("event_id", fe.ID).Str("type", fe.Type).Msg("unknown event type, using other")
		} else {
			r.Type = t
		}
	}

	for _, field := range r.SetDates(fe.Date, fe.StartDate, fe.EndDate) {
		logger.Warn().Str("event_id", fe.ID).Str("field", field).Msg("invalid date")
	}

	return r
}
