package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"eventmap/internal/domain/geo"
)

// DateLayout is the calendar date format used by event records
const DateLayout = "2006-01-02"

// ErrNotFound is returned when an event does not exist
var ErrNotFound = errors.New("event not found")

// Type is the category of a community event
type Type string

const (
	TypeYardSale      Type = "yard_sale"
	TypeGarageSale    Type = "garage_sale"
	TypeEstateSale    Type = "estate_sale"
	TypeBakeSale      Type = "bake_sale"
	TypeCraftFair     Type = "craft_fair"
	TypeFarmersMarket Type = "farmers_market"
	TypeFleaMarket    Type = "flea_market"
	TypeSwapMeet      Type = "swap_meet"
	TypeBookSale      Type = "book_sale"
	TypeOther         Type = "other"
)

// Types lists every known event type in display order
var Types = []Type{
	TypeYardSale,
	TypeGarageSale,
	TypeEstateSale,
	TypeBakeSale,
	TypeCraftFair,
	TypeFarmersMarket,
	TypeFleaMarket,
	TypeSwapMeet,
	TypeBookSale,
	TypeOther,
}

// ParseType parses a type name such as "yard_sale" or "Yard Sale"
func ParseType(s string) (Type, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, t := range Types {
		if string(t) == norm {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Record is a community event as provided by the listings collaborator.
// Records are read-only to the map engine.
type Record struct {
	ID           string     `json:"id" yaml:"id"`
	Title        string     `json:"title" yaml:"title"`
	Type         Type       `json:"type" yaml:"type"`
	Latitude     *float64   `json:"latitude,omitempty" yaml:"latitude"`
	Longitude    *float64   `json:"longitude,omitempty" yaml:"longitude"`
	Date         *time.Time `json:"date,omitempty" yaml:"-"`
	StartDate    *time.Time `json:"start_date,omitempty" yaml:"-"`
	EndDate      *time.Time `json:"end_date,omitempty" yaml:"-"`
	StartTime    string     `json:"start_time,omitempty" yaml:"start_time"`
	EndTime      string     `json:"end_time,omitempty" yaml:"end_time"`
	LocationText string     `json:"location,omitempty" yaml:"location"`
	PriceText    string     `json:"price,omitempty" yaml:"price"`
	Tags         []string   `json:"tags,omitempty" yaml:"tags"`
	// DateInvalid is set when the effective date (date, or start_date of a
	// multi-day event) was present in the source but failed to parse
	DateInvalid bool `json:"-" yaml:"-"`
}

// Point returns the record's coordinates, or false if either is missing
func (r Record) Point() (geo.GeoPoint, bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return geo.GeoPoint{}, false
	}
	return geo.GeoPoint{Latitude: *r.Latitude, Longitude: *r.Longitude}, true
}

// IsMultiDay reports whether the record uses a start/end date pair
func (r Record) IsMultiDay() bool {
	return r.StartDate != nil
}

// SetDates parses the calendar date fields of r from text. A non-empty
// start marks a multi-day event. Fields that fail to parse stay nil and
// their names are returned; only a bad effective date sets DateInvalid.
func (r *Record) SetDates(date, start, end string) []string {
	var invalid []string
	for _, f := range []struct {
		name   string
		text   string
		target **time.Time
	}{
		{"date", date, &r.Date},
		{"start_date", start, &r.StartDate},
		{"end_date", end, &r.EndDate},
	} {
		*f.target = nil
		text := strings.TrimSpace(f.text)
		if text == "" {
			continue
		}
		t, err := time.Parse(DateLayout, text)
		if err != nil {
			invalid = append(invalid, f.name)
			continue
		}
		*f.target = &t
	}

	if strings.TrimSpace(start) != "" {
		r.DateInvalid = r.StartDate == nil
	} else {
		r.DateInvalid = strings.TrimSpace(date) != "" && r.Date == nil
	}
	return invalid
}

// EffectiveDate returns the single date, or the start date of a multi-day event
func (r Record) EffectiveDate() (time.Time, bool) {
	if r.DateInvalid {
		return time.Time{}, false
	}
	if r.StartDate != nil {
		return *r.StartDate, true
	}
	if r.Date != nil {
		return *r.Date, true
	}
	return time.Time{}, false
}

// Cluster is a set of map-proximate events rendered as one marker.
// Clusters are rebuilt on every pass and carry no identity.
type Cluster struct {
	Anchor             geo.GeoPoint `json:"anchor"`
	Members            []Record     `json:"members"`
	RepresentativeType Type         `json:"representative_type"`
}

// Count returns the number of member events
func (c Cluster) Count() int {
	return len(c.Members)
}

// Filter defines the criteria applied before clustering
type Filter struct {
	Center      geo.SearchCenter
	Type        *Type
	IncludePast bool
	Now         time.Time
}
