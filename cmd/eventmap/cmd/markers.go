package cmd

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
	geosvc "eventmap/internal/service/geo"
)

type markersOptions struct {
	file        string
	lat         float64
	lng         float64
	postalCode  string
	radius      float64
	unit        string
	eventType   string
	includePast bool
	today       string
	clusterMode string
	threshold   float64
	explain     bool
}

// markerOutput is one rendered marker
type markerOutput struct {
	Anchor   geo.GeoPoint `yaml:"anchor"`
	Type     event.Type   `yaml:"type"`
	Count    int          `yaml:"count"`
	Distance string       `yaml:"distance"`
	Eta      string       `yaml:"eta"`
	Events   []string     `yaml:"events"`
}

// exclusionOutput explains why an event produced no marker
type exclusionOutput struct {
	ID     string                 `yaml:"id"`
	Reason geosvc.ExclusionReason `yaml:"reason"`
}

type markersOutput struct {
	Center   geo.GeoPoint      `yaml:"center"`
	RadiusKm float64           `yaml:"radius_km"`
	Markers  []markerOutput    `yaml:"markers"`
	Excluded []exclusionOutput `yaml:"excluded,omitempty"`
}

func newMarkersCommand(root *rootOptions) *cobra.Command {
	opts := &markersOptions{}

	cmd := &cobra.Command{
		Use:   "markers",
		Short: "Filter and cluster the events in a fixture file",
		Example: `  eventmap markers -f events.yaml --lat 33.4484 --lng -112.074 --radius 5
  eventmap markers -f events.yaml --type yard_sale --today 2025-06-15 -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarkers(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "YAML fixture with events")
	cmd.Flags().Float64Var(&opts.lat, "lat", 0, "search center latitude (defaults to the fixture center)")
	cmd.Flags().Float64Var(&opts.lng, "lng", 0, "search center longitude")
	cmd.Flags().StringVar(&opts.postalCode, "postal-code", "", "search around a postal code from the fixture's postal_codes table")
	cmd.Flags().Float64Var(&opts.radius, "radius", 10, "search radius")
	cmd.Flags().StringVar(&opts.unit, "unit", "mi", "distance unit (mi or km)")
	cmd.Flags().StringVar(&opts.eventType, "type", "", "only show this event type")
	cmd.Flags().BoolVar(&opts.includePast, "include-past", false, "include events dated before today")
	cmd.Flags().StringVar(&opts.today, "today", "", "reference date as YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&opts.clusterMode, "cluster-mode", string(geosvc.ClusterTransitive), "clustering mode (transitive or anchor)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", geosvc.DefaultClusterThresholdKm, "cluster distance threshold in km")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "list excluded events and why")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runMarkers(cmd *cobra.Command, root *rootOptions, opts *markersOptions) error {
	fixture, records, err := loadFixtures(opts.file, root.logger)
	if err != nil {
		return err
	}

	center, err := searchCenter(cmd, opts, fixture)
	if err != nil {
		return err
	}

	if !(opts.radius > 0) || math.IsInf(opts.radius, 1) {
		return fmt.Errorf("radius must be positive, got %v", opts.radius)
	}
	unit := geo.ParseUnit(opts.unit)

	var typeFilter *event.Type
	if opts.eventType != "" {
		t, err := event.ParseType(opts.eventType)
		if err != nil {
			return err
		}
		typeFilter = &t
	}

	now, err := referenceTime(opts.today)
	if err != nil {
		return err
	}

	mode, err := geosvc.ParseClusterMode(opts.clusterMode)
	if err != nil {
		return err
	}
	clusterer := geosvc.NewClusterer(mode)
	if opts.threshold > 0 {
		clusterer.ThresholdKm = opts.threshold
	}

	sc := geo.SearchCenter{Point: center, RadiusKm: geosvc.RadiusToKm(opts.radius, unit)}
	filtered := geosvc.FilterEvents(records, sc, typeFilter, opts.includePast, now)
	clusters := clusterer.Cluster(filtered)

	root.logger.Debug().
		Int("events", len(records)).
		Int("visible", len(filtered)).
		Int("markers", len(clusters)).
		Msg("computed markers")

	result := markersOutput{
		Center:   center,
		RadiusKm: sc.RadiusKm,
		Markers:  make([]markerOutput, 0, len(clusters)),
	}
	for _, c := range clusters {
		km := geosvc.HaversineKm(center, c.Anchor)
		ids := make([]string, 0, c.Count())
		for _, m := range c.Members {
			ids = append(ids, m.ID)
		}
		result.Markers = append(result.Markers, markerOutput{
			Anchor:   c.Anchor,
			Type:     c.RepresentativeType,
			Count:    c.Count(),
			Distance: geosvc.FormatDistance(km, unit),
			Eta:      geosvc.FormatEta(geosvc.EstimateEtaMinutes(geosvc.KmToMiles(km))),
			Events:   ids,
		})
	}

	if opts.explain {
		for _, r := range records {
			if reason := geosvc.ExplainExclusion(r, sc, typeFilter, opts.includePast, now); reason != geosvc.ReasonNone {
				result.Excluded = append(result.Excluded, exclusionOutput{ID: r.ID, Reason: reason})
			}
		}
	}

	if root.output == "yaml" {
		return writeYAML(cmd.OutOrStdout(), result)
	}
	writeMarkersText(cmd.OutOrStdout(), result, opts.radius, unit)
	return nil
}

func searchCenter(cmd *cobra.Command, opts *markersOptions, fixture fixtureFile) (geo.GeoPoint, error) {
	latSet, lngSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lng")
	if latSet != lngSet {
		return geo.GeoPoint{}, fmt.Errorf("--lat and --lng must be given together")
	}

	var center geo.GeoPoint
	switch {
	case latSet:
		center = geo.GeoPoint{Latitude: opts.lat, Longitude: opts.lng}
	case opts.postalCode != "":
		point, err := geosvc.NewStaticGeocoder(fixture.PostalCodes).Geocode(cmd.Context(), opts.postalCode)
		if err != nil {
			return geo.GeoPoint{}, fmt.Errorf("postal code %q: %w", opts.postalCode, err)
		}
		center = *point
	case fixture.Center != nil:
		center = *fixture.Center
	default:
		return geo.GeoPoint{}, fmt.Errorf("no search center: pass --lat/--lng or --postal-code, or set center in the fixture")
	}

	if !center.Valid() {
		return geo.GeoPoint{}, fmt.Errorf("search center %s is out of range", center)
	}
	return center, nil
}

// referenceTime returns noon of the given local date, or the current time
func referenceTime(today string) (time.Time, error) {
	if today == "" {
		return time.Now(), nil
	}
	d, err := time.ParseInLocation(event.DateLayout, today, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --today %q: %w", today, err)
	}
	return d.Add(12 * time.Hour), nil
}

func writeMarkersText(w io.Writer, result markersOutput, radius float64, unit geo.Unit) {
	fmt.Fprintf(w, "%d markers within %g %s of %s\n", len(result.Markers), radius, unit, result.Center)
	for i, m := range result.Markers {
		fmt.Fprintf(w, "%d. %s x%d at %s  %s  %s\n", i+1, m.Type, m.Count, m.Anchor, m.Distance, m.Eta)
		fmt.Fprintf(w, "   %s\n", strings.Join(m.Events, ", "))
	}
	for _, e := range result.Excluded {
		fmt.Fprintf(w, "excluded %s: %s\n", e.ID, e.Reason)
	}
}

func writeYAML(w io.Writer, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	_, err = w.Write(data)
	return err
}
