package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"eventmap/internal/domain/geo"
	geosvc "eventmap/internal/service/geo"
)

type distanceOutput struct {
	From       geo.GeoPoint `yaml:"from"`
	To         geo.GeoPoint `yaml:"to"`
	Kilometers float64      `yaml:"km"`
	Miles      float64      `yaml:"miles"`
	Distance   string       `yaml:"distance"`
	Eta        string       `yaml:"eta"`
}

func newDistanceCommand(root *rootOptions) *cobra.Command {
	var unit string

	cmd := &cobra.Command{
		Use:     "distance FROM TO",
		Short:   "Great-circle distance and drive estimate between two points",
		Example: `  eventmap distance 33.4484,-112.074 33.4255,-111.94 --unit km`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := geo.ParsePoint(args[0])
			if err != nil {
				return err
			}
			to, err := geo.ParsePoint(args[1])
			if err != nil {
				return err
			}

			km := geosvc.HaversineKm(from, to)
			miles := geosvc.KmToMiles(km)
			result := distanceOutput{
				From:       from,
				To:         to,
				Kilometers: km,
				Miles:      miles,
				Distance:   geosvc.FormatDistance(km, geo.ParseUnit(unit)),
				Eta:        geosvc.FormatEta(geosvc.EstimateEtaMinutes(miles)),
			}

			if root.output == "yaml" {
				return writeYAML(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", result.Distance, result.Eta)
			return nil
		},
	}

	cmd.Flags().StringVar(&unit, "unit", "mi", "distance unit (mi or km)")
	return cmd
}

type etaOutput struct {
	Miles   float64 `yaml:"miles"`
	Minutes float64 `yaml:"minutes"`
	Eta     string  `yaml:"eta"`
}

func newEtaCommand(root *rootOptions) *cobra.Command {
	var km bool

	cmd := &cobra.Command{
		Use:   "eta DISTANCE",
		Short: "Estimated drive time for a distance",
		Long: `eta converts a distance to an estimated drive time. Trips under ten
miles are driven at 25 mph; longer trips drive the first five miles at
25 mph and the rest at 55 mph.`,
		Example: `  eventmap eta 12.5
  eventmap eta 3 --km`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			distance, err := strconv.ParseFloat(args[0], 64)
			if err != nil || distance < 0 {
				return fmt.Errorf("invalid distance %q", args[0])
			}

			miles := distance
			if km {
				miles = geosvc.KmToMiles(distance)
			}
			minutes := geosvc.EstimateEtaMinutes(miles)
			result := etaOutput{Miles: miles, Minutes: minutes, Eta: geosvc.FormatEta(minutes)}

			if root.output == "yaml" {
				return writeYAML(cmd.OutOrStdout(), result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Eta)
			return nil
		},
	}

	cmd.Flags().BoolVar(&km, "km", false, "distance is in kilometers")
	return cmd
}
