package geo

import (
	"fmt"
	"math"

	"eventmap/internal/domain/geo"
)

const (
	feetPerMile    = 5280.0
	metersPerKm    = 1000.0
	minMilesInUnit = 0.1
	minKmInUnit    = 1.0
)

// FormatDistance renders a distance for display in the user's unit.
// Short distances switch to feet or meters.
func FormatDistance(km float64, unit geo.Unit) string {
	if unit == geo.UnitKilometers {
		if km < minKmInUnit {
			return fmt.Sprintf("%d m", int(math.Round(km*metersPerKm)))
		}
		return fmt.Sprintf("%.1f km", km)
	}

	miles := KmToMiles(km)
	if miles < minMilesInUnit {
		return fmt.Sprintf("%d ft", int(math.Round(miles*feetPerMile)))
	}
	return fmt.Sprintf("%.1f mi", miles)
}

// FormatEta renders an ETA in minutes as "< 1 min", "N min" or "H hr [M min]"
func FormatEta(minutes float64) string {
	if minutes < 1 {
		return "< 1 min"
	}

	total := int(math.Round(minutes))
	if total < 60 {
		return fmt.Sprintf("%d min", total)
	}

	hours := total / 60
	mins := total % 60
	if mins == 0 {
		return fmt.Sprintf("%d hr", hours)
	}
	return fmt.Sprintf("%d hr %d min", hours, mins)
}
