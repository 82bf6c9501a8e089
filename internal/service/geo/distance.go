package geo

import (
	"math"

	"eventmap/internal/domain/geo"
)

const (
	earthRadiusKm = 6371.0
	kmPerMile     = 1.60934

	citySpeedMph    = 25.0
	highwaySpeedMph = 55.0
	// cityLegMiles is the part of a longer trip assumed to be driven at city speed
	cityLegMiles = 5.0
	// highwayThresholdMiles is where the two-segment model takes over
	highwayThresholdMiles = 10.0
)

// HaversineKm returns the great-circle distance between a and b in kilometers
func HaversineKm(a, b geo.GeoPoint) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude - a.Longitude)

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin
	// rounding can push h just past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// KmToMiles converts kilometers to miles
func KmToMiles(km float64) float64 {
	return km / kmPerMile
}

// MilesToKm converts miles to kilometers
func MilesToKm(miles float64) float64 {
	return miles * kmPerMile
}

// RadiusToKm converts a radius in the given display unit to kilometers
func RadiusToKm(value float64, unit geo.Unit) float64 {
	if unit == geo.UnitMiles {
		return MilesToKm(value)
	}
	return value
}

// EstimateEtaMinutes estimates driving time for a straight-line distance.
// Under 10 miles everything is driven at city speed; beyond that the first
// 5 miles are city and the rest highway. The model is not continuous at 10.
func EstimateEtaMinutes(distanceMiles float64) float64 {
	if distanceMiles < highwayThresholdMiles {
		return distanceMiles / citySpeedMph * 60
	}
	return cityLegMiles/citySpeedMph*60 + (distanceMiles-cityLegMiles)/highwaySpeedMph*60
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
