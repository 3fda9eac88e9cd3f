package lookup

import (
	"strings"
)

// Default coordinate returned when no provider recognizes a location.
const (
	fallbackLat = 40.7128
	fallbackLng = -74.0060
)

type place struct {
	name     string
	lat, lng float64
}

// knownPlaces is matched in order; the first partial match wins.
var knownPlaces = []place{
	{"Manhattan, NYC", 40.7128, -74.0060},
	{"Los Angeles, CA", 34.0522, -118.2437},
	{"Chicago, IL", 41.8781, -87.6298},
	{"Houston, TX", 29.7604, -95.3698},
	{"Phoenix, AZ", 33.4484, -112.0740},
	{"Philadelphia, PA", 39.9526, -75.1652},
	{"San Antonio, TX", 29.4241, -98.4936},
	{"San Diego, CA", 32.7157, -117.1611},
	{"Dallas, TX", 32.7767, -96.7970},
	{"San Jose, CA", 37.3382, -121.8863},
}

// tableGeocode resolves text against knownPlaces: an exact match first, then
// any entry whose city part appears in text, ignoring case.
func tableGeocode(text string) (place, bool) {
	for _, p := range knownPlaces {
		if p.name == text {
			return p, true
		}
	}
	lower := strings.ToLower(text)
	for _, p := range knownPlaces {
		city, _, _ := strings.Cut(p.name, ",")
		if strings.Contains(lower, strings.ToLower(city)) {
			return p, true
		}
	}
	return place{}, false
}
