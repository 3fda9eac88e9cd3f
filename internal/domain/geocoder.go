package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	Confidence       float64 // provider confidence score, 0 to 1
}

// Found reports whether the provider resolved the query to a coordinate.
func (r GeocodingResult) Found() bool {
	return r.Lat != 0 || r.Lon != 0
}

// Geocoder resolves free-text locations to coordinates.
type Geocoder interface {
	// ForwardGeocode converts a location string to coordinates. An empty
	// result with a nil error means the provider had no match.
	ForwardGeocode(ctx context.Context, query string) (GeocodingResult, error)
}
