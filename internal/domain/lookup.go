package domain

import "time"

// Identity is the caller on whose behalf an operation runs.
type Identity struct {
	UserID string
	Role   string
}

// IsZero reports whether no caller was identified.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// GeocodeResult is the response of a geocode lookup. Fallback is true when no
// provider matched and the default coordinate was returned.
type GeocodeResult struct {
	Location string  `json:"location"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Source   string  `json:"source"` // "mapbox", "table", or "fallback"
	Fallback bool    `json:"fallback"`
}

// Point converts the result into a record location.
func (r GeocodeResult) Point() Point {
	return Point{Lng: r.Lng, Lat: r.Lat}
}

// SocialPost is a social-media mention related to a disaster.
type SocialPost struct {
	User      string    `json:"user"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Resource is a relief resource near a disaster.
type Resource struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LocationName string `json:"location_name"`
	Type         string `json:"type"`
}

// OfficialUpdate is a notice published by an authority.
type OfficialUpdate struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Verification is the outcome of an image authenticity check.
type Verification struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
}

// Briefing bundles the auxiliary lookups for one disaster. A section whose
// lookup failed is left empty and its error is reported in Errors under the
// section's JSON name.
type Briefing struct {
	SocialMedia     []SocialPost      `json:"social_media"`
	Resources       []Resource        `json:"resources"`
	OfficialUpdates []OfficialUpdate  `json:"official_updates"`
	Errors          map[string]string `json:"errors,omitempty"`
}
