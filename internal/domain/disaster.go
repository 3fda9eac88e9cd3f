package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// AuditAction is the kind of change recorded by an AuditEntry.
type AuditAction string

const (
	ActionCreate AuditAction = "create"
	ActionUpdate AuditAction = "update"
	ActionDelete AuditAction = "delete"
)

// AuditEntry records who changed a record, how, and when.
type AuditEntry struct {
	Action    AuditAction    `json:"action"`
	Actor     string         `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Point is a WGS-84 coordinate, encoded as a GeoJSON point.
type Point struct {
	Lng float64
	Lat float64
}

type geoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // [lng, lat]
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(geoJSONPoint{Type: "Point", Coordinates: [2]float64{p.Lng, p.Lat}})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var g struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("decode point: %w", err)
	}
	if g.Type != "" && g.Type != "Point" {
		return fmt.Errorf("%w: unsupported geometry type %q", ErrValidation, g.Type)
	}
	if len(g.Coordinates) != 2 {
		return fmt.Errorf("%w: point needs exactly 2 coordinates [lng, lat], got %d", ErrValidation, len(g.Coordinates))
	}
	p.Lng, p.Lat = g.Coordinates[0], g.Coordinates[1]
	return nil
}

// Validate checks that the point lies within WGS-84 bounds.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrValidation, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrValidation, p.Lng)
	}
	return nil
}

// Disaster is the authoritative record held by the store.
type Disaster struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	LocationName string       `json:"location_name"`
	Location     *Point       `json:"location,omitempty"`
	Description  string       `json:"description"`
	Tags         []string     `json:"tags"`
	OwnerID      string       `json:"owner_id"`
	CreatedAt    time.Time    `json:"created_at"`
	AuditTrail   []AuditEntry `json:"audit_trail"`
}

// HasTag reports whether the record's tag set contains tag.
func (d Disaster) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

// Clone returns a deep copy so callers never share slices with the store.
func (d Disaster) Clone() Disaster {
	c := d
	if d.Location != nil {
		loc := *d.Location
		c.Location = &loc
	}
	c.Tags = append(make([]string, 0, len(d.Tags)), d.Tags...)
	c.AuditTrail = make([]AuditEntry, len(d.AuditTrail))
	for i, e := range d.AuditTrail {
		e.Details = maps.Clone(e.Details)
		c.AuditTrail[i] = e
	}
	return c
}

// DisasterInput carries the caller-supplied fields of a new record.
type DisasterInput struct {
	Title        string   `json:"title"`
	LocationName string   `json:"location_name"`
	Location     *Point   `json:"location,omitempty"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
}

// Validate reports missing required fields or out-of-range coordinates.
func (in DisasterInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(in.LocationName) == "" {
		return fmt.Errorf("%w: location_name is required", ErrValidation)
	}
	if in.Location != nil {
		if err := in.Location.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DisasterPatch is a partial update. Nil fields are left untouched.
// Identifier, owner, and creation time are not patchable.
type DisasterPatch struct {
	Title        *string   `json:"title,omitempty"`
	LocationName *string   `json:"location_name,omitempty"`
	Location     *Point    `json:"location,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Tags         *[]string `json:"tags,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p DisasterPatch) IsEmpty() bool {
	return p.Title == nil && p.LocationName == nil && p.Location == nil &&
		p.Description == nil && p.Tags == nil
}

// Validate checks the fields present in the patch.
func (p DisasterPatch) Validate() error {
	if p.IsEmpty() {
		return fmt.Errorf("%w: no updatable fields in request", ErrValidation)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title must not be blank", ErrValidation)
	}
	if p.LocationName != nil && strings.TrimSpace(*p.LocationName) == "" {
		return fmt.Errorf("%w: location_name must not be blank", ErrValidation)
	}
	if p.Location != nil {
		if err := p.Location.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Apply merges the patch into d and returns the names of the fields it set.
func (p DisasterPatch) Apply(d *Disaster) []string {
	var fields []string
	if p.Title != nil {
		d.Title = *p.Title
		fields = append(fields, "title")
	}
	if p.LocationName != nil {
		d.LocationName = *p.LocationName
		fields = append(fields, "location_name")
	}
	if p.Location != nil {
		loc := *p.Location
		d.Location = &loc
		fields = append(fields, "location")
	}
	if p.Description != nil {
		d.Description = *p.Description
		fields = append(fields, "description")
	}
	if p.Tags != nil {
		d.Tags = NormalizeTags(*p.Tags)
		fields = append(fields, "tags")
	}
	return fields
}

// NormalizeTags trims whitespace and drops empty tags. Duplicates are kept.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
