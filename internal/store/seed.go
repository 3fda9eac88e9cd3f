package store

import (
	"context"
	"fmt"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
)

type seedRecord struct {
	owner string
	input domain.DisasterInput
}

var seedRecords = []seedRecord{
	{
		owner: "netrunnerX",
		input: domain.DisasterInput{
			Title:        "NYC Flood",
			LocationName: "Manhattan, NYC",
			Location:     &domain.Point{Lng: -74.0060, Lat: 40.7128},
			Description:  "Heavy flooding in Manhattan area",
			Tags:         []string{"flood", "urgent"},
		},
	},
	{
		owner: "reliefAdmin",
		input: domain.DisasterInput{
			Title:        "California Earthquake",
			LocationName: "Los Angeles, CA",
			Location:     &domain.Point{Lng: -118.2437, Lat: 34.0522},
			Description:  "Major earthquake affecting Los Angeles",
			Tags:         []string{"earthquake", "emergency"},
		},
	},
}

// Seed creates the demo records when the store is empty. Seeded records go
// through Create, so they are audited and broadcast like any other.
func Seed(ctx context.Context, s *Store) (int, error) {
	if s.Len() > 0 {
		return 0, nil
	}
	for i, rec := range seedRecords {
		if _, err := s.Create(ctx, domain.Identity{UserID: rec.owner}, rec.input); err != nil {
			return i, fmt.Errorf("seed %q: %w", rec.input.Title, err)
		}
	}
	return len(seedRecords), nil
}
