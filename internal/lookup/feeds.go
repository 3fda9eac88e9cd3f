package lookup

import (
	"context"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Feeds supplies the auxiliary data shown alongside a disaster.
type Feeds interface {
	SocialFeed(ctx context.Context, disasterID string) ([]domain.SocialPost, error)
	Resources(ctx context.Context, disasterID string, near *domain.Point) ([]domain.Resource, error)
	OfficialUpdates(ctx context.Context, disasterID string) ([]domain.OfficialUpdate, error)
}

// StaticFeeds serves fixed demo content. Post timestamps come from the clock.
type StaticFeeds struct {
	clock clockwork.Clock
}

// NewStaticFeeds creates a StaticFeeds using clock for post timestamps.
func NewStaticFeeds(clock clockwork.Clock) *StaticFeeds {
	return &StaticFeeds{clock: clock}
}

func (f *StaticFeeds) SocialFeed(_ context.Context, _ string) ([]domain.SocialPost, error) {
	now := f.clock.Now().UTC()
	return []domain.SocialPost{
		{User: "citizen1", Text: "Heavy flooding in downtown area #floodrelief", Timestamp: now},
		{User: "emergency_responder", Text: "Emergency services deployed to affected areas", Timestamp: now},
		{User: "local_news", Text: "Roads closed due to flooding. Stay safe everyone!", Timestamp: now},
	}, nil
}

func (f *StaticFeeds) Resources(_ context.Context, _ string, _ *domain.Point) ([]domain.Resource, error) {
	return []domain.Resource{
		{ID: "1", Name: "Red Cross Shelter", LocationName: "Community Center", Type: "shelter"},
		{ID: "2", Name: "Emergency Medical Station", LocationName: "City Hospital", Type: "medical"},
		{ID: "3", Name: "Food Distribution Center", LocationName: "Local Church", Type: "food"},
	}, nil
}

func (f *StaticFeeds) OfficialUpdates(_ context.Context, _ string) ([]domain.OfficialUpdate, error) {
	return []domain.OfficialUpdate{
		{Title: "Emergency Declaration", Body: "State of emergency declared for affected areas. All non-essential travel is restricted."},
		{Title: "Shelter Information", Body: "Emergency shelters are open at Community Center and City Hall. Bring essential items only."},
		{Title: "Road Closures", Body: "Main Street and Highway 101 are closed due to flooding. Use alternate routes."},
	}, nil
}
