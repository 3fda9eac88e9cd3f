// Package lookup serves the auxiliary data attached to disasters: geocoding,
// social media, nearby resources, official updates, and image verification.
//
// Every provider call runs under the configured timeout. Failures and
// timeouts come back wrapped in domain.ErrUpstream. The gateway never reads
// or writes the record store.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/disaster-coordination-service/internal/observability"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCacheSize = 256
	briefingSections = 3
)

// Publisher receives auxiliary refresh events. Publish must not block.
type Publisher interface {
	Publish(ev domain.Event)
}

// Options configures a Gateway.
type Options struct {
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
}

// Gateway fronts the lookup providers with timeouts, caching, and metrics.
type Gateway struct {
	geocoder  domain.Geocoder
	feeds     Feeds
	publisher Publisher
	timeout   time.Duration

	social    *expirable.LRU[string, []domain.SocialPost]
	resources *expirable.LRU[string, []domain.Resource]
	updates   *expirable.LRU[string, []domain.OfficialUpdate]

	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Gateway. geocoder may be nil, in which case only the built-in
// place table is consulted.
func New(opts Options, geocoder domain.Geocoder, feeds Feeds, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Gateway {
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Gateway{
		geocoder:  geocoder,
		feeds:     feeds,
		publisher: publisher,
		timeout:   opts.Timeout,
		social:    expirable.NewLRU[string, []domain.SocialPost](size, nil, opts.CacheTTL),
		resources: expirable.NewLRU[string, []domain.Resource](size, nil, opts.CacheTTL),
		updates:   expirable.NewLRU[string, []domain.OfficialUpdate](size, nil, opts.CacheTTL),
		logger:    logger,
		metrics:   metrics,
	}
}

// Geocode resolves free text to a coordinate. Providers are tried in order:
// the external geocoder, then the built-in place table. When neither matches
// the default coordinate is returned with Fallback set. An external geocoder
// failure is logged and degrades to the table; it is not returned.
func (g *Gateway) Geocode(ctx context.Context, text string) (domain.GeocodeResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.GeocodeResult{}, fmt.Errorf("%w: location_text is required", domain.ErrValidation)
	}
	start := time.Now()
	defer g.observeDuration("geocode", start)

	if g.geocoder != nil {
		res, err := withTimeout(ctx, g.timeout, func(ctx context.Context) (domain.GeocodingResult, error) {
			return g.geocoder.ForwardGeocode(ctx, text)
		})
		switch {
		case err != nil:
			g.metrics.LookupRequests.WithLabelValues("geocode_provider", outcomeOf(err)).Inc()
			g.logger.Warn("geocoder failed, using place table", "location_text", text, "error", err)
		case res.Found():
			g.metrics.LookupRequests.WithLabelValues("geocode", "success").Inc()
			return domain.GeocodeResult{Location: text, Lat: res.Lat, Lng: res.Lon, Source: "mapbox"}, nil
		}
	}

	if p, ok := tableGeocode(text); ok {
		g.metrics.LookupRequests.WithLabelValues("geocode", "success").Inc()
		return domain.GeocodeResult{Location: text, Lat: p.lat, Lng: p.lng, Source: "table"}, nil
	}
	g.metrics.LookupRequests.WithLabelValues("geocode", "fallback").Inc()
	g.logger.Info("no geocoding match found, using default coordinates", "location_text", text)
	return domain.GeocodeResult{Location: text, Lat: fallbackLat, Lng: fallbackLng, Source: "fallback", Fallback: true}, nil
}

// SocialFeed returns social-media posts about a disaster and announces the
// refresh to subscribers.
func (g *Gateway) SocialFeed(ctx context.Context, disasterID string) ([]domain.SocialPost, error) {
	posts, err := fetch(ctx, g, "social_media", g.social, disasterID, func(ctx context.Context) ([]domain.SocialPost, error) {
		return g.feeds.SocialFeed(ctx, disasterID)
	})
	if err != nil {
		return nil, err
	}
	g.publisher.Publish(domain.Event{Type: domain.EventSocialMediaUpdated, ID: disasterID, Payload: posts})
	return slices.Clone(posts), nil
}

// Resources returns relief resources near a disaster and announces the
// refresh to subscribers. near may be nil.
func (g *Gateway) Resources(ctx context.Context, disasterID string, near *domain.Point) ([]domain.Resource, error) {
	key := disasterID
	if near != nil {
		key = fmt.Sprintf("%s@%.4f,%.4f", disasterID, near.Lat, near.Lng)
	}
	res, err := fetch(ctx, g, "resources", g.resources, key, func(ctx context.Context) ([]domain.Resource, error) {
		return g.feeds.Resources(ctx, disasterID, near)
	})
	if err != nil {
		return nil, err
	}
	g.publisher.Publish(domain.Event{Type: domain.EventResourcesUpdated, ID: disasterID, Payload: res})
	return slices.Clone(res), nil
}

// OfficialUpdates returns notices from authorities about a disaster.
func (g *Gateway) OfficialUpdates(ctx context.Context, disasterID string) ([]domain.OfficialUpdate, error) {
	updates, err := fetch(ctx, g, "official_updates", g.updates, disasterID, func(ctx context.Context) ([]domain.OfficialUpdate, error) {
		return g.feeds.OfficialUpdates(ctx, disasterID)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(updates), nil
}

// Briefing gathers the social feed, resources, and official updates for a
// disaster concurrently. Sections are independent: a failing lookup leaves its
// section empty and is reported in Briefing.Errors. An error is returned only
// when every section failed.
func (g *Gateway) Briefing(ctx context.Context, disasterID string, near *domain.Point) (domain.Briefing, error) {
	var (
		b    domain.Briefing
		mu   sync.Mutex
		errs = make(map[string]error)
		eg   errgroup.Group
	)
	section := func(name string, fn func() error) {
		eg.Go(func() error {
			if err := fn(); err != nil {
				mu.Lock()
				errs[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	section("social_media", func() (err error) {
		b.SocialMedia, err = g.SocialFeed(ctx, disasterID)
		return err
	})
	section("resources", func() (err error) {
		b.Resources, err = g.Resources(ctx, disasterID, near)
		return err
	})
	section("official_updates", func() (err error) {
		b.OfficialUpdates, err = g.OfficialUpdates(ctx, disasterID)
		return err
	})
	_ = eg.Wait()

	if len(errs) == 0 {
		return b, nil
	}
	if len(errs) == briefingSections {
		return domain.Briefing{}, errors.Join(slices.Collect(maps.Values(errs))...)
	}
	b.Errors = make(map[string]string, len(errs))
	for name, err := range errs {
		b.Errors[name] = err.Error()
		g.logger.Warn("briefing section failed", "disaster_id", disasterID, "section", name, "error", err)
	}
	return b, nil
}

// VerifyImage judges whether an image plausibly shows the disaster.
func (g *Gateway) VerifyImage(ctx context.Context, disasterID, imageURL string) (domain.Verification, error) {
	start := time.Now()
	defer g.observeDuration("verify_image", start)

	v, err := withTimeout(ctx, g.timeout, func(context.Context) (domain.Verification, error) {
		return verifyImage(imageURL)
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			g.metrics.LookupRequests.WithLabelValues("verify_image", "error").Inc()
			return domain.Verification{}, err
		}
		return domain.Verification{}, g.upstreamError("verify_image", err)
	}
	g.metrics.LookupRequests.WithLabelValues("verify_image", "success").Inc()
	g.logger.Info("image verified", "disaster_id", disasterID, "verified", v.Verified)
	return v, nil
}

func fetch[T any](ctx context.Context, g *Gateway, lookup string, cache *expirable.LRU[string, T], key string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer g.observeDuration(lookup, start)

	if v, ok := cache.Get(key); ok {
		g.metrics.LookupRequests.WithLabelValues(lookup, "cached").Inc()
		return v, nil
	}
	v, err := withTimeout(ctx, g.timeout, fn)
	if err != nil {
		var zero T
		return zero, g.upstreamError(lookup, err)
	}
	cache.Add(key, v)
	g.metrics.LookupRequests.WithLabelValues(lookup, "success").Inc()
	return v, nil
}

func (g *Gateway) upstreamError(lookup string, err error) error {
	g.metrics.LookupRequests.WithLabelValues(lookup, outcomeOf(err)).Inc()
	g.logger.Warn("lookup failed", "lookup", lookup, "error", err)
	return fmt.Errorf("%w: %s: %w", domain.ErrUpstream, lookup, err)
}

func (g *Gateway) observeDuration(lookup string, start time.Time) {
	g.metrics.LookupDuration.WithLabelValues(lookup).Observe(time.Since(start).Seconds())
}

func outcomeOf(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// withTimeout runs fn under a deadline and returns as soon as either fn
// finishes or the deadline passes, even if fn ignores its context.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
