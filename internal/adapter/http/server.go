package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/disaster-coordination-service/internal/audit"
	"github.com/couchcryptid/disaster-coordination-service/internal/auth"
	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/disaster-coordination-service/internal/observability"
	"github.com/couchcryptid/disaster-coordination-service/internal/store"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RecordStore is the subset of *store.Store the API uses.
type RecordStore interface {
	Create(ctx context.Context, who domain.Identity, in domain.DisasterInput) (domain.Disaster, error)
	Get(ctx context.Context, id string) (domain.Disaster, error)
	Snapshot(ctx context.Context, f store.Filter) ([]domain.Disaster, uint64, error)
	Update(ctx context.Context, who domain.Identity, id string, patch domain.DisasterPatch) (domain.Disaster, error)
	Delete(ctx context.Context, who domain.Identity, id string) error
}

// AuditTrail is the subset of *audit.Log the API uses.
type AuditTrail interface {
	ForEntity(entityID string) []audit.Entry
}

// Lookups is the subset of *lookup.Gateway the API uses.
type Lookups interface {
	Geocode(ctx context.Context, text string) (domain.GeocodeResult, error)
	SocialFeed(ctx context.Context, disasterID string) ([]domain.SocialPost, error)
	Resources(ctx context.Context, disasterID string, near *domain.Point) ([]domain.Resource, error)
	OfficialUpdates(ctx context.Context, disasterID string) ([]domain.OfficialUpdate, error)
	Briefing(ctx context.Context, disasterID string, near *domain.Point) (domain.Briefing, error)
	VerifyImage(ctx context.Context, disasterID, imageURL string) (domain.Verification, error)
}

// Deps are the components behind the API routes.
type Deps struct {
	Store   RecordStore
	Audit   AuditTrail
	Lookups Lookups
	Guard   *auth.Guard
	// Events serves the WebSocket event stream.
	Events  http.Handler
	Ready   sharedobs.ReadinessChecker
	Metrics *observability.Metrics

	// RateLimitPerMinute caps API requests per client address. Zero disables
	// rate limiting.
	RateLimitPerMinute int
}

// Server exposes the disaster API, the event stream, and health, readiness,
// and metrics endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	limiter    *rateLimiter
	logger     *slog.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}
	if deps.RateLimitPerMinute > 0 {
		s.limiter = newRateLimiter(deps.RateLimitPerMinute)
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(deps.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	s.route(mux, "POST /disasters", auth.CapPrivileged, s.handleCreate)
	s.route(mux, "GET /disasters", auth.CapRead, s.handleList)
	s.route(mux, "GET /disasters/{id}", auth.CapRead, s.handleGet)
	s.route(mux, "PUT /disasters/{id}", auth.CapPrivileged, s.handleUpdate)
	s.route(mux, "DELETE /disasters/{id}", auth.CapPrivileged, s.handleDelete)
	s.route(mux, "GET /disasters/{id}/audit", auth.CapPrivileged, s.handleAudit)

	// Lookups call out to providers, so they always need a caller identity
	// even when record reads are open.
	s.route(mux, "GET /disasters/{id}/social-media", auth.CapAuthenticated, s.handleSocialMedia)
	s.route(mux, "GET /disasters/{id}/resources", auth.CapAuthenticated, s.handleResources)
	s.route(mux, "GET /disasters/{id}/official-updates", auth.CapAuthenticated, s.handleOfficialUpdates)
	s.route(mux, "GET /disasters/{id}/briefing", auth.CapAuthenticated, s.handleBriefing)
	s.route(mux, "POST /disasters/{id}/verify-image", auth.CapAuthenticated, s.handleVerifyImage)
	s.route(mux, "POST /geocode", auth.CapAuthenticated, s.handleGeocode)

	s.route(mux, "GET /ws", auth.CapRead, func(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
		deps.Events.ServeHTTP(w, r)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
// Hijacked WebSocket connections are not tracked; they end when the hub
// closes their subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// identityHandler handles a request on behalf of an authorized caller.
type identityHandler func(w http.ResponseWriter, r *http.Request, who domain.Identity)

// route registers h behind the rate limiter and the access guard.
func (s *Server) route(mux *http.ServeMux, pattern string, c auth.Capability, h identityHandler) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(clientAddr(r)) {
			s.deps.Metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests, please try again later"})
			return
		}
		who, err := s.deps.Guard.Check(r, c)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		h(w, r, who)
	})
}
