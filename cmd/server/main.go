package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/disaster-coordination-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/disaster-coordination-service/internal/adapter/kafka"
	"github.com/couchcryptid/disaster-coordination-service/internal/adapter/mapbox"
	"github.com/couchcryptid/disaster-coordination-service/internal/adapter/sqlstore"
	"github.com/couchcryptid/disaster-coordination-service/internal/adapter/ws"
	"github.com/couchcryptid/disaster-coordination-service/internal/audit"
	"github.com/couchcryptid/disaster-coordination-service/internal/auth"
	"github.com/couchcryptid/disaster-coordination-service/internal/config"
	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/disaster-coordination-service/internal/hub"
	"github.com/couchcryptid/disaster-coordination-service/internal/lookup"
	"github.com/couchcryptid/disaster-coordination-service/internal/observability"
	"github.com/couchcryptid/disaster-coordination-service/internal/store"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	h := hub.New(cfg.HubSubscriberBuffer, logger, metrics)
	auditLog := audit.NewLog(logger)
	recordStore, err := store.New(ctx, backend, h, auditLog, logger, metrics)
	if err != nil {
		return err
	}
	if cfg.SeedData {
		n, err := store.Seed(ctx, recordStore)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("seeded demo records", "records", n)
		}
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		cached, err := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		if err != nil {
			return err
		}
		geocoder = cached
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	gateway := lookup.New(lookup.Options{
		Timeout:  cfg.LookupTimeout,
		CacheTTL: cfg.LookupCacheTTL,
	}, geocoder, lookup.NewStaticFeeds(clockwork.NewRealClock()), h, logger, metrics)

	var authn auth.Authenticator
	if cfg.AuthJWTSecret != "" {
		authn = auth.NewJWTAuthenticator(cfg.AuthJWTSecret)
	} else {
		authn = auth.StaticAuthenticator{Identity: domain.Identity{UserID: cfg.AuthDevUser, Role: cfg.AuthDevRole}}
		logger.Warn("AUTH_JWT_SECRET not set, every request acts as the dev identity",
			"user", cfg.AuthDevUser, "role", cfg.AuthDevRole)
	}
	guard := auth.NewGuard(authn, cfg.AuthAdminRole, cfg.AuthReadPolicy == config.ReadPolicyOpen, logger)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Store:              recordStore,
		Audit:              auditLog,
		Lookups:            gateway,
		Guard:              guard,
		Events:             ws.NewHandler(h, logger),
		Ready:              recordStore,
		Metrics:            metrics,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Start Kafka event sink.
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger, metrics)
		g.Go(func() error { return writer.Run(gctx, h) })
		logger.Info("kafka event sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		// Ends every open event stream.
		h.Close()
		return nil
	})

	err = g.Wait()
	if writer != nil {
		if cerr := writer.Close(); cerr != nil {
			logger.Error("kafka writer close error", "error", cerr)
		}
	}
	logger.Info("shutdown complete")
	return err
}

// openBackend selects the record store persistence from STORE_DRIVER.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Backend, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Info("using in-memory record store")
		return store.NewMemoryBackend(), func() {}, nil
	}

	b, err := sqlstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using sql record store", "driver", cfg.StoreDriver)
	return b, func() {
		if err := b.Close(); err != nil {
			logger.Error("record store close error", "error", err)
		}
	}, nil
}
