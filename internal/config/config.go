package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Read policies accepted by AUTH_READ_POLICY.
const (
	ReadPolicyAuthenticated = "authenticated"
	ReadPolicyOpen          = "open"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Record store configuration.
	StoreDriver string
	StoreDSN    string
	SeedData    bool

	HubSubscriberBuffer int

	// Access guard configuration.
	AuthJWTSecret  string
	AuthAdminRole  string
	AuthReadPolicy string
	AuthDevUser    string
	AuthDevRole    string

	RateLimitPerMinute int

	// Lookup gateway configuration.
	LookupTimeout  time.Duration
	LookupCacheTTL time.Duration

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Kafka event sink configuration.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	lookupTimeout, err := parsePositiveDuration("LOOKUP_TIMEOUT", "3s")
	if err != nil {
		return nil, err
	}
	lookupCacheTTL, err := parsePositiveDuration("LOOKUP_CACHE_TTL", "1h")
	if err != nil {
		return nil, err
	}

	hubBuffer, err := parsePositiveInt("HUB_SUBSCRIBER_BUFFER", 64)
	if err != nil {
		return nil, err
	}
	rateLimit, err := parseNonNegativeInt("RATE_LIMIT_PER_MINUTE", 60)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":4000"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		StoreDriver: sharedcfg.EnvOrDefault("STORE_DRIVER", StoreMemory),
		StoreDSN:    os.Getenv("STORE_DSN"),
		SeedData:    sharedcfg.EnvOrDefault("SEED_DATA", "true") == "true",

		HubSubscriberBuffer: hubBuffer,

		AuthJWTSecret:  os.Getenv("AUTH_JWT_SECRET"),
		AuthAdminRole:  sharedcfg.EnvOrDefault("AUTH_ADMIN_ROLE", "admin"),
		AuthReadPolicy: sharedcfg.EnvOrDefault("AUTH_READ_POLICY", ReadPolicyAuthenticated),
		AuthDevUser:    sharedcfg.EnvOrDefault("AUTH_DEV_USER", "user_mock_12345"),
		AuthDevRole:    sharedcfg.EnvOrDefault("AUTH_DEV_ROLE", "admin"),

		RateLimitPerMinute: rateLimit,

		LookupTimeout:  lookupTimeout,
		LookupCacheTTL: lookupCacheTTL,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "disaster-events"),
	}

	switch cfg.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if cfg.StoreDSN == "" {
			cfg.StoreDSN = "data/disasters.db"
		}
	case StorePostgres:
		if cfg.StoreDSN == "" {
			return nil, errors.New("STORE_DSN is required when STORE_DRIVER is postgres")
		}
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.AuthReadPolicy != ReadPolicyAuthenticated && cfg.AuthReadPolicy != ReadPolicyOpen {
		return nil, fmt.Errorf("invalid AUTH_READ_POLICY %q", cfg.AuthReadPolicy)
	}
	if cfg.AuthAdminRole == "" {
		return nil, errors.New("AUTH_ADMIN_ROLE must not be empty")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	n, err := parseNonNegativeInt(key, def)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
