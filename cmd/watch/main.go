// Command watch keeps a local mirror of a coordination server's disaster
// records and logs every change it applies.
//
// Usage:
//
//	go run ./cmd/watch -url http://localhost:4000 -token "$TOKEN"
//	go run ./cmd/watch -url http://localhost:4000 -secret "$AUTH_JWT_SECRET" -user citizen1
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/disaster-coordination-service/internal/auth"
	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/disaster-coordination-service/internal/mirror"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("watch failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	baseURL := flag.String("url", "http://localhost:4000", "coordination server base URL")
	token := flag.String("token", "", "bearer token")
	secret := flag.String("secret", "", "sign a token with this HMAC secret instead of passing -token")
	user := flag.String("user", "watcher", "user id for a signed token")
	role := flag.String("role", "contributor", "role for a signed token")
	logLevel := flag.String("log-level", "info", "log level")
	logFormat := flag.String("log-format", "text", "log format (json or text)")
	flag.Parse()

	logger := sharedobs.NewLogger(*logLevel, *logFormat)

	if *token == "" && *secret != "" {
		signed, err := auth.NewToken(*secret, *user, *role, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		*token = signed
	}

	m := mirror.New()
	onChange := func(c mirror.Change) {
		if c.Resync {
			logger.Info("resynchronized", "seq", c.Seq, "records", m.Len())
			for _, d := range m.Records() {
				logger.Info("record", "disaster_id", d.ID, "title", d.Title, "tags", d.Tags)
			}
			return
		}
		attrs := []any{"seq", c.Seq, "type", c.Event.Type, "disaster_id", c.Event.ID, "records", m.Len()}
		if c.Event.Type != domain.EventDisasterDeleted && c.Event.Disaster != nil {
			attrs = append(attrs, "title", c.Event.Disaster.Title)
		}
		logger.Info("change applied", attrs...)
	}

	client := mirror.NewClient(*baseURL, m, logger, mirror.WithToken(*token), mirror.WithOnChange(onChange))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return client.Run(ctx)
}
