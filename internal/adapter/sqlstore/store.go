// Package sqlstore persists disaster records to SQLite or Postgres through
// database/sql. Each record is stored as a JSON payload keyed by id, with a
// position column that preserves insertion order across restarts.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Backend implements store.Backend on top of a SQL database.
type Backend struct {
	db      *sql.DB
	queries queries
}

type queries struct {
	create string
	load   string
	put    string
	delete string
}

var sqliteQueries = queries{
	create: `CREATE TABLE IF NOT EXISTS disasters (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		payload TEXT NOT NULL
	)`,
	load: `SELECT payload FROM disasters ORDER BY position`,
	put: `INSERT INTO disasters(id, position, payload)
		VALUES(?, (SELECT COALESCE(MAX(position), 0) + 1 FROM disasters), ?)
		ON CONFLICT(id) DO UPDATE SET payload=excluded.payload`,
	delete: `DELETE FROM disasters WHERE id = ?`,
}

var postgresQueries = queries{
	create: `CREATE TABLE IF NOT EXISTS disasters (
		id TEXT PRIMARY KEY,
		position BIGINT NOT NULL,
		payload JSONB NOT NULL
	)`,
	load: `SELECT payload::text FROM disasters ORDER BY position`,
	put: `INSERT INTO disasters(id, position, payload)
		VALUES($1, (SELECT COALESCE(MAX(position), 0) + 1 FROM disasters), $2::jsonb)
		ON CONFLICT(id) DO UPDATE SET payload=excluded.payload`,
	delete: `DELETE FROM disasters WHERE id = $1`,
}

// Open connects to the database and ensures the schema exists. For SQLite the
// dsn is a file path whose parent directory is created if missing.
func Open(ctx context.Context, driver, dsn string) (*Backend, error) {
	var (
		sqlDriver string
		q         queries
	)
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.New("open sqlite: empty path")
		}
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
		sqlDriver, q = "sqlite", sqliteQueries
	case DriverPostgres:
		sqlDriver, q = "pgx", postgresQueries
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// Writes are serialized by the record store; a single connection
		// avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, q.create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure disasters table: %w", err)
	}
	return &Backend{db: db, queries: q}, nil
}

// Load returns every record in insertion order.
func (b *Backend) Load(ctx context.Context) ([]domain.Disaster, error) {
	rows, err := b.db.QueryContext(ctx, b.queries.load)
	if err != nil {
		return nil, fmt.Errorf("select disasters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Disaster
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var d domain.Disaster
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, fmt.Errorf("decode disaster: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate disasters: %w", err)
	}
	return out, nil
}

// Put upserts d. An existing record keeps its position.
func (b *Backend) Put(ctx context.Context, d domain.Disaster) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode disaster %q: %w", d.ID, err)
	}
	if _, err := b.db.ExecContext(ctx, b.queries.put, d.ID, string(payload)); err != nil {
		return fmt.Errorf("upsert disaster %q: %w", d.ID, err)
	}
	return nil
}

// Delete removes the record with the given id, if present.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, b.queries.delete, id); err != nil {
		return fmt.Errorf("delete disaster %q: %w", id, err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	return b.db.Close()
}
