package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sarkari-pulse/config"
	"sarkari-pulse/logger"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps the database connection
type DB struct {
	conn   *sql.DB
	driver string
	now    func() time.Time
	logger *slog.Logger
}

// NewDB opens the store described by cfg and initializes the schema
func NewDB(ctx context.Context, cfg config.StoreConfig) (*DB, error) {
	var conn *sql.DB
	var err error

	switch cfg.Driver {
	case DriverSQLite:
		conn, err = openSQLite(cfg.Path)
	case DriverPostgres, "":
		conn, err = sql.Open(DriverPostgres, cfg.DSN())
		if err == nil {
			conn.SetMaxOpenConns(cfg.MaxOpenConns)
			conn.SetMaxIdleConns(cfg.MaxIdleConns)
			conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	db, err := newDB(ctx, conn, driver)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite store. Every call gets a fresh,
// empty database.
func OpenMemory(ctx context.Context) (*DB, error) {
	conn, err := openSQLite(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db, err := newDB(ctx, conn, DriverSQLite)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func newDB(ctx context.Context, conn *sql.DB, driver string) (*DB, error) {
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn:   conn,
		driver: driver,
		now:    time.Now,
		logger: logger.WithComponent("db"),
	}

	if err := db.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func openSQLite(path string) (*sql.DB, error) {
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open(DriverSQLite, path)
	if err != nil {
		return nil, err
	}

	// Each connection to ":memory:" is a separate database, and SQLite
	// allows a single writer anyway
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 10000",
	}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return conn, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// SetClock replaces the time source used for created_at / updated_at
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// timestamp returns the current time as stored: UTC, microsecond precision
func (db *DB) timestamp() time.Time {
	return db.now().UTC().Truncate(time.Microsecond)
}

// rebind rewrites ? placeholders into $N for postgres
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// initSchema creates the necessary tables if they don't exist
func (db *DB) initSchema(ctx context.Context) error {
	idColumn := "BIGSERIAL PRIMARY KEY"
	if db.driver == DriverSQLite {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	statements := []struct {
		name string
		sql  string
	}{
		{"schemes table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS schemes (
				id %s,
				scheme_id TEXT NOT NULL,
				scheme_id_generated BOOLEAN NOT NULL DEFAULT FALSE,
				name TEXT NOT NULL,
				name_key TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				ministry TEXT NOT NULL DEFAULT '',
				department TEXT NOT NULL DEFAULT '',
				target_audience TEXT NOT NULL DEFAULT '',
				sector TEXT NOT NULL DEFAULT '',
				tags TEXT NOT NULL DEFAULT '',
				level TEXT NOT NULL DEFAULT '',
				beneficiary_state TEXT NOT NULL DEFAULT 'All',
				launch_date TIMESTAMP,
				source TEXT NOT NULL DEFAULT '',
				source_url TEXT NOT NULL DEFAULT '',
				scraped_at TIMESTAMP,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)
		`, idColumn)},
		{"schemes name_key index", `CREATE UNIQUE INDEX IF NOT EXISTS idx_schemes_name_key ON schemes(name_key)`},
		{"schemes scheme_id index", `CREATE UNIQUE INDEX IF NOT EXISTS idx_schemes_scheme_id ON schemes(scheme_id)`},
		{"schemes level index", `CREATE INDEX IF NOT EXISTS idx_schemes_level ON schemes(level)`},
		{"schemes source index", `CREATE INDEX IF NOT EXISTS idx_schemes_source ON schemes(source)`},
		{"scrape_runs table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS scrape_runs (
				id %s,
				run_id TEXT NOT NULL UNIQUE,
				state TEXT NOT NULL,
				found_count INTEGER NOT NULL DEFAULT 0,
				saved_count INTEGER NOT NULL DEFAULT 0,
				updated_count INTEGER NOT NULL DEFAULT 0,
				error_count INTEGER NOT NULL DEFAULT 0,
				rejected_count INTEGER NOT NULL DEFAULT 0,
				pages_fetched INTEGER NOT NULL DEFAULT 0,
				rate_limited INTEGER NOT NULL DEFAULT 0,
				strategies TEXT NOT NULL DEFAULT '[]',
				started_at TIMESTAMP NOT NULL,
				finished_at TIMESTAMP
			)
		`, idColumn)},
		{"scrape_runs started_at index", `CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at)`},
	}

	for _, st := range statements {
		if _, err := db.conn.ExecContext(ctx, st.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.name, err)
		}
	}

	db.logger.Info("database schema initialized", "driver", db.driver)
	return nil
}
