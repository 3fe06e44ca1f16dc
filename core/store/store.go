package store

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Store is the registry's persistence boundary: agents, applications,
// interview records, the append-only reputation ledger, and probe results.
// It is safe for concurrent use; individual connections are not, so each
// operation takes its own connection from the pool.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

type Config struct {
	// Path is the SQLite database file; ":memory:" is supported for tests
	// with PoolSize 1, since each in-memory connection is independent.
	Path string

	// PoolSize defaults to 4. SQLite serializes writes regardless, so a
	// small pool is enough; extra connections only help concurrent reads.
	PoolSize int

	Logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	identity         TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	endpoint         TEXT NOT NULL,
	manifest_json    TEXT,
	status           TEXT NOT NULL,
	banned           INTEGER NOT NULL DEFAULT 0,
	last_verified_at INTEGER,
	created_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS applications (
	id                TEXT PRIMARY KEY,
	identity          TEXT NOT NULL UNIQUE,
	endpoint          TEXT NOT NULL,
	capabilities      TEXT,
	reviewer_identity TEXT NOT NULL,
	status            TEXT NOT NULL,
	rejection_reason  TEXT,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS interviews (
	id             INTEGER PRIMARY KEY,
	application_id TEXT NOT NULL,
	test_type      TEXT NOT NULL,
	passed         INTEGER NOT NULL,
	notes          TEXT,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interviews_application ON interviews(application_id);

CREATE TABLE IF NOT EXISTS reputation_entries (
	id            INTEGER PRIMARY KEY,
	identity      TEXT NOT NULL,
	delta         INTEGER NOT NULL,
	reason_kind   TEXT NOT NULL,
	reason_detail TEXT,
	probe_id      TEXT,
	incident_id   TEXT,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reputation_identity ON reputation_entries(identity);

CREATE TABLE IF NOT EXISTS probe_results (
	id             TEXT PRIMARY KEY,
	identity       TEXT NOT NULL,
	probe_type     TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	latency_ms     INTEGER,
	honesty_status TEXT,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_probe_results_identity ON probe_results(identity);
`

// Open creates the connection pool and bootstraps the schema on every
// connection's first use.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	if cfg.Path == ":memory:" {
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	logger.Info("store opened", "path", cfg.Path, "pool_size", poolSize)
	return &Store{pool: pool, logger: logger, path: cfg.Path}, nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) conn(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take connection: %w", err)
	}
	return conn, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: bootstrap schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	switch sqlite.ErrCode(err) {
	case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
		return true
	}
	return false
}
