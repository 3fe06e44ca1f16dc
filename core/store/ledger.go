package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ReputationEntry is one row of the append-only ledger. Rows are never
// updated or deleted; corrections are compensating appends.
type ReputationEntry struct {
	Identity     string
	Delta        int64
	ReasonKind   string
	ReasonDetail string
	ProbeID      string
	IncidentID   string
	CreatedAt    time.Time
}

// AppendEntry inserts one ledger row. It never fails for business reasons;
// an identity need not pre-exist anywhere else.
func (s *Store) AppendEntry(ctx context.Context, entry ReputationEntry) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err = sqlitex.Execute(conn, `INSERT INTO reputation_entries
		(identity, delta, reason_kind, reason_detail, probe_id, incident_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			entry.Identity,
			entry.Delta,
			entry.ReasonKind,
			nullable(entry.ReasonDetail),
			nullable(entry.ProbeID),
			nullable(entry.IncidentID),
			createdAt.Unix(),
		},
	})
	if err != nil {
		return fmt.Errorf("store: append reputation entry: %w", err)
	}
	return nil
}

// SumEntries returns the arithmetic total of all deltas for an identity,
// or 0 when none exist. This is the identity's karma; there is no cached
// counter that can drift from it.
func (s *Store) SumEntries(ctx context.Context, identity string) (int64, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var sum int64
	err = sqlitex.Execute(conn,
		`SELECT COALESCE(SUM(delta), 0) FROM reputation_entries WHERE identity = ?`,
		&sqlitex.ExecOptions{
			Args: []any{identity},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sum = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: sum reputation entries: %w", err)
	}
	return sum, nil
}

// HasEntryWithReason reports whether any ledger row for the identity
// carries one of the given reason kinds.
func (s *Store) HasEntryWithReason(ctx context.Context, identity string, kinds ...string) (bool, error) {
	if len(kinds) == 0 {
		return false, nil
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	query := `SELECT COUNT(*) FROM reputation_entries WHERE identity = ? AND reason_kind IN (`
	args := []any{identity}
	for i, kind := range kinds {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, kind)
	}
	query += ")"

	var count int64
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("store: check reason kinds: %w", err)
	}
	return count > 0, nil
}

// ProbeResult is the persisted record of one probe exchange.
type ProbeResult struct {
	ID            string
	Identity      string
	ProbeType     string
	Outcome       string
	LatencyMS     int64
	HonestyStatus string
	CreatedAt     time.Time
}

func (s *Store) RecordProbeResult(ctx context.Context, result ProbeResult) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err = sqlitex.Execute(conn, `INSERT INTO probe_results
		(id, identity, probe_type, outcome, latency_ms, honesty_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			result.ID,
			result.Identity,
			result.ProbeType,
			result.Outcome,
			result.LatencyMS,
			nullable(result.HonestyStatus),
			createdAt.Unix(),
		},
	})
	if err != nil {
		return fmt.Errorf("store: record probe result: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
