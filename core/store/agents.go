package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	wardenerrors "github.com/botwarden/warden/core/errors"
)

const (
	AgentStatusProvisional = "provisional"
	AgentStatusActive      = "active"
	AgentStatusInactive    = "inactive"
)

type Agent struct {
	Identity       string
	Name           string
	Endpoint       string
	ManifestJSON   string
	Status         string
	Banned         bool
	LastVerifiedAt time.Time
	CreatedAt      time.Time
}

// CreateAgent inserts a new agent row. A duplicate identity surfaces as a
// conflicting-state error, never as corruption.
func (s *Store) CreateAgent(ctx context.Context, agent Agent) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	createdAt := agent.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err = sqlitex.Execute(conn, `INSERT INTO agents
		(identity, name, endpoint, manifest_json, status, banned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			agent.Identity,
			agent.Name,
			agent.Endpoint,
			nullable(agent.ManifestJSON),
			agent.Status,
			boolToInt(agent.Banned),
			createdAt.Unix(),
		},
	})
	if err != nil {
		if isUniqueViolation(err) {
			return wardenerrors.Wrap(err, wardenerrors.CategoryConflictingState,
				"already_registered", "this identity already has an agent record", false)
		}
		return fmt.Errorf("store: create agent: %w", err)
	}
	return nil
}

// GetAgent returns the agent row for an identity, or nil when none exists.
func (s *Store) GetAgent(ctx context.Context, identity string) (*Agent, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var agent *Agent
	err = sqlitex.Execute(conn, `SELECT identity, name, endpoint, manifest_json,
		status, banned, last_verified_at, created_at
		FROM agents WHERE identity = ?`, &sqlitex.ExecOptions{
		Args: []any{identity},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			agent = scanAgent(stmt)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: get agent: %w", err)
	}
	return agent, nil
}

func (s *Store) ListAgentsByStatus(ctx context.Context, status string) ([]Agent, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var agents []Agent
	err = sqlitex.Execute(conn, `SELECT identity, name, endpoint, manifest_json,
		status, banned, last_verified_at, created_at
		FROM agents WHERE status = ? AND banned = 0 ORDER BY identity`, &sqlitex.ExecOptions{
		Args: []any{status},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			agents = append(agents, *scanAgent(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	return agents, nil
}

func (s *Store) SetAgentStatus(ctx context.Context, identity, status string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE agents SET status = ? WHERE identity = ?`,
		&sqlitex.ExecOptions{Args: []any{status, identity}})
	if err != nil {
		return fmt.Errorf("store: set agent status: %w", err)
	}
	return nil
}

// BanAgent marks an identity banned. The row is kept so the identity can
// never be reused.
func (s *Store) BanAgent(ctx context.Context, identity string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE agents SET banned = 1, status = ? WHERE identity = ?`,
		&sqlitex.ExecOptions{Args: []any{AgentStatusInactive, identity}})
	if err != nil {
		return fmt.Errorf("store: ban agent: %w", err)
	}
	return nil
}

// SaveManifest stores the last-known-good manifest and stamps the
// verification time.
func (s *Store) SaveManifest(ctx context.Context, identity, manifestJSON string, verifiedAt time.Time) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE agents SET manifest_json = ?, last_verified_at = ? WHERE identity = ?`,
		&sqlitex.ExecOptions{Args: []any{manifestJSON, verifiedAt.Unix(), identity}})
	if err != nil {
		return fmt.Errorf("store: save manifest: %w", err)
	}
	return nil
}

// EligibleReviewers returns the identities of active, unbanned agents whose
// ledger-derived rank meets the threshold. Karma and the dishonesty floor
// are both computed from the ledger inside the query so the pool can never
// disagree with a fresh rank read: any dishonesty entry excludes the
// identity outright, regardless of karma, mirroring the rank resolver's
// SHADOW floor.
func (s *Store) EligibleReviewers(ctx context.Context, minKarma int64) ([]string, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var reviewers []string
	err = sqlitex.Execute(conn, `SELECT identity FROM agents
		WHERE status = ? AND banned = 0
		AND (SELECT COALESCE(SUM(delta), 0) FROM reputation_entries r
		     WHERE r.identity = agents.identity) >= ?
		AND NOT EXISTS (SELECT 1 FROM reputation_entries r2
		     WHERE r2.identity = agents.identity
		     AND r2.reason_kind IN ('dishonesty', 'reviewer_dishonesty'))
		ORDER BY identity`, &sqlitex.ExecOptions{
		Args: []any{AgentStatusActive, minKarma},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			reviewers = append(reviewers, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: eligible reviewers: %w", err)
	}
	return reviewers, nil
}

func scanAgent(stmt *sqlite.Stmt) *Agent {
	agent := &Agent{
		Identity:     stmt.ColumnText(0),
		Name:         stmt.ColumnText(1),
		Endpoint:     stmt.ColumnText(2),
		ManifestJSON: stmt.ColumnText(3),
		Status:       stmt.ColumnText(4),
		Banned:       stmt.ColumnInt64(5) != 0,
		CreatedAt:    time.Unix(stmt.ColumnInt64(7), 0),
	}
	if verifiedAt := stmt.ColumnInt64(6); verifiedAt != 0 {
		agent.LastVerifiedAt = time.Unix(verifiedAt, 0)
	}
	return agent
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
