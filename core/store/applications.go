package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	wardenerrors "github.com/botwarden/warden/core/errors"
)

const (
	ApplicationPending  = "pending"
	ApplicationApproved = "approved"
	ApplicationRejected = "rejected"
)

type Application struct {
	ID               string
	Identity         string
	Endpoint         string
	Capabilities     []string
	ReviewerIdentity string
	Status           string
	RejectionReason  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// InterviewRecord is one sub-test executed against an applicant. Rows are
// append-only, ordered by insertion.
type InterviewRecord struct {
	ApplicationID string
	TestType      string
	Passed        bool
	Notes         string
	CreatedAt     time.Time
}

// CreateApplication inserts a pending application. The UNIQUE constraint on
// identity closes the check-then-act race: a concurrent duplicate surfaces
// as conflicting state, not corruption.
func (s *Store) CreateApplication(ctx context.Context, app Application) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	capabilitiesJSON := ""
	if len(app.Capabilities) > 0 {
		data, err := json.Marshal(app.Capabilities)
		if err != nil {
			return fmt.Errorf("store: marshal capabilities: %w", err)
		}
		capabilitiesJSON = string(data)
	}
	now := time.Now()
	createdAt := app.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	err = sqlitex.Execute(conn, `INSERT INTO applications
		(id, identity, endpoint, capabilities, reviewer_identity, status,
		 rejection_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			app.ID,
			app.Identity,
			app.Endpoint,
			nullable(capabilitiesJSON),
			app.ReviewerIdentity,
			app.Status,
			nullable(app.RejectionReason),
			createdAt.Unix(),
			createdAt.Unix(),
		},
	})
	if err != nil {
		if isUniqueViolation(err) {
			return wardenerrors.Wrap(err, wardenerrors.CategoryConflictingState,
				"already_applied", "this identity already has an application", false)
		}
		return fmt.Errorf("store: create application: %w", err)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (*Application, error) {
	return s.queryApplication(ctx, "id", id)
}

func (s *Store) GetApplicationByIdentity(ctx context.Context, identity string) (*Application, error) {
	return s.queryApplication(ctx, "identity", identity)
}

func (s *Store) queryApplication(ctx context.Context, column, value string) (*Application, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var app *Application
	query := fmt.Sprintf(`SELECT id, identity, endpoint, capabilities,
		reviewer_identity, status, rejection_reason, created_at, updated_at
		FROM applications WHERE %s = ?`, column)
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: []any{value},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned, err := scanApplication(stmt)
			if err != nil {
				return err
			}
			app = scanned
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: get application: %w", err)
	}
	return app, nil
}

// UpdateApplicationStatus moves an application to a new status. Terminal
// states are enforced by the caller's state machine, not here.
func (s *Store) UpdateApplicationStatus(ctx context.Context, id, status, rejectionReason string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE applications
		SET status = ?, rejection_reason = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{status, nullable(rejectionReason), time.Now().Unix(), id},
		})
	if err != nil {
		return fmt.Errorf("store: update application status: %w", err)
	}
	return nil
}

func (s *Store) AddInterviewRecord(ctx context.Context, rec InterviewRecord) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err = sqlitex.Execute(conn, `INSERT INTO interviews
		(application_id, test_type, passed, notes, created_at)
		VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			rec.ApplicationID,
			rec.TestType,
			boolToInt(rec.Passed),
			nullable(rec.Notes),
			createdAt.Unix(),
		},
	})
	if err != nil {
		return fmt.Errorf("store: add interview record: %w", err)
	}
	return nil
}

func (s *Store) ListInterviewRecords(ctx context.Context, applicationID string) ([]InterviewRecord, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var records []InterviewRecord
	err = sqlitex.Execute(conn, `SELECT application_id, test_type, passed, notes, created_at
		FROM interviews WHERE application_id = ? ORDER BY id`, &sqlitex.ExecOptions{
		Args: []any{applicationID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, InterviewRecord{
				ApplicationID: stmt.ColumnText(0),
				TestType:      stmt.ColumnText(1),
				Passed:        stmt.ColumnInt64(2) != 0,
				Notes:         stmt.ColumnText(3),
				CreatedAt:     time.Unix(stmt.ColumnInt64(4), 0),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list interview records: %w", err)
	}
	return records, nil
}

func scanApplication(stmt *sqlite.Stmt) (*Application, error) {
	app := &Application{
		ID:               stmt.ColumnText(0),
		Identity:         stmt.ColumnText(1),
		Endpoint:         stmt.ColumnText(2),
		ReviewerIdentity: stmt.ColumnText(4),
		Status:           stmt.ColumnText(5),
		RejectionReason:  stmt.ColumnText(6),
		CreatedAt:        time.Unix(stmt.ColumnInt64(7), 0),
		UpdatedAt:        time.Unix(stmt.ColumnInt64(8), 0),
	}
	if capabilitiesJSON := stmt.ColumnText(3); capabilitiesJSON != "" {
		if err := json.Unmarshal([]byte(capabilitiesJSON), &app.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities: %w", err)
		}
	}
	return app, nil
}
