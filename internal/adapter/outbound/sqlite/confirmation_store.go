// Package sqlite provides SQL-backed implementations of outbound ports
// using the pure-Go sqlite driver. Suitable for single-instance
// deployments that need confirmations to survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Command-Relay/commandrelay/internal/domain/confirmation"
)

const schema = `
CREATE TABLE IF NOT EXISTS confirmations (
	id           TEXT PRIMARY KEY,
	command_text TEXT NOT NULL,
	agent_id     TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	resolved_at  INTEGER,
	resolved_by  TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_confirmations_pending
	ON confirmations (status, expires_at);
`

// ConfirmationStore implements confirmation.Store on sqlite. The
// conditional transitions are expressed as UPDATE ... WHERE status =
// 'pending', so a resolve racing the sweep mutates at most one of them.
type ConfirmationStore struct {
	db *sql.DB
}

// NewConfirmationStore opens (creating if needed) the database at path
// and ensures the schema exists. Use ":memory:" for tests.
func NewConfirmationStore(path string) (*ConfirmationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The driver serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply confirmations schema: %w", err)
	}
	return &ConfirmationStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *ConfirmationStore) Close() error {
	return s.db.Close()
}

// Create stores a new pending confirmation.
func (s *ConfirmationStore) Create(ctx context.Context, c *confirmation.CommandConfirmation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO confirmations
			(id, command_text, agent_id, tenant_id, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CommandText, c.AgentID, c.TenantID, string(c.Status),
		c.CreatedAt.UnixMilli(), c.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert confirmation: %w", err)
	}
	return nil
}

// Get returns a confirmation by id.
func (s *ConfirmationStore) Get(ctx context.Context, id string) (*confirmation.CommandConfirmation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, command_text, agent_id, tenant_id, status,
			created_at, expires_at, resolved_at, resolved_by, reason
		 FROM confirmations WHERE id = ?`, id)
	return scanConfirmation(row)
}

// ResolveIfPending performs the conditional transition in one UPDATE.
func (s *ConfirmationStore) ResolveIfPending(ctx context.Context, id string, to confirmation.Status, actor, reason string, now time.Time) (*confirmation.CommandConfirmation, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE confirmations
		 SET status = ?, resolved_at = ?, resolved_by = ?, reason = ?
		 WHERE id = ? AND status = ? AND expires_at > ?`,
		string(to), now.UnixMilli(), actor, reason,
		id, string(confirmation.StatusPending), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("resolve confirmation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve confirmation rows: %w", err)
	}
	if affected == 0 {
		// Distinguish unknown id from an illegal transition.
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, confirmation.ErrConflict
	}

	return s.Get(ctx, id)
}

// ExpireDue batch-transitions pending records past expiry.
func (s *ConfirmationStore) ExpireDue(ctx context.Context, now time.Time) ([]*confirmation.CommandConfirmation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expire transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM confirmations
		 WHERE status = ? AND expires_at <= ?
		 ORDER BY created_at`,
		string(confirmation.StatusPending), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("select due confirmations: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due confirmation id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due confirmations: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE confirmations
		 SET status = ?, resolved_at = ?, resolved_by = 'sweep'
		 WHERE status = ? AND expires_at <= ?`,
		string(confirmation.StatusExpired), now.UnixMilli(),
		string(confirmation.StatusPending), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("expire due confirmations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expire transaction: %w", err)
	}

	expired := make([]*confirmation.CommandConfirmation, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		expired = append(expired, c)
	}
	return expired, nil
}

// ListPending returns pending confirmations, oldest first.
func (s *ConfirmationStore) ListPending(ctx context.Context, tenantID string) ([]*confirmation.CommandConfirmation, error) {
	query := `SELECT id, command_text, agent_id, tenant_id, status,
			created_at, expires_at, resolved_at, resolved_by, reason
		 FROM confirmations WHERE status = ?`
	args := []any{string(confirmation.StatusPending)}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending confirmations: %w", err)
	}
	defer rows.Close()

	var pending []*confirmation.CommandConfirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, c)
	}
	return pending, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfirmation(row rowScanner) (*confirmation.CommandConfirmation, error) {
	var (
		c          confirmation.CommandConfirmation
		status     string
		createdAt  int64
		expiresAt  int64
		resolvedAt sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.CommandText, &c.AgentID, &c.TenantID, &status,
		&createdAt, &expiresAt, &resolvedAt, &c.ResolvedBy, &c.Reason)
	if err == sql.ErrNoRows {
		return nil, confirmation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan confirmation: %w", err)
	}

	c.Status = confirmation.Status(status)
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	c.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	if resolvedAt.Valid {
		t := time.UnixMilli(resolvedAt.Int64).UTC()
		c.ResolvedAt = &t
	}
	return &c, nil
}

// Compile-time interface verification.
var _ confirmation.Store = (*ConfirmationStore)(nil)
