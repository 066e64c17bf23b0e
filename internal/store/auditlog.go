package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendMigrationEvent appends an audit event with a monotonically
// increasing per-tenant sequence.
func (s *LibSQLStore) AppendMigrationEvent(ctx context.Context, event *MigrationEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode, BeginTx alone may start a deferred transaction. Execute
	// a write-intent statement up front so the sequence read and the insert
	// happen under one write lock, keeping sequences gap-free under
	// concurrent writers.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM migration_events WHERE tenant_id = ?`,
		event.TenantID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO migration_events (id, tenant_id, credential_id, event_type, outcome, detail, was_legacy, sequence, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.TenantID, event.CredentialID, event.EventType, event.Outcome,
		nullStr(event.Detail), boolInt(event.WasLegacy), seq, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert migration event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration event: %w", err)
	}
	return nil
}

// MigrationEvents returns events for a tenant with sequence > since,
// ordered by sequence ASC.
func (s *LibSQLStore) MigrationEvents(ctx context.Context, tenantID string, since int64) ([]*MigrationEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, credential_id, event_type, outcome, detail, was_legacy, sequence, timestamp
		 FROM migration_events
		 WHERE tenant_id = ? AND sequence > ?
		 ORDER BY sequence ASC`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("query migration events: %w", err)
	}
	defer rows.Close()

	var events []*MigrationEvent
	for rows.Next() {
		ev := &MigrationEvent{}
		var (
			detail    sql.NullString
			wasLegacy int
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.CredentialID, &ev.EventType,
			&ev.Outcome, &detail, &wasLegacy, &ev.Sequence, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Detail = detail.String
		ev.WasLegacy = wasLegacy != 0
		events = append(events, ev)
	}
	return events, rows.Err()
}
