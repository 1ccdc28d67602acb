package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"tenantcore.io/internal/audit"
)

var _ audit.Store = (*Store)(nil)

// AppendEntry serializes appends per tenant across processes by locking the
// tenant's row in audit_chain_heads for the life of the transaction.
func (s *Store) AppendEntry(ctx context.Context, tenantID uuid.UUID, build func(audit.Tail) (audit.Entry, error)) (audit.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into audit_chain_heads (tenant_id, last_hash)
		values ($1, $2)
		on conflict (tenant_id) do nothing
	`, tenantID, audit.GenesisHash); err != nil {
		return audit.Entry{}, fmt.Errorf("ensure chain head: %w", err)
	}

	var (
		tail     audit.Tail
		lastTime sql.NullTime
	)
	if err := tx.QueryRowContext(ctx, `
		select last_hash, last_created_at from audit_chain_heads
		where tenant_id = $1
		for update
	`, tenantID).Scan(&tail.Hash, &lastTime); err != nil {
		return audit.Entry{}, fmt.Errorf("lock chain head: %w", err)
	}
	if lastTime.Valid {
		tail.CreatedAt = lastTime.Time.UTC()
	}

	entry, err := build(tail)
	if err != nil {
		return audit.Entry{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into audit_log (id, tenant_id, previous_hash, current_hash, payload, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, entry.ID, tenantID, entry.PreviousHash, entry.CurrentHash, []byte(entry.Payload), entry.CreatedAt); err != nil {
		return audit.Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		update audit_chain_heads set last_hash = $2, last_created_at = $3
		where tenant_id = $1
	`, tenantID, entry.CurrentHash, entry.CreatedAt); err != nil {
		return audit.Entry{}, fmt.Errorf("advance chain head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return audit.Entry{}, err
	}
	return entry, nil
}

func (s *Store) Entries(ctx context.Context, tenantID uuid.UUID) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, previous_hash, current_hash, payload, created_at
		from audit_log
		where tenant_id = $1
		order by created_at asc, id asc
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.PreviousHash, &e.CurrentHash, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
