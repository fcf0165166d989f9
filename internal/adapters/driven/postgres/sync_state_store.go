package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncStateStore = (*SyncStateStore)(nil)

// SyncStateStore implements driven.SyncStateStore using PostgreSQL.
// Lease acquisition for a consent is serialized by a transaction-scoped
// advisory lock on the consent id.
type SyncStateStore struct {
	db  *DB
	now func() time.Time
}

// NewSyncStateStore creates a new SyncStateStore
func NewSyncStateStore(db *DB) *SyncStateStore {
	return &SyncStateStore{db: db, now: time.Now}
}

const syncStateColumns = `consent_id, resource_type, status, records_synced, last_synced_at,
	last_error, run_id, started_at, lease_expires_at, lease_token`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncState(row rowScanner) (*domain.SyncState, error) {
	var st domain.SyncState
	var lastSyncedAt, startedAt, leaseExpiresAt sql.NullTime
	var lastError, runID, leaseToken sql.NullString

	if err := row.Scan(
		&st.ConsentID,
		&st.ResourceType,
		&st.Status,
		&st.RecordsSynced,
		&lastSyncedAt,
		&lastError,
		&runID,
		&startedAt,
		&leaseExpiresAt,
		&leaseToken,
	); err != nil {
		return nil, err
	}
	st.LastSyncedAt = timePtr(lastSyncedAt)
	st.LastError = lastError.String
	st.RunID = runID.String
	st.StartedAt = timePtr(startedAt)
	st.LeaseExpiresAt = timePtr(leaseExpiresAt)
	st.LeaseToken = leaseToken.String
	return &st, nil
}

// Get returns every state recorded for the consent, ordered by resource type
func (s *SyncStateStore) Get(ctx context.Context, consentID string) ([]*domain.SyncState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syncStateColumns+` FROM sync_states WHERE consent_id = $1 ORDER BY resource_type`,
		consentID)
	if err != nil {
		return nil, fmt.Errorf("query sync states: %w", err)
	}
	defer rows.Close()

	var states []*domain.SyncState
	for rows.Next() {
		st, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// TrySetSyncing marks every requested pair syncing, or none of them.
func (s *SyncStateStore) TrySetSyncing(ctx context.Context, consentID string, types []domain.ResourceType, lease domain.Lease) (bool, error) {
	names := make([]string, len(types))
	for i, rt := range types {
		names[i] = string(rt)
	}

	acquired := false
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey("sync", consentID)); err != nil {
			return fmt.Errorf("lock consent: %w", err)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT `+syncStateColumns+` FROM sync_states
			 WHERE consent_id = $1 AND resource_type = ANY($2)`,
			consentID, pq.Array(names))
		if err != nil {
			return fmt.Errorf("query sync states: %w", err)
		}
		now := s.now()
		held := false
		for rows.Next() {
			st, err := scanSyncState(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan sync state: %w", err)
			}
			if st.HeldAgainst(lease.RunID, now) {
				held = true
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if held {
			return nil
		}

		expires := now.Add(lease.TTL)
		for _, name := range names {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sync_states (consent_id, resource_type, status, run_id, started_at, lease_expires_at, lease_token)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (consent_id, resource_type) DO UPDATE SET
					status = EXCLUDED.status,
					run_id = EXCLUDED.run_id,
					started_at = EXCLUDED.started_at,
					lease_expires_at = EXCLUDED.lease_expires_at,
					lease_token = EXCLUDED.lease_token`,
				consentID, name, string(domain.SyncStatusSyncing), lease.RunID, now, expires, lease.Token)
			if err != nil {
				return fmt.Errorf("mark %s syncing: %w", name, err)
			}
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// Complete records a successful step and releases the pair if token still
// holds it
func (s *SyncStateStore) Complete(ctx context.Context, consentID string, rt domain.ResourceType, token string, recordsSynced int) error {
	return s.release(ctx, `
		UPDATE sync_states
		SET status = $4, records_synced = $5, last_synced_at = $6, last_error = NULL,
			lease_expires_at = NULL, lease_token = NULL
		WHERE consent_id = $1 AND resource_type = $2 AND lease_token = $3 AND status = $7`,
		consentID, string(rt), token, string(domain.SyncStatusCompleted), recordsSynced, s.now(),
		string(domain.SyncStatusSyncing))
}

// Fail records a failed step and releases the pair if token still holds it
func (s *SyncStateStore) Fail(ctx context.Context, consentID string, rt domain.ResourceType, token string, errText string) error {
	return s.release(ctx, `
		UPDATE sync_states
		SET status = $4, last_error = $5, lease_expires_at = NULL, lease_token = NULL
		WHERE consent_id = $1 AND resource_type = $2 AND lease_token = $3 AND status = $6`,
		consentID, string(rt), token, string(domain.SyncStatusFailed), errText,
		string(domain.SyncStatusSyncing))
}

// release runs a fenced terminal write; no matching row means the lease was
// reclaimed or re-entered by another acquisition.
func (s *SyncStateStore) release(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update sync state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// DeleteForConsent removes every state of the consent
func (s *SyncStateStore) DeleteForConsent(ctx context.Context, consentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_states WHERE consent_id = $1`, consentID); err != nil {
		return fmt.Errorf("delete sync states: %w", err)
	}
	return nil
}
