package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var (
	_ driven.RecordStore = (*RecordStore)(nil)
	_ driven.StepStore   = (*StepStore)(nil)
)

// RecordStore keeps normalized records keyed by (consent, resource type, external id).
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a new RecordStore
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Upsert writes all records in one transaction; an existing natural key is overwritten.
func (s *RecordStore) Upsert(ctx context.Context, records []*domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO records (consent_id, resource_type, external_id, data, synced_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (consent_id, resource_type, external_id) DO UPDATE SET
				data = EXCLUDED.data,
				synced_at = EXCLUDED.synced_at`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			data := r.Data
			if len(data) == 0 {
				data = []byte("null")
			}
			if _, err := stmt.ExecContext(ctx, r.ConsentID, string(r.ResourceType), r.ExternalID, data, r.SyncedAt); err != nil {
				return fmt.Errorf("upsert record %s: %w", r.ExternalID, err)
			}
		}
		return nil
	})
}

func (s *RecordStore) Count(ctx context.Context, consentID string, rt domain.ResourceType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE consent_id = $1 AND resource_type = $2`,
		consentID, string(rt)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *RecordStore) List(ctx context.Context, consentID string, rt domain.ResourceType, limit, offset int) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT consent_id, resource_type, external_id, data, synced_at
		FROM records
		WHERE consent_id = $1 AND resource_type = $2
		ORDER BY external_id
		LIMIT $3 OFFSET $4`,
		consentID, string(rt), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		var r domain.Record
		if err := rows.Scan(&r.ConsentID, &r.ResourceType, &r.ExternalID, &r.Data, &r.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *RecordStore) DeleteForConsent(ctx context.Context, consentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE consent_id = $1`, consentID); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

// StepStore memoizes durable step outcomes.
type StepStore struct {
	db *DB
}

// NewStepStore creates a new StepStore
func NewStepStore(db *DB) *StepStore {
	return &StepStore{db: db}
}

// Get returns domain.ErrNotFound when the step has no memo yet
func (s *StepStore) Get(ctx context.Context, consentID string, rt domain.ResourceType, runID string) (*domain.StepMemo, error) {
	var m domain.StepMemo
	var errText sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, consent_id, resource_type, status, records_synced, error, finished_at
		FROM sync_steps
		WHERE consent_id = $1 AND resource_type = $2 AND run_id = $3`,
		consentID, string(rt), runID).Scan(
		&m.RunID, &m.ConsentID, &m.ResourceType, &m.Status, &m.RecordsSynced, &errText, &m.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get step memo: %w", err)
	}
	m.Error = errText.String
	return &m, nil
}

func (s *StepStore) Save(ctx context.Context, m *domain.StepMemo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_steps (run_id, consent_id, resource_type, status, records_synced, error, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (consent_id, resource_type, run_id) DO UPDATE SET
			status = EXCLUDED.status,
			records_synced = EXCLUDED.records_synced,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`,
		m.RunID, m.ConsentID, string(m.ResourceType), string(m.Status), m.RecordsSynced, nullString(m.Error), m.FinishedAt)
	if err != nil {
		return fmt.Errorf("save step memo: %w", err)
	}
	return nil
}

func (s *StepStore) DeleteForConsent(ctx context.Context, consentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_steps WHERE consent_id = $1`, consentID); err != nil {
		return fmt.Errorf("delete step memos: %w", err)
	}
	return nil
}
