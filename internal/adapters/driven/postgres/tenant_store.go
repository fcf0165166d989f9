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
	_ driven.TenantStore = (*TenantStore)(nil)
	_ driven.APIKeyStore = (*APIKeyStore)(nil)
)

// TenantStore implements driven.TenantStore using PostgreSQL
type TenantStore struct {
	db *DB
}

// NewTenantStore creates a new TenantStore
func NewTenantStore(db *DB) *TenantStore {
	return &TenantStore{db: db}
}

const tenantColumns = `id, name, max_consents, rate_limit_per_minute, legacy_key_hash, created_at`

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var t domain.Tenant
	var legacy sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &t.MaxConsents, &t.RateLimitPerMinute, &legacy, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.LegacyKeyHash = legacy.String
	return &t, nil
}

func (s *TenantStore) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	t, err := scanTenant(s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *TenantStore) GetByLegacyKeyHash(ctx context.Context, hash string) (*domain.Tenant, error) {
	if hash == "" {
		return nil, domain.ErrNotFound
	}
	t, err := scanTenant(s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE legacy_key_hash = $1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by legacy key: %w", err)
	}
	return t, nil
}

func (s *TenantStore) Save(ctx context.Context, t *domain.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			max_consents = EXCLUDED.max_consents,
			rate_limit_per_minute = EXCLUDED.rate_limit_per_minute,
			legacy_key_hash = EXCLUDED.legacy_key_hash`,
		t.ID, t.Name, t.MaxConsents, t.RateLimitPerMinute, nullString(t.LegacyKeyHash), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}
	return nil
}

// APIKeyStore implements driven.APIKeyStore using PostgreSQL
type APIKeyStore struct {
	db *DB
}

// NewAPIKeyStore creates a new APIKeyStore
func NewAPIKeyStore(db *DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

func (s *APIKeyStore) Get(ctx context.Context, id string) (*domain.APIKey, error) {
	var k domain.APIKey
	var revokedAt, lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, hash, created_at, revoked_at, last_used_at
		FROM api_keys WHERE id = $1`, id).Scan(
		&k.ID, &k.TenantID, &k.Name, &k.Hash, &k.CreatedAt, &revokedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	k.RevokedAt = timePtr(revokedAt)
	k.LastUsed = timePtr(lastUsed)
	return &k, nil
}

func (s *APIKeyStore) Save(ctx context.Context, k *domain.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant_id, name, hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		k.ID, k.TenantID, k.Name, k.Hash, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("save api key: %w", err)
	}
	return nil
}

func (s *APIKeyStore) Revoke(ctx context.Context, id string) error {
	return s.touch(ctx, `UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
}

func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id string) error {
	return s.touch(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
}

func (s *APIKeyStore) touch(ctx context.Context, query, id string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
