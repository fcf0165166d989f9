package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ConsentStore = (*ConsentStore)(nil)

// ConsentStore implements driven.ConsentStore using PostgreSQL
type ConsentStore struct {
	db *DB
}

// NewConsentStore creates a new ConsentStore
func NewConsentStore(db *DB) *ConsentStore {
	return &ConsentStore{db: db}
}

const consentColumns = `id, tenant_id, name, status, provider, org_number, company_name,
	provider_settings_id, etag, created_at, updated_at, expires_at`

func scanConsent(row rowScanner) (*domain.Consent, error) {
	var c domain.Consent
	var provider, orgNumber, companyName, settingsID sql.NullString
	var expiresAt sql.NullTime

	if err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Name,
		&c.Status,
		&provider,
		&orgNumber,
		&companyName,
		&settingsID,
		&c.Etag,
		&c.CreatedAt,
		&c.UpdatedAt,
		&expiresAt,
	); err != nil {
		return nil, err
	}
	if provider.Valid && provider.String != "" {
		p := domain.ProviderType(provider.String)
		c.Provider = &p
	}
	c.OrgNumber = orgNumber.String
	c.CompanyName = companyName.String
	c.ProviderSettingsID = settingsID.String
	c.ExpiresAt = timePtr(expiresAt)
	return &c, nil
}

// Create inserts a new consent. A duplicate id is a conflict.
func (s *ConsentStore) Create(ctx context.Context, c *domain.Consent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consents (`+consentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID,
		c.TenantID,
		c.Name,
		string(c.Status),
		nullString(string(c.ProviderType())),
		nullString(c.OrgNumber),
		nullString(c.CompanyName),
		nullString(c.ProviderSettingsID),
		c.Etag,
		c.CreatedAt,
		c.UpdatedAt,
		nullTime(c.ExpiresAt),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("consent %s: %w", c.ID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

// Get retrieves a consent by id
func (s *ConsentStore) Get(ctx context.Context, id string) (*domain.Consent, error) {
	c, err := scanConsent(s.db.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consents WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	return c, nil
}

// List returns the tenant's consents, oldest first
func (s *ConsentStore) List(ctx context.Context, tenantID string) ([]*domain.Consent, error) {
	return s.query(ctx, `SELECT `+consentColumns+` FROM consents WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
}

// ListByStatus returns consents across tenants in the given status
func (s *ConsentStore) ListByStatus(ctx context.Context, status domain.ConsentStatus) ([]*domain.Consent, error) {
	return s.query(ctx, `SELECT `+consentColumns+` FROM consents WHERE status = $1 ORDER BY created_at`, string(status))
}

func (s *ConsentStore) query(ctx context.Context, query string, args ...any) ([]*domain.Consent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query consents: %w", err)
	}
	defer rows.Close()

	consents := make([]*domain.Consent, 0)
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		consents = append(consents, c)
	}
	return consents, rows.Err()
}

// Update reads the row FOR UPDATE, compares the etag and writes the patched
// row in the same transaction.
func (s *ConsentStore) Update(ctx context.Context, id, etag string, patch domain.ConsentPatch) (*domain.Consent, error) {
	var updated *domain.Consent
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		c, err := scanConsent(tx.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consents WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get consent: %w", err)
		}
		if etag != "" && etag != c.Etag {
			return &domain.EtagMismatchError{ConsentID: id, Expected: etag, Actual: c.Etag}
		}

		patch.Apply(c)
		_, err = tx.ExecContext(ctx, `
			UPDATE consents SET
				name = $2, status = $3, provider = $4, org_number = $5, company_name = $6,
				provider_settings_id = $7, etag = $8, updated_at = $9, expires_at = $10
			WHERE id = $1`,
			c.ID,
			c.Name,
			string(c.Status),
			nullString(string(c.ProviderType())),
			nullString(c.OrgNumber),
			nullString(c.CompanyName),
			nullString(c.ProviderSettingsID),
			c.Etag,
			c.UpdatedAt,
			nullTime(c.ExpiresAt),
		)
		if err != nil {
			return fmt.Errorf("update consent: %w", err)
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the consent row
func (s *ConsentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM consents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete consent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountForTenant backs the plan limit check
func (s *ConsentStore) CountForTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consents WHERE tenant_id = $1`, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count consents: %w", err)
	}
	return n, nil
}
