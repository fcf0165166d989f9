package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var (
	_ driven.TokenStore            = (*TokenStore)(nil)
	_ driven.OneTimeCodeStore      = (*OneTimeCodeStore)(nil)
	_ driven.ProviderSettingsStore = (*ProviderSettingsStore)(nil)
)

// TokenStore keeps consent tokens with the access and refresh values sealed
// by a SecretEncryptor.
type TokenStore struct {
	db        *DB
	encryptor *SecretEncryptor
}

// NewTokenStore creates a new PostgreSQL-backed token store.
func NewTokenStore(db *DB, encryptor *SecretEncryptor) *TokenStore {
	return &TokenStore{db: db, encryptor: encryptor}
}

// Save upserts the token for its consent.
func (s *TokenStore) Save(ctx context.Context, tok *domain.ConsentToken) error {
	blob, err := s.encryptor.Seal(tok.ConsentID, tokenSecrets{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	})
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}

	now := time.Now()
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = now
	}
	if tok.UpdatedAt.IsZero() {
		tok.UpdatedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consent_tokens (consent_id, provider, secret_blob, token_type, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (consent_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			secret_blob = EXCLUDED.secret_blob,
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		tok.ConsentID,
		string(tok.Provider),
		blob,
		tok.TokenType,
		nullTime(tok.ExpiresAt),
		tok.CreatedAt,
		tok.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Get returns the decrypted token for a consent.
func (s *TokenStore) Get(ctx context.Context, consentID string) (*domain.ConsentToken, error) {
	var tok domain.ConsentToken
	var blob []byte
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT consent_id, provider, secret_blob, token_type, expires_at, created_at, updated_at
		FROM consent_tokens WHERE consent_id = $1`, consentID).Scan(
		&tok.ConsentID,
		&tok.Provider,
		&blob,
		&tok.TokenType,
		&expiresAt,
		&tok.CreatedAt,
		&tok.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	var secrets tokenSecrets
	if err := s.encryptor.Open(consentID, blob, &secrets); err != nil {
		return nil, fmt.Errorf("decrypt token: %w", err)
	}
	tok.AccessToken = secrets.AccessToken
	tok.RefreshToken = secrets.RefreshToken
	tok.ExpiresAt = timePtr(expiresAt)
	return &tok, nil
}

// Delete removes the consent's token. Deleting a missing token is not an error.
func (s *TokenStore) Delete(ctx context.Context, consentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM consent_tokens WHERE consent_id = $1`, consentID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// OneTimeCodeStore implements driven.OneTimeCodeStore using PostgreSQL.
type OneTimeCodeStore struct {
	db *DB
}

// NewOneTimeCodeStore creates a new OneTimeCodeStore
func NewOneTimeCodeStore(db *DB) *OneTimeCodeStore {
	return &OneTimeCodeStore{db: db}
}

func (s *OneTimeCodeStore) Create(ctx context.Context, code *domain.OneTimeCode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO one_time_codes (code, consent_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)`,
		code.Code, code.ConsentID, code.ExpiresAt, code.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert one-time code: %w", err)
	}
	return nil
}

// Consume marks the code used in a single conditional UPDATE, so two
// concurrent redemptions cannot both succeed.
func (s *OneTimeCodeStore) Consume(ctx context.Context, code string) (*domain.OneTimeCode, error) {
	var otc domain.OneTimeCode
	var usedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE one_time_codes SET used_at = NOW()
		WHERE code = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING code, consent_id, expires_at, used_at, created_at`, code).Scan(
		&otc.Code,
		&otc.ConsentID,
		&otc.ExpiresAt,
		&usedAt,
		&otc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume one-time code: %w", err)
	}
	otc.UsedAt = timePtr(usedAt)
	return &otc, nil
}

func (s *OneTimeCodeStore) DeleteForConsent(ctx context.Context, consentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM one_time_codes WHERE consent_id = $1`, consentID); err != nil {
		return fmt.Errorf("delete one-time codes: %w", err)
	}
	return nil
}

// ProviderSettingsStore implements driven.ProviderSettingsStore using PostgreSQL.
type ProviderSettingsStore struct {
	db *DB
}

// NewProviderSettingsStore creates a new ProviderSettingsStore
func NewProviderSettingsStore(db *DB) *ProviderSettingsStore {
	return &ProviderSettingsStore{db: db}
}

func (s *ProviderSettingsStore) Get(ctx context.Context, id string) (*domain.ProviderSettings, error) {
	var ps domain.ProviderSettings
	var companyID, baseURL sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider, company_id, base_url, created_at
		FROM provider_settings WHERE id = $1`, id).Scan(
		&ps.ID,
		&ps.Provider,
		&companyID,
		&baseURL,
		&ps.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider settings: %w", err)
	}
	ps.CompanyID = companyID.String
	ps.BaseURL = baseURL.String
	return &ps, nil
}

func (s *ProviderSettingsStore) Save(ctx context.Context, ps *domain.ProviderSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_settings (id, provider, company_id, base_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			provider = EXCLUDED.provider,
			company_id = EXCLUDED.company_id,
			base_url = EXCLUDED.base_url`,
		ps.ID, string(ps.Provider), nullString(ps.CompanyID), nullString(ps.BaseURL), ps.CreatedAt)
	if err != nil {
		return fmt.Errorf("save provider settings: %w", err)
	}
	return nil
}

func (s *ProviderSettingsStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM provider_settings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete provider settings: %w", err)
	}
	return nil
}
