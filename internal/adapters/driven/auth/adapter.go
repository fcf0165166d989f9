// Package auth provides the cryptographic half of authentication: bcrypt
// hashing for issued API keys, the legacy SHA-256 digest and HS256 session
// tokens.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var _ driven.AuthAdapter = (*Adapter)(nil)

const issuer = "unified-se"

// ErrInvalidToken is returned for tokens that fail signature or claim checks.
var ErrInvalidToken = errors.New("invalid session token")

type sessionClaims struct {
	TenantID  string                `json:"tenant_id"`
	ConsentID string                `json:"consent_id,omitempty"`
	Kind      domain.CredentialKind `json:"kind"`
	jwt.RegisteredClaims
}

// Adapter implements driven.AuthAdapter
type Adapter struct {
	jwtSecret  []byte
	bcryptCost int
}

// NewAdapter creates an adapter with bcrypt.DefaultCost
func NewAdapter(jwtSecret string) *Adapter {
	return NewAdapterWithCost(jwtSecret, bcrypt.DefaultCost)
}

// NewAdapterWithCost allows a lower bcrypt cost in tests
func NewAdapterWithCost(jwtSecret string, bcryptCost int) *Adapter {
	return &Adapter{jwtSecret: []byte(jwtSecret), bcryptCost: bcryptCost}
}

func (a *Adapter) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), a.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

func (a *Adapter) VerifySecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// LegacyDigest is hex(sha256(key)). Legacy keys are looked up by digest,
// which rules out a salted hash.
func (a *Adapter) LegacyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateToken signs claims as an HS256 JWT
func (a *Adapter) GenerateToken(claims *domain.SessionClaims) (string, error) {
	sc := sessionClaims{
		TenantID:  claims.TenantID,
		ConsentID: claims.ConsentID,
		Kind:      claims.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   claims.TenantID,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sc).SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies signature, issuer and expiry
func (a *Adapter) ParseToken(token string) (*domain.SessionClaims, error) {
	var sc sessionClaims
	_, err := jwt.ParseWithClaims(token, &sc, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if sc.TenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant", ErrInvalidToken)
	}

	out := &domain.SessionClaims{
		TenantID:  sc.TenantID,
		ConsentID: sc.ConsentID,
		Kind:      sc.Kind,
		ExpiresAt: sc.ExpiresAt.Unix(),
	}
	if sc.IssuedAt != nil {
		out.IssuedAt = sc.IssuedAt.Unix()
	}
	return out, nil
}
