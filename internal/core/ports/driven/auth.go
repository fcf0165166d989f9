package driven

import "github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"

// AuthAdapter handles authentication cryptographic operations.
// Storage of keys and tenants lives in TenantStore and APIKeyStore.
type AuthAdapter interface {
	// Secret hashing for the API key registry
	HashSecret(secret string) (string, error)
	VerifySecret(secret, hash string) bool

	// LegacyDigest is the unsalted digest stored on tenants that predate the registry
	LegacyDigest(key string) string

	// Session token operations
	GenerateToken(claims *domain.SessionClaims) (string, error)
	ParseToken(token string) (*domain.SessionClaims, error)
}
