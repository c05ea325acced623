package auth

import (
	"time"

	domain "newtab/auth/internal/domain/auth"
)

// TokenManager abstracts signed-token issuance and verification.
type TokenManager interface {
	Issue(subject string, role domain.Role, kind domain.TokenKind, ttl time.Duration) (string, error)
	Verify(token string) (*TokenClaims, error)
}

// TokenClaims is the decoded, validated payload of a signed token. All fields
// are populated; a token missing any of them fails verification.
type TokenClaims struct {
	Subject   string
	Role      domain.Role
	Kind      domain.TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}
