package token

import (
	"errors"
	"time"

	domain "newtab/auth/internal/domain/auth"
	usecase "newtab/auth/internal/usecase/auth"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager issues and verifies the signed tokens carrying identity claims.
// Access and refresh tokens share the signing scheme; only the kind claim and
// TTL differ.
type JWTManager struct {
	secret []byte
	issuer string
}

// NewJWTManager constructs a manager with the provided signing secret.
func NewJWTManager(secret string, issuer string) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Ensure JWTManager implements the TokenManager interface.
var _ usecase.TokenManager = (*JWTManager)(nil)

// Claims carries the token payload: subject and expiry in the registered
// claims, role and kind as custom claims. Every field is required; a decoded
// token missing any of them is invalid.
type Claims struct {
	Role domain.Role      `json:"role"`
	Kind domain.TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// Issue creates a signed token for the subject expiring at now + ttl.
func (m *JWTManager) Issue(subject string, role domain.Role, kind domain.TokenKind, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: role,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a token, returning its claims. Expired tokens
// yield domain.ErrTokenExpired; any other failure (bad signature, malformed
// input, wrong algorithm, missing claims) yields domain.ErrTokenInvalid.
func (m *JWTManager) Verify(tokenString string) (*usecase.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, domain.ErrTokenInvalid
	}
	if err := validateClaims(claims); err != nil {
		return nil, err
	}

	return &usecase.TokenClaims{
		Subject:   claims.Subject,
		Role:      claims.Role,
		Kind:      claims.Kind,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func validateClaims(c *Claims) error {
	if c.Subject == "" || c.IssuedAt == nil || c.ExpiresAt == nil {
		return domain.ErrTokenInvalid
	}
	switch c.Role {
	case domain.RoleGuest, domain.RoleRegistered:
	default:
		return domain.ErrTokenInvalid
	}
	switch c.Kind {
	case domain.KindAccess, domain.KindRefresh:
	default:
		return domain.ErrTokenInvalid
	}
	return nil
}
