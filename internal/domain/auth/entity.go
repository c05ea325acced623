package auth

import (
	"errors"
	"time"
)

var (
	// ErrEmailExists signals a duplicate email registration.
	ErrEmailExists = errors.New("email already registered")
	// ErrInvalidCredentials indicates a login failure. Unknown email and
	// wrong password both map here so callers cannot probe for accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalid means a supplied token has a bad signature or shape.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired means a well-formed token is past its embedded expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrWrongTokenKind means an access token was presented where a refresh
	// token was required, or vice versa.
	ErrWrongTokenKind = errors.New("wrong token kind")
	// ErrTokenNotFound indicates no ledger record exists for a refresh token:
	// already rotated, logged out, or never issued.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrRefreshTokenExpired indicates the ledger record's own expiry has
	// passed; the ledger is authoritative regardless of the embedded expiry.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrUserNotFound indicates missing user.
	ErrUserNotFound = errors.New("user not found")
	// ErrStoreUnavailable wraps infrastructure faults from the durable stores.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Role identifies the privileges carried by a token subject.
type Role string

const (
	// RoleGuest represents an ephemeral, unregistered identity.
	RoleGuest Role = "guest"
	// RoleRegistered represents a durable identity backed by credentials.
	RoleRegistered Role = "registered"
)

// TokenKind distinguishes short-lived access tokens from ledger-tracked
// refresh tokens.
type TokenKind string

const (
	// KindAccess authorizes API calls; stateless, validated by signature only.
	KindAccess TokenKind = "access"
	// KindRefresh is exchangeable for a new token pair; tracked in the ledger.
	KindRefresh TokenKind = "refresh"
)

// User models the registered identity persisted in the credential store.
// Guests have no User record.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// RefreshToken is the ledger record backing an outstanding refresh token.
// Subject is an email for registered users or a guest alias for guests.
type RefreshToken struct {
	Token     string
	Subject   string
	Role      Role
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the ledger expiry has passed at the given instant.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// Credentials captures raw credential input for login.
type Credentials struct {
	Email    string
	Password string
}

// TokenPair bundles a short-lived access token with its long-lived refresh
// token, plus the subject and role both were minted for.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Subject      string
	Role         Role
}
