package auth

import (
	"context"
)

// UserRepository defines persistence operations for registered identities.
// Implementations must surface the store's uniqueness violation on Create as
// ErrEmailExists; the constraint is the final arbiter when two registrations
// race past the existence probe.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// RefreshTokenRepository is the ledger of outstanding refresh tokens.
//
// Consume is the rotation primitive: it atomically removes and returns the
// record for a token string, so of two concurrent rotations of the same
// token exactly one observes the record and the other gets ErrTokenNotFound.
type RefreshTokenRepository interface {
	// Create inserts a new ledger record. Token collisions are not expected
	// (tokens are cryptographically unique) and must fail, never overwrite.
	Create(ctx context.Context, token *RefreshToken) error

	// Find returns the record for a token string, or ErrTokenNotFound.
	Find(ctx context.Context, token string) (*RefreshToken, error)

	// Consume atomically deletes and returns the record for a token string,
	// or returns ErrTokenNotFound if it was already consumed or never stored.
	Consume(ctx context.Context, token string) (*RefreshToken, error)

	// Delete removes a record by token string. Deleting a nonexistent token
	// is not an error.
	Delete(ctx context.Context, token string) error

	// ListBySubject returns every outstanding record for a subject.
	ListBySubject(ctx context.Context, subject string) ([]*RefreshToken, error)

	// DeleteExpiredForSubject removes every record for a subject whose
	// expiry has passed. Called opportunistically after each new issuance.
	DeleteExpiredForSubject(ctx context.Context, subject string) error
}
