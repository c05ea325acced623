package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "newtab/auth/internal/domain/auth"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier checks plaintext passwords against stored bcrypt hashes
// and creates new registered identities.
type CredentialVerifier struct {
	users   domain.UserRepository
	nowFunc func() time.Time
}

// NewCredentialVerifier constructs a verifier over the credential store.
func NewCredentialVerifier(users domain.UserRepository) *CredentialVerifier {
	return &CredentialVerifier{
		users:   users,
		nowFunc: time.Now,
	}
}

// Register creates a new identity for the email. The existence probe keeps
// the common duplicate case cheap; under a concurrent duplicate registration
// both calls may pass the probe, and the store's unique constraint decides,
// surfacing as ErrEmailExists from Create.
func (v *CredentialVerifier) Register(ctx context.Context, email, password string) (*domain.User, error) {
	email = NormalizeEmail(email)

	exists, err := v.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrEmailExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hashed),
		CreatedAt:    v.nowFunc().UTC(),
	}
	if err := v.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Verify checks the password for the email. Unknown email and wrong password
// are indistinguishable to the caller.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := v.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}

// NormalizeEmail lowercases and trims an email before any credential
// operation so lookups and the unique constraint agree.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
