// Package memory provides in-memory implementations of the credential store
// and refresh token ledger. They back the unit tests and mirror the
// transactional behavior of the durable stores: Create enforces uniqueness
// and Consume is atomic under the repository lock.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "newtab/auth/internal/domain/auth"
)

// UserRepository is a map-backed credential store.
type UserRepository struct {
	mu      sync.RWMutex
	byEmail map[string]*domain.User
}

// NewUserRepository constructs an empty store.
func NewUserRepository() *UserRepository {
	return &UserRepository{byEmail: make(map[string]*domain.User)}
}

var _ domain.UserRepository = (*UserRepository)(nil)

// Create inserts a user, enforcing email uniqueness like the database
// constraint does.
func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[user.Email]; ok {
		return domain.ErrEmailExists
	}
	u := *user
	r.byEmail[user.Email] = &u
	return nil
}

// GetByEmail fetches a user by email.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byEmail[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// ExistsByEmail reports whether a user record exists for the email.
func (r *UserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byEmail[email]
	return ok, nil
}

// RefreshTokenRepository is a map-backed refresh token ledger.
type RefreshTokenRepository struct {
	mu      sync.Mutex
	byToken map[string]*domain.RefreshToken
	nowFunc func() time.Time
}

// NewRefreshTokenRepository constructs an empty ledger.
func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{
		byToken: make(map[string]*domain.RefreshToken),
		nowFunc: time.Now,
	}
}

var _ domain.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

// Create inserts a ledger record, failing on token collision.
func (r *RefreshTokenRepository) Create(_ context.Context, token *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byToken[token.Token]; ok {
		return fmt.Errorf("%w: refresh token collision", domain.ErrStoreUnavailable)
	}
	t := *token
	r.byToken[token.Token] = &t
	return nil
}

// Find returns the record for a token string, or ErrTokenNotFound.
func (r *RefreshTokenRepository) Find(_ context.Context, token string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byToken[token]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	t := *record
	return &t, nil
}

// Consume atomically deletes and returns the record for a token string.
func (r *RefreshTokenRepository) Consume(_ context.Context, token string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byToken[token]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	delete(r.byToken, token)
	t := *record
	return &t, nil
}

// Delete removes a record by token string; missing tokens are a no-op.
func (r *RefreshTokenRepository) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byToken, token)
	return nil
}

// ListBySubject returns every outstanding record for a subject.
func (r *RefreshTokenRepository) ListBySubject(_ context.Context, subject string) ([]*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tokens []*domain.RefreshToken
	for _, record := range r.byToken {
		if record.Subject == subject {
			t := *record
			tokens = append(tokens, &t)
		}
	}
	return tokens, nil
}

// DeleteExpiredForSubject removes the subject's records whose expiry passed.
func (r *RefreshTokenRepository) DeleteExpiredForSubject(_ context.Context, subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFunc()
	for key, record := range r.byToken {
		if record.Subject == subject && record.Expired(now) {
			delete(r.byToken, key)
		}
	}
	return nil
}
