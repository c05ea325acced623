package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "newtab/auth/internal/domain/auth"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RefreshTokenRepository is the PostgreSQL-backed ledger of outstanding
// refresh tokens, keyed by token string.
type RefreshTokenRepository struct {
	pool    *pgxpool.Pool
	nowFunc func() time.Time
}

// NewRefreshTokenRepository constructs a repository.
func NewRefreshTokenRepository(pool *pgxpool.Pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool, nowFunc: time.Now}
}

var _ domain.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

// Create inserts a new ledger record. Tokens are cryptographically unique, so
// a primary key violation here indicates a real fault and fails loudly.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	const query = `
INSERT INTO refresh_tokens (token, subject, role, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5)
`
	_, err := r.pool.Exec(ctx, query,
		token.Token,
		token.Subject,
		token.Role,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: refresh token collision", domain.ErrStoreUnavailable)
		}
		return storeErr(err)
	}
	return nil
}

// Find returns the ledger record for a token string.
func (r *RefreshTokenRepository) Find(ctx context.Context, token string) (*domain.RefreshToken, error) {
	const query = `
SELECT token, subject, role, expires_at, created_at
FROM refresh_tokens WHERE token = $1
`
	return r.scanToken(r.pool.QueryRow(ctx, query, token))
}

// Consume atomically deletes and returns the record for a token string. The
// conditional delete serializes concurrent rotations of the same token at the
// store layer: exactly one caller gets the row, the rest get ErrTokenNotFound.
func (r *RefreshTokenRepository) Consume(ctx context.Context, token string) (*domain.RefreshToken, error) {
	const query = `
DELETE FROM refresh_tokens WHERE token = $1
RETURNING token, subject, role, expires_at, created_at
`
	return r.scanToken(r.pool.QueryRow(ctx, query, token))
}

// Delete removes a record by token string; deleting a missing token is a no-op.
func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	const query = `DELETE FROM refresh_tokens WHERE token = $1`
	if _, err := r.pool.Exec(ctx, query, token); err != nil {
		return storeErr(err)
	}
	return nil
}

// ListBySubject returns every outstanding record for a subject.
func (r *RefreshTokenRepository) ListBySubject(ctx context.Context, subject string) ([]*domain.RefreshToken, error) {
	const query = `
SELECT token, subject, role, expires_at, created_at
FROM refresh_tokens WHERE subject = $1
ORDER BY created_at
`
	rows, err := r.pool.Query(ctx, query, subject)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var tokens []*domain.RefreshToken
	for rows.Next() {
		t, err := r.scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return tokens, nil
}

// DeleteExpiredForSubject removes the subject's records whose expiry passed.
func (r *RefreshTokenRepository) DeleteExpiredForSubject(ctx context.Context, subject string) error {
	const query = `DELETE FROM refresh_tokens WHERE subject = $1 AND expires_at < $2`
	if _, err := r.pool.Exec(ctx, query, subject, r.nowFunc().UTC()); err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *RefreshTokenRepository) scanToken(row pgx.Row) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := row.Scan(
		&t.Token,
		&t.Subject,
		&t.Role,
		&t.ExpiresAt,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, storeErr(err)
	}
	return &t, nil
}
