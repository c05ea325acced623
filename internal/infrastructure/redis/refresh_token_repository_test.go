package redis

import (
	"context"
	"testing"
	"time"

	domain "newtab/auth/internal/domain/auth"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *RefreshTokenRepository {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRefreshTokenRepository(client)
}

func testRecord(token, subject string, expiresIn time.Duration) *domain.RefreshToken {
	now := time.Now().Truncate(time.Second)
	return &domain.RefreshToken{
		Token:     token,
		Subject:   subject,
		Role:      domain.RoleRegistered,
		ExpiresAt: now.Add(expiresIn),
		CreatedAt: now,
	}
}

func TestCreateAndFind(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	record := testRecord("tok-1", "a@x.com", time.Hour)
	require.NoError(t, repo.Create(ctx, record))

	found, err := repo.Find(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, record.Token, found.Token)
	assert.Equal(t, record.Subject, found.Subject)
	assert.Equal(t, record.Role, found.Role)
	assert.Equal(t, record.ExpiresAt.Unix(), found.ExpiresAt.Unix())
}

func TestCreateCollisionFails(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("tok-1", "a@x.com", time.Hour)))

	err := repo.Create(ctx, testRecord("tok-1", "b@x.com", time.Hour))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	// The losing create wrote nothing: the original record is intact and the
	// loser's subject index stays empty.
	found, err := repo.Find(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", found.Subject)

	records, err := repo.ListBySubject(ctx, "b@x.com")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFindMissing(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Find(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestConsumeIsSingleUse(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	record := testRecord("tok-1", "a@x.com", time.Hour)
	require.NoError(t, repo.Create(ctx, record))

	consumed, err := repo.Consume(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, record.Subject, consumed.Subject)
	assert.Equal(t, record.Role, consumed.Role)

	_, err = repo.Consume(ctx, "tok-1")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	_, err = repo.Find(ctx, "tok-1")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	// The subject index no longer lists the consumed token.
	records, err := repo.ListBySubject(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("tok-1", "a@x.com", time.Hour)))

	require.NoError(t, repo.Delete(ctx, "tok-1"))
	require.NoError(t, repo.Delete(ctx, "tok-1"))
	require.NoError(t, repo.Delete(ctx, "never-existed"))

	_, err := repo.Find(ctx, "tok-1")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestListBySubject(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("tok-1", "a@x.com", time.Hour)))
	require.NoError(t, repo.Create(ctx, testRecord("tok-2", "a@x.com", 2*time.Hour)))
	require.NoError(t, repo.Create(ctx, testRecord("tok-3", "b@x.com", time.Hour)))

	records, err := repo.ListBySubject(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, "a@x.com", record.Subject)
	}

	records, err = repo.ListBySubject(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteExpiredForSubject(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("tok-soon", "a@x.com", time.Minute)))
	require.NoError(t, repo.Create(ctx, testRecord("tok-later", "a@x.com", 10*time.Hour)))
	require.NoError(t, repo.Create(ctx, testRecord("tok-other", "b@x.com", time.Minute)))

	// Advance the repository clock past the first token's expiry.
	repo.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }

	require.NoError(t, repo.DeleteExpiredForSubject(ctx, "a@x.com"))

	_, err := repo.Find(ctx, "tok-soon")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	_, err = repo.Find(ctx, "tok-later")
	assert.NoError(t, err)

	// Other subjects are untouched.
	_, err = repo.Find(ctx, "tok-other")
	assert.NoError(t, err)
}
