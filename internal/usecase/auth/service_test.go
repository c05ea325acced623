package auth_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	domain "newtab/auth/internal/domain/auth"
	"newtab/auth/internal/infrastructure/memory"
	"newtab/auth/internal/infrastructure/token"
	authusecase "newtab/auth/internal/usecase/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 7 * 24 * time.Hour
)

type fixture struct {
	service *authusecase.Service
	users   *memory.UserRepository
	ledger  *memory.RefreshTokenRepository
	tokens  *token.JWTManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memory.NewUserRepository()
	ledger := memory.NewRefreshTokenRepository()
	tokens := token.NewJWTManager("unit-test-secret", "newtab-auth")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := authusecase.NewService(
		authusecase.NewCredentialVerifier(users),
		ledger,
		tokens,
		testAccessTTL,
		testRefreshTTL,
		logger,
	)
	return &fixture{service: service, users: users, ledger: ledger, tokens: tokens}
}

func TestRegisterThenLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	registered, err := f.service.Register(ctx, "A@X.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRegistered, registered.Role)
	assert.Equal(t, "a@x.com", registered.Subject)

	loggedIn, err := f.service.Login(ctx, domain.Credentials{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)

	for _, accessToken := range []string{registered.AccessToken, loggedIn.AccessToken} {
		identity, err := f.service.Validate(ctx, accessToken)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", identity.Subject)
		assert.Equal(t, domain.RoleRegistered, identity.Role)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	_, err = f.service.Register(ctx, "a@x.com", "pw2")
	assert.ErrorIs(t, err, domain.ErrEmailExists)
}

func TestLoginFailuresIndistinguishable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	_, wrongPassword := f.service.Login(ctx, domain.Credentials{Email: "a@x.com", Password: "wrong"})
	_, unknownEmail := f.service.Login(ctx, domain.Credentials{Email: "nobody@x.com", Password: "pw1"})

	assert.ErrorIs(t, wrongPassword, domain.ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, domain.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestGuestToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.service.Guest(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleGuest, pair.Role)
	assert.True(t, strings.HasPrefix(pair.Subject, "guest-"))
	assert.True(t, strings.HasSuffix(pair.Subject, "@guest.newtab"))

	identity, err := f.service.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleGuest, identity.Role)
	assert.Equal(t, pair.Subject, identity.Subject)

	// Guest refresh tokens rotate exactly like registered ones.
	rotated, err := f.service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleGuest, rotated.Role)
	assert.Equal(t, pair.Subject, rotated.Subject)
}

func TestGuestAliasesAreUnique(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		pair, err := f.service.Guest(ctx)
		require.NoError(t, err)
		require.False(t, seen[pair.Subject], "duplicate guest alias %s", pair.Subject)
		seen[pair.Subject] = true
	}
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.service.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	rotated, err := f.service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, "a@x.com", rotated.Subject)
	assert.Equal(t, domain.RoleRegistered, rotated.Role)

	// The consumed token must never rotate again.
	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	// The replacement still works.
	_, err = f.service.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestConcurrentRefreshOnlyOneWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.service.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.service.Refresh(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	var successes, notFound int
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrTokenNotFound)
		notFound++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, notFound)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.service.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	_, err = f.service.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrWrongTokenKind)
}

func TestValidateRejectsRefreshToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.service.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	_, err = f.service.Validate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrWrongTokenKind)
}

func TestRefreshRejectsGarbageAndExpiredTokens(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Refresh(ctx, "not-a-token")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	expired, err := f.tokens.Issue("a@x.com", domain.RoleRegistered, domain.KindRefresh, -time.Minute)
	require.NoError(t, err)
	_, err = f.service.Refresh(ctx, expired)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestLedgerExpiryIsAuthoritative(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// Signed token still valid for an hour, but the ledger record expired.
	refresh, err := f.tokens.Issue("a@x.com", domain.RoleRegistered, domain.KindRefresh, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Create(ctx, &domain.RefreshToken{
		Token:     refresh,
		Subject:   "a@x.com",
		Role:      domain.RoleRegistered,
		ExpiresAt: time.Now().Add(-time.Minute),
		CreatedAt: time.Now().Add(-time.Hour),
	}))

	_, err = f.service.Refresh(ctx, refresh)
	assert.ErrorIs(t, err, domain.ErrRefreshTokenExpired)

	// The stale record was removed in the process.
	_, err = f.ledger.Find(ctx, refresh)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestRefreshUsesPersistedRoleNotClaims(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// A token whose claims assert registered, but whose ledger record says
	// guest. The persisted role wins, preventing privilege drift.
	refresh, err := f.tokens.Issue("guest-abc@guest.newtab", domain.RoleRegistered, domain.KindRefresh, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Create(ctx, &domain.RefreshToken{
		Token:     refresh,
		Subject:   "guest-abc@guest.newtab",
		Role:      domain.RoleGuest,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}))

	rotated, err := f.service.Refresh(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleGuest, rotated.Role)
}

func TestLogout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.service.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx, pair.RefreshToken))

	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	// Logout is idempotent; an unknown token is not an error.
	assert.NoError(t, f.service.Logout(ctx, pair.RefreshToken))

	// The access token stays valid until its natural expiry.
	_, err = f.service.Validate(ctx, pair.AccessToken)
	assert.NoError(t, err)
}

func TestExpiredRecordsCleanedOnIssuance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	stale, err := f.tokens.Issue("a@x.com", domain.RoleRegistered, domain.KindRefresh, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Create(ctx, &domain.RefreshToken{
		Token:     stale,
		Subject:   "a@x.com",
		Role:      domain.RoleRegistered,
		ExpiresAt: time.Now().Add(-time.Minute),
		CreatedAt: time.Now().Add(-time.Hour),
	}))

	// A fresh login triggers lazy cleanup for the subject.
	_, err = f.service.Login(ctx, domain.Credentials{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)

	_, err = f.ledger.Find(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestMultipleRefreshTokensPerSubjectCoexist(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	second, err := f.service.Login(ctx, domain.Credentials{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)

	records, err := f.ledger.ListBySubject(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// Both devices can rotate independently.
	_, err = f.service.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	_, err = f.service.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestRegistrationScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.service.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRegistered, pair.Role)

	_, err = f.service.Register(ctx, "a@x.com", "pw2")
	assert.ErrorIs(t, err, domain.ErrEmailExists)

	_, err = f.service.Login(ctx, domain.Credentials{Email: "a@x.com", Password: "wrong"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.service.Login(ctx, domain.Credentials{Email: "a@x.com", Password: "pw1"})
	assert.NoError(t, err)
}
