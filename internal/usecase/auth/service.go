package auth

import (
	"context"
	"log/slog"
	"time"

	domain "newtab/auth/internal/domain/auth"

	"github.com/google/uuid"
)

const guestDomain = "guest.newtab"

// Identity is the validated subject/role assertion returned by Validate and
// propagated to downstream services as trust headers.
type Identity struct {
	Subject string
	Role    domain.Role
}

// Service coordinates token issuance, refresh rotation, and validation. It is
// the only component that decides to mint tokens; the ledger owns persisted
// refresh-token state and the credential store owns password hashes.
type Service struct {
	creds      *CredentialVerifier
	ledger     domain.RefreshTokenRepository
	tokens     TokenManager
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewService constructs the identity service.
func NewService(
	creds *CredentialVerifier,
	ledger domain.RefreshTokenRepository,
	tokens TokenManager,
	accessTTL, refreshTTL time.Duration,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		creds:      creds,
		ledger:     ledger,
		tokens:     tokens,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Register creates a new identity and returns its first token pair.
func (s *Service) Register(ctx context.Context, email, password string) (*domain.TokenPair, error) {
	user, err := s.creds.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.issuePair(ctx, user.Email, domain.RoleRegistered)
}

// Login verifies credentials and returns a fresh token pair. Older refresh
// tokens for the same subject stay valid so multiple devices can coexist.
func (s *Service) Login(ctx context.Context, creds domain.Credentials) (*domain.TokenPair, error) {
	user, err := s.creds.Verify(ctx, creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}
	return s.issuePair(ctx, user.Email, domain.RoleRegistered)
}

// Guest synthesizes a fresh pseudo-identity with no credential store entry
// and mints a token pair for it. The refresh token is persisted under the
// alias, so rotation works identically to registered users.
func (s *Service) Guest(ctx context.Context) (*domain.TokenPair, error) {
	alias := "guest-" + uuid.NewString() + "@" + guestDomain
	return s.issuePair(ctx, alias, domain.RoleGuest)
}

// Refresh exchanges a refresh token for a new pair, invalidating the old one.
// Consume is atomic at the store layer, so of two concurrent rotations of the
// same token exactly one succeeds; the loser observes ErrTokenNotFound.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != domain.KindRefresh {
		return nil, domain.ErrWrongTokenKind
	}

	record, err := s.ledger.Consume(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if record.Expired(s.nowFunc()) {
		// Consume already removed the stale record; the ledger expiry is
		// authoritative even when the embedded expiry has not passed.
		return nil, domain.ErrRefreshTokenExpired
	}

	// Mint from the persisted subject/role, never from the presented claims.
	return s.issuePair(ctx, record.Subject, record.Role)
}

// Validate checks an access token and returns the identity it asserts.
func (s *Service) Validate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.tokens.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != domain.KindAccess {
		return nil, domain.ErrWrongTokenKind
	}
	return &Identity{Subject: claims.Subject, Role: claims.Role}, nil
}

// Logout unconditionally removes the ledger record for the refresh token.
// Already-issued access tokens are stateless and expire naturally.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.ledger.Delete(ctx, refreshToken)
}

func (s *Service) issuePair(ctx context.Context, subject string, role domain.Role) (*domain.TokenPair, error) {
	access, err := s.tokens.Issue(subject, role, domain.KindAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.Issue(subject, role, domain.KindRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc().UTC()
	record := &domain.RefreshToken{
		Token:     refresh,
		Subject:   subject,
		Role:      role,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.ledger.Create(ctx, record); err != nil {
		return nil, err
	}

	// Lazy cleanup of the subject's expired records. Failure here never
	// fails the issuance that triggered it.
	if err := s.ledger.DeleteExpiredForSubject(ctx, subject); err != nil {
		s.logger.Warn("expired refresh token cleanup failed",
			slog.String("subject", subject), slog.Any("error", err))
	}

	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		Subject:      subject,
		Role:         role,
	}, nil
}
