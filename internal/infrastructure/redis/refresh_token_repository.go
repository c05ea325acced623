// Package redis provides a Redis-backed refresh token ledger. Records carry a
// TTL matching their ledger expiry, so Redis reclaims stale tokens on its own
// in addition to the lazy per-subject cleanup.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	domain "newtab/auth/internal/domain/auth"

	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix   = "rt:"
	subjectKeyPrefix = "rtsub:"
)

// createScript writes a token record, its TTL, and its subject index entry in
// one atomic step. Returns 0 without writing anything when the token key
// already exists.
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "subject", ARGV[1],
  "role", ARGV[2],
  "expires_at", ARGV[3],
  "created_at", ARGV[4])
redis.call("EXPIREAT", KEYS[1], ARGV[3])
redis.call("SADD", KEYS[2], ARGV[5])
return 1
`)

// consumeScript atomically reads and deletes a token record, keeping the
// subject index in sync. Returns the hash fields or false when absent.
var consumeScript = redis.NewScript(`
local fields = redis.call("HGETALL", KEYS[1])
if #fields == 0 then
  return false
end
redis.call("DEL", KEYS[1])
local subject = ""
for i = 1, #fields, 2 do
  if fields[i] == "subject" then
    subject = fields[i + 1]
  end
end
if subject ~= "" then
  redis.call("SREM", ARGV[1] .. subject, ARGV[2])
end
return fields
`)

// deleteScript removes a token record and its index entry if present.
var deleteScript = redis.NewScript(`
local subject = redis.call("HGET", KEYS[1], "subject")
redis.call("DEL", KEYS[1])
if subject then
  redis.call("SREM", ARGV[1] .. subject, ARGV[2])
end
return 1
`)

// RefreshTokenRepository is the Redis-backed ledger of outstanding refresh
// tokens, keyed by token string with a per-subject membership index.
type RefreshTokenRepository struct {
	client  *redis.Client
	nowFunc func() time.Time
}

// NewRefreshTokenRepository constructs a repository over the given client.
func NewRefreshTokenRepository(client *redis.Client) *RefreshTokenRepository {
	return &RefreshTokenRepository{client: client, nowFunc: time.Now}
}

var _ domain.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

// Create inserts a new ledger record, failing on token collision. The script
// writes record, TTL, and index in one command, so a record is either fully
// present or absent.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	created, err := createScript.Run(ctx, r.client,
		[]string{tokenKeyPrefix + token.Token, subjectKeyPrefix + token.Subject},
		token.Subject,
		string(token.Role),
		strconv.FormatInt(token.ExpiresAt.Unix(), 10),
		strconv.FormatInt(token.CreatedAt.Unix(), 10),
		token.Token,
	).Int()
	if err != nil {
		return storeErr(err)
	}
	if created == 0 {
		return fmt.Errorf("%w: refresh token collision", domain.ErrStoreUnavailable)
	}
	return nil
}

// Find returns the record for a token string, or ErrTokenNotFound.
func (r *RefreshTokenRepository) Find(ctx context.Context, token string) (*domain.RefreshToken, error) {
	fields, err := r.client.HGetAll(ctx, tokenKeyPrefix+token).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrTokenNotFound
	}
	return recordFromFields(token, fields)
}

// Consume atomically deletes and returns the record for a token string. The
// Lua script runs as a single Redis command, so concurrent rotations of the
// same token are serialized: one gets the record, the rest ErrTokenNotFound.
func (r *RefreshTokenRepository) Consume(ctx context.Context, token string) (*domain.RefreshToken, error) {
	res, err := consumeScript.Run(ctx, r.client,
		[]string{tokenKeyPrefix + token},
		subjectKeyPrefix, token,
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, storeErr(err)
	}

	raw, ok := res.([]any)
	if !ok || len(raw) == 0 {
		return nil, domain.ErrTokenNotFound
	}
	fields := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		k, _ := raw[i].(string)
		v, _ := raw[i+1].(string)
		fields[k] = v
	}
	return recordFromFields(token, fields)
}

// Delete removes a record by token string; deleting a missing token is a no-op.
func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	err := deleteScript.Run(ctx, r.client,
		[]string{tokenKeyPrefix + token},
		subjectKeyPrefix, token,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return storeErr(err)
	}
	return nil
}

// ListBySubject returns every outstanding record for a subject, pruning index
// entries whose token keys Redis already expired.
func (r *RefreshTokenRepository) ListBySubject(ctx context.Context, subject string) ([]*domain.RefreshToken, error) {
	indexKey := subjectKeyPrefix + subject
	members, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, storeErr(err)
	}

	var tokens []*domain.RefreshToken
	for _, member := range members {
		record, err := r.Find(ctx, member)
		if err != nil {
			if errors.Is(err, domain.ErrTokenNotFound) {
				_ = r.client.SRem(ctx, indexKey, member).Err()
				continue
			}
			return nil, err
		}
		tokens = append(tokens, record)
	}
	return tokens, nil
}

// DeleteExpiredForSubject removes the subject's records whose expiry passed.
func (r *RefreshTokenRepository) DeleteExpiredForSubject(ctx context.Context, subject string) error {
	records, err := r.ListBySubject(ctx, subject)
	if err != nil {
		return err
	}
	now := r.nowFunc()
	for _, record := range records {
		if record.Expired(now) {
			if err := r.Delete(ctx, record.Token); err != nil {
				return err
			}
		}
	}
	return nil
}

func recordFromFields(token string, fields map[string]string) (*domain.RefreshToken, error) {
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt ledger record for token", domain.ErrStoreUnavailable)
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt ledger record for token", domain.ErrStoreUnavailable)
	}
	return &domain.RefreshToken{
		Token:     token,
		Subject:   fields["subject"],
		Role:      domain.Role(fields["role"]),
		ExpiresAt: time.Unix(expires, 0),
		CreatedAt: time.Unix(created, 0),
	}, nil
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
