package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	revokedKeyPrefix = "sideline:revoked:"
	cutoffKeyPrefix  = "sideline:cutoff:"
)

// RedisRevocationLedger implements RevocationLedger on Redis. Each marker is
// keyed by jti with a TTL equal to the token's remaining natural lifetime,
// so an entry can never outlive the window in which the token is replayable
// and PurgeExpired is a no-op.
type RedisRevocationLedger struct {
	client    *redis.Client
	cutoffTTL time.Duration
	now       func() time.Time
}

var _ RevocationLedger = (*RedisRevocationLedger)(nil)

// RedisLedgerOption configures RedisRevocationLedger behavior.
type RedisLedgerOption func(*RedisRevocationLedger)

// WithCutoffTTL bounds how long a per-principal cutoff is retained. It must
// exceed the maximum access token lifetime; after that, every token the
// cutoff could invalidate has expired on its own.
func WithCutoffTTL(ttl time.Duration) RedisLedgerOption {
	return func(l *RedisRevocationLedger) {
		if ttl > 0 {
			l.cutoffTTL = ttl
		}
	}
}

// WithRedisLedgerClock overrides the time source (useful for tests).
func WithRedisLedgerClock(fn func() time.Time) RedisLedgerOption {
	return func(l *RedisRevocationLedger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewRedisRevocationLedger constructs a ledger over the given client.
func NewRedisRevocationLedger(client *redis.Client, opts ...RedisLedgerOption) (*RedisRevocationLedger, error) {
	if client == nil {
		return nil, errors.New("auth: redis client is required")
	}
	l := &RedisRevocationLedger{
		client:    client,
		cutoffTTL: 30 * 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *RedisRevocationLedger) Revoke(ctx context.Context, tokenID, principalID string, naturalExpiry time.Time, reason RevokeReason) error {
	ttl := naturalExpiry.Sub(l.now())
	if ttl <= 0 {
		// The token already expired on its own; nothing to mark.
		return nil
	}
	// SetNX keeps the original marker when a token is revoked twice.
	return l.client.SetNX(ctx, revokedKeyPrefix+tokenID, principalID+"|"+string(reason), ttl).Err()
}

func (l *RedisRevocationLedger) RevokeAllForPrincipal(ctx context.Context, principalID string, cutoff time.Time, reason RevokeReason) error {
	key := cutoffKeyPrefix + principalID
	existing, err := l.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if err == nil {
		if prev, parseErr := time.Parse(time.RFC3339Nano, existing); parseErr == nil && prev.After(cutoff) {
			// Never move an existing cutoff backwards.
			return nil
		}
	}
	return l.client.Set(ctx, key, cutoff.UTC().Format(time.RFC3339Nano), l.cutoffTTL).Err()
}

func (l *RedisRevocationLedger) IsRevoked(ctx context.Context, tokenID, principalID string, issuedAt time.Time) (bool, error) {
	val, err := l.client.Get(ctx, revokedKeyPrefix+tokenID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	if err == nil && markerOwner(val) == principalID {
		return true, nil
	}

	raw, err := l.client.Get(ctx, cutoffKeyPrefix+principalID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	cutoff, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false, err
	}
	return !issuedAt.After(cutoff), nil
}

// markerOwner extracts the principal id from a stored marker value of the
// form "<principal>|<reason>".
func markerOwner(val string) string {
	if idx := strings.IndexByte(val, '|'); idx >= 0 {
		return val[:idx]
	}
	return val
}

// PurgeExpired is satisfied by key TTLs; there is nothing to delete.
func (l *RedisRevocationLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
