// Package blacklist tracks revoked access tokens until their natural
// expiry. Entries are advisory rejections layered on top of the token's
// own signature and expiry checks, which remain the caller's concern:
// absence of an entry means "not known to be revoked", never "valid".
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable indicates the Redis backend is unreachable.
	ErrStoreUnavailable = errors.New("blacklist store unavailable")
	// ErrTokenInvalid is returned when a token's expiry cannot be read.
	ErrTokenInvalid = errors.New("invalid access token")
)

const marker = "revoked"

// List is the Redis-backed access-token revocation list.
type List struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a revocation List under the given key prefix.
func New(client redis.UniversalClient, prefix string, clock func() time.Time) *List {
	if prefix == "" {
		prefix = "tv"
	}
	if clock == nil {
		clock = time.Now
	}
	return &List{
		redis:  client,
		prefix: prefix,
		now:    clock,
	}
}

func (l *List) key(accessToken string) string {
	return l.prefix + ":bl:" + accessToken
}

// Revoke marks accessToken rejected for its remaining lifetime. The
// entry never outlives the token it blocks; a non-positive remaining
// lifetime is a no-op. Revoking the same token twice only refreshes the
// TTL.
func (l *List) Revoke(ctx context.Context, accessToken string, remaining time.Duration) error {
	if accessToken == "" || remaining <= 0 {
		return nil
	}

	if err := l.redis.Set(ctx, l.key(accessToken), marker, remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// RevokeJWT derives the remaining lifetime from the token's exp claim
// and revokes it. The claims are read without signature verification;
// verifying the token is the auth middleware's job, and a forged exp
// only shortens or lengthens the marker within the forger's own token.
// Returns the remaining lifetime used, zero when already expired.
func (l *List) RevokeJWT(ctx context.Context, accessToken string) (time.Duration, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, ErrTokenInvalid
	}

	remaining := exp.Sub(l.now())
	if remaining <= 0 {
		return 0, nil
	}

	return remaining, l.Revoke(ctx, accessToken, remaining)
}

// IsRevoked reports whether accessToken has a live revocation entry.
func (l *List) IsRevoked(ctx context.Context, accessToken string) (bool, error) {
	n, err := l.redis.Exists(ctx, l.key(accessToken)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}
