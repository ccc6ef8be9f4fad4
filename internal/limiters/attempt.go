// Package limiters implements the sliding-window attempt counter with
// optional lockout used for login and password-reset abuse control.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrStoreUnavailable indicates the limiter backend is unreachable.
var ErrStoreUnavailable = errors.New("limiter store unavailable")

const (
	fieldCount       = "count"
	fieldLastAttempt = "last"
	fieldLockedUntil = "locked"
)

// Config holds the policy constants for one limiter instance.
type Config struct {
	// Prefix is the full key prefix for this instance, e.g. "tv:la".
	Prefix string
	// Max is the number of failures tolerated inside the window.
	Max int
	// Window is the rolling window measured from the last attempt.
	Window time.Duration
	// Lockout, when positive, is how long an identifier stays locked
	// after reaching Max. Zero means the window expiry alone clears the
	// counter.
	Lockout time.Duration
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
	// Logger receives fail-open warnings. Nop when nil.
	Logger *zap.Logger
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed     bool
	Remaining   int
	LockedUntil time.Time
}

// Limiter is a Redis-backed sliding-window counter. State per identifier
// lives in one hash: count, last attempt timestamp, and the optional
// lock expiry, with the key TTL bounded by the window or lockout.
//
// Availability trade-off: when Redis is unreachable, Check fails OPEN —
// the attempt is allowed and a warning is logged. Locking users out
// because infrastructure is down is the worse failure mode here.
type Limiter struct {
	redis redis.UniversalClient
	cfg   Config
	now   func() time.Time
	log   *zap.Logger
}

// New creates a Limiter with the given policy.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Limiter{
		redis: client,
		cfg:   cfg,
		now:   cfg.Clock,
		log:   cfg.Logger,
	}
}

func (l *Limiter) key(identifier string) string {
	return l.cfg.Prefix + ":" + identifier
}

type counter struct {
	count       int
	lastAttempt time.Time
	lockedUntil time.Time
}

func (l *Limiter) read(ctx context.Context, identifier string) (*counter, error) {
	fields, err := l.redis.HGetAll(ctx, l.key(identifier)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	c := &counter{}
	if v, ok := fields[fieldCount]; ok {
		c.count, _ = strconv.Atoi(v)
	}
	if v, ok := fields[fieldLastAttempt]; ok {
		if unix, convErr := strconv.ParseInt(v, 10, 64); convErr == nil {
			c.lastAttempt = time.Unix(unix, 0)
		}
	}
	if v, ok := fields[fieldLockedUntil]; ok && v != "" {
		if unix, convErr := strconv.ParseInt(v, 10, 64); convErr == nil && unix > 0 {
			c.lockedUntil = time.Unix(unix, 0)
		}
	}

	return c, nil
}

// Check reports whether identifier may attempt again. A missing counter
// allows with Max-1 remaining. A counter whose window has elapsed since
// the last attempt is expired: it is deleted and treated as fresh. A
// live lock denies with its expiry. Store failures fail open.
func (l *Limiter) Check(ctx context.Context, identifier string) (Decision, error) {
	fresh := Decision{Allowed: true, Remaining: l.cfg.Max - 1}

	c, err := l.read(ctx, identifier)
	if err != nil {
		l.log.Warn("attempt limiter unreachable, failing open",
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		return fresh, nil
	}
	if c == nil {
		return fresh, nil
	}

	now := l.now()

	if !c.lockedUntil.IsZero() {
		if now.Before(c.lockedUntil) {
			return Decision{Allowed: false, Remaining: 0, LockedUntil: c.lockedUntil}, nil
		}
		// Lock elapsed: the cycle returns to CLEAR.
		if err := l.Clear(ctx, identifier); err != nil {
			return fresh, nil
		}
		return fresh, nil
	}

	if now.Sub(c.lastAttempt) >= l.cfg.Window {
		if err := l.Clear(ctx, identifier); err != nil {
			return fresh, nil
		}
		return fresh, nil
	}

	remaining := l.cfg.Max - c.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: c.count < l.cfg.Max, Remaining: remaining}, nil
}

// RecordFailure increments the counter for identifier and stamps the
// attempt time. Reaching Max with a lockout configured sets the lock
// expiry. Duplicate calls from client retries over-count harmlessly;
// the counter only ever errs toward stricter limiting.
func (l *Limiter) RecordFailure(ctx context.Context, identifier string) error {
	now := l.now()

	c, err := l.read(ctx, identifier)
	if err != nil {
		return err
	}

	count := 1
	if c != nil && now.Sub(c.lastAttempt) < l.cfg.Window {
		count = c.count + 1
	}

	fields := map[string]interface{}{
		fieldCount:       count,
		fieldLastAttempt: now.Unix(),
	}

	ttl := l.cfg.Window
	if count >= l.cfg.Max && l.cfg.Lockout > 0 {
		lockedUntil := now.Add(l.cfg.Lockout)
		fields[fieldLockedUntil] = lockedUntil.Unix()
		if l.cfg.Lockout > ttl {
			ttl = l.cfg.Lockout
		}
	}

	key := l.key(identifier)
	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Clear deletes the counter for identifier. Clearing an absent counter
// is a no-op.
func (l *Limiter) Clear(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, l.key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// SumCountsSince scans live counters and sums those whose last attempt
// falls at or after since. Best-effort reporting input: scan errors
// surface to the caller, which may choose to degrade.
func (l *Limiter) SumCountsSince(ctx context.Context, since time.Time) (int64, error) {
	var (
		cursor uint64
		total  int64
	)

	for {
		keys, next, err := l.redis.Scan(ctx, cursor, l.cfg.Prefix+":*", 200).Result()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, key := range keys {
			fields, err := l.redis.HMGet(ctx, key, fieldCount, fieldLastAttempt).Result()
			if err != nil || len(fields) != 2 {
				continue
			}
			countStr, ok1 := fields[0].(string)
			lastStr, ok2 := fields[1].(string)
			if !ok1 || !ok2 {
				continue
			}
			last, convErr := strconv.ParseInt(lastStr, 10, 64)
			if convErr != nil || time.Unix(last, 0).Before(since) {
				continue
			}
			if count, convErr := strconv.ParseInt(countStr, 10, 64); convErr == nil {
				total += count
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return total, nil
}
