package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trailverse/authcore/analytics"
	"github.com/trailverse/authcore/blacklist"
	"github.com/trailverse/authcore/internal/limiters"
	"github.com/trailverse/authcore/metrics"
	"github.com/trailverse/authcore/session"
	"github.com/trailverse/authcore/token"
)

// Service is the auth session core. Construct one per process with New
// and share it across request handlers; every method is safe for
// concurrent use because all state lives in Redis.
type Service struct {
	cfg       Config
	sessions  *session.Store
	blacklist *blacklist.List
	login     *limiters.Limiter
	reset     *limiters.Limiter
	events    *analytics.Dispatcher
	sink      *analytics.RedisSink
	hasher    *token.Hasher
	now       func() time.Time
	log       *zap.Logger
}

// New creates a Service on top of the given Redis client.
func New(client redis.UniversalClient, cfg Config) (*Service, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	hasher, err := token.NewHasher(cfg.Password.Cost)
	if err != nil {
		return nil, err
	}

	sink := analytics.NewRedisSink(client, cfg.KeyPrefix, cfg.Analytics.Retention, cfg.Clock)

	svc := &Service{
		cfg: cfg,
		sessions: session.NewStore(client, session.Config{
			Prefix:         cfg.KeyPrefix,
			RefreshTTL:     cfg.Session.RefreshTTL,
			IndexTTL:       cfg.Session.IndexTTL,
			ReuseMarkerTTL: cfg.Session.ReuseMarkerTTL,
			TokenBytes:     cfg.Session.TokenBytes,
			Clock:          cfg.Clock,
			Logger:         cfg.Logger,
		}),
		blacklist: blacklist.New(client, cfg.KeyPrefix, cfg.Clock),
		login: limiters.New(client, limiters.Config{
			Prefix:  cfg.KeyPrefix + ":la",
			Max:     cfg.LoginLimiter.MaxAttempts,
			Window:  cfg.LoginLimiter.Window,
			Lockout: cfg.LoginLimiter.Lockout,
			Clock:   cfg.Clock,
			Logger:  cfg.Logger,
		}),
		reset: limiters.New(client, limiters.Config{
			Prefix:  cfg.KeyPrefix + ":pr",
			Max:     cfg.ResetLimiter.MaxAttempts,
			Window:  cfg.ResetLimiter.Window,
			Lockout: cfg.ResetLimiter.Lockout,
			Clock:   cfg.Clock,
			Logger:  cfg.Logger,
		}),
		events: analytics.NewDispatcher(analytics.DispatcherConfig{
			BufferSize: cfg.Analytics.BufferSize,
			DropIfFull: true,
			Logger:     cfg.Logger,
		}, sink),
		sink:   sink,
		hasher: hasher,
		now:    cfg.Clock,
		log:    cfg.Logger,
	}

	return svc, nil
}

// Close drains the analytics dispatcher.
func (s *Service) Close() {
	s.events.Close()
}

/* ------------------------- token codec surface ------------------------- */

// HashPassword derives a bcrypt hash with the configured cost factor.
func (s *Service) HashPassword(plaintext string) (string, error) {
	return s.hasher.Hash(plaintext)
}

// VerifyPassword reports whether plaintext matches hash.
func (s *Service) VerifyPassword(plaintext, hash string) bool {
	return s.hasher.Verify(plaintext, hash)
}

// ValidatePasswordStrength scores a candidate password.
func (s *Service) ValidatePasswordStrength(plaintext string) token.StrengthResult {
	return token.ValidateStrength(plaintext)
}

/* --------------------------- session registry -------------------------- */

// Issue creates a new session for an already-authenticated user and
// returns the session snapshot with its refresh token. A login event is
// recorded best-effort.
func (s *Service) Issue(ctx context.Context, userID string, device session.DeviceInfo) (*session.Session, string, error) {
	sess, refreshToken, err := s.sessions.Issue(ctx, userID, device)
	if err != nil {
		return nil, "", err
	}

	metrics.Logins.Inc()
	s.events.Emit(ctx, analytics.Event{
		UserID:    userID,
		Name:      analytics.EventLogin,
		Type:      analytics.EventTypeAuth,
		Timestamp: s.now(),
		Properties: map[string]string{
			"session_id":  sess.SessionID,
			"device_type": sess.Device.DeviceType,
		},
	})

	return sess, refreshToken, nil
}

// Validate checks that refreshToken is live and owned by userID,
// sliding its TTL forward on success. Reuse of a rotated token revokes
// the owner's sessions and returns ErrRefreshReuse.
func (s *Service) Validate(ctx context.Context, userID, refreshToken string) (*session.Session, error) {
	sess, err := s.sessions.Validate(ctx, userID, refreshToken)
	if err != nil {
		s.observeReuse(ctx, err)
		return nil, err
	}
	return sess, nil
}

// Rotate exchanges a refresh token for a new one carrying the same
// session. The old token is dead the moment Rotate returns.
func (s *Service) Rotate(ctx context.Context, userID, oldToken string) (string, *session.Session, error) {
	newToken, sess, err := s.sessions.Rotate(ctx, userID, oldToken)
	if err != nil {
		s.observeReuse(ctx, err)
		return "", nil, err
	}

	metrics.Rotations.Inc()
	return newToken, sess, nil
}

func (s *Service) observeReuse(ctx context.Context, err error) {
	var reuse *session.ReuseError
	if !errors.As(err, &reuse) {
		return
	}

	metrics.ReuseDetections.Inc()
	s.events.Emit(ctx, analytics.Event{
		UserID:    reuse.UserID,
		Name:      analytics.EventRefreshReuse,
		Type:      analytics.EventTypeAuth,
		Timestamp: s.now(),
		Properties: map[string]string{
			"session_id": reuse.SessionID,
		},
	})
}

// RevokeOne logs out the session represented by refreshToken. Unknown
// tokens are a no-op.
func (s *Service) RevokeOne(ctx context.Context, refreshToken string) error {
	return s.sessions.RevokeOne(ctx, refreshToken)
}

// RevokeAll logs the user out everywhere and returns how many sessions
// were removed.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	return s.sessions.RevokeAll(ctx, userID)
}

// ListSessions returns the user's devices, newest first. Entries are
// advisory: one whose refresh token already expired is effectively
// logged out even before the sweeper prunes it.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	return s.sessions.ListSessions(ctx, userID)
}

/* ---------------------------- revocation list --------------------------- */

// BlacklistToken rejects an access token before its natural expiry.
// When remaining is positive it bounds the entry's TTL directly;
// otherwise the remaining lifetime is derived from the token's exp
// claim.
func (s *Service) BlacklistToken(ctx context.Context, accessToken string, remaining time.Duration) error {
	var err error
	if remaining > 0 {
		err = s.blacklist.Revoke(ctx, accessToken, remaining)
	} else {
		_, err = s.blacklist.RevokeJWT(ctx, accessToken)
	}
	if err != nil {
		return err
	}

	metrics.BlacklistedTokens.Inc()
	return nil
}

// IsBlacklisted reports whether the access token has been revoked.
// Absence means "not known to be revoked"; the token's own signature
// and expiry checks remain the middleware's concern.
func (s *Service) IsBlacklisted(ctx context.Context, accessToken string) (bool, error) {
	return s.blacklist.IsRevoked(ctx, accessToken)
}

/* ---------------------------- attempt limiting -------------------------- */

// CheckLoginAttempt reports whether identifier may attempt a login.
// Fails open if the limiter backend is unreachable.
func (s *Service) CheckLoginAttempt(ctx context.Context, identifier string) (limiters.Decision, error) {
	return s.login.Check(ctx, identifier)
}

// RecordFailedLogin counts a failed login for identifier and records a
// failure event best-effort.
func (s *Service) RecordFailedLogin(ctx context.Context, identifier string) error {
	if err := s.login.RecordFailure(ctx, identifier); err != nil {
		return err
	}

	metrics.FailedLogins.Inc()
	s.events.Emit(ctx, analytics.Event{
		Name:      analytics.EventLoginFailed,
		Type:      analytics.EventTypeAuth,
		Timestamp: s.now(),
		Properties: map[string]string{
			"identifier": identifier,
		},
	})

	return nil
}

// ClearLoginAttempts resets the login counter after a successful
// authentication. Clearing an absent counter is a no-op.
func (s *Service) ClearLoginAttempts(ctx context.Context, identifier string) error {
	return s.login.Clear(ctx, identifier)
}

// CheckPasswordResetAttempt reports whether identifier may request a
// password reset. Fails open if the limiter backend is unreachable.
func (s *Service) CheckPasswordResetAttempt(ctx context.Context, identifier string) (limiters.Decision, error) {
	return s.reset.Check(ctx, identifier)
}

// RecordPasswordResetAttempt counts a password reset request. The reset
// limiter has no extended lockout; the window expiry alone resets it.
func (s *Service) RecordPasswordResetAttempt(ctx context.Context, identifier string) error {
	return s.reset.RecordFailure(ctx, identifier)
}

/* ------------------------------- cleanup -------------------------------- */

// CleanupExpiredSessions sweeps stale session index entries and their
// refresh records. Intended to be driven hourly by maintenance.Sweeper.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int, error) {
	removed, err := s.sessions.CleanupExpired(ctx)
	if removed > 0 {
		metrics.SessionsSwept.Add(float64(removed))
	}
	return removed, err
}

/* -------------------------------- events -------------------------------- */

// RecordEvent appends an arbitrary auth event, e.g. a registration
// recorded by the signup flow. Delivery is asynchronous and
// best-effort; failures never propagate.
func (s *Service) RecordEvent(ctx context.Context, event analytics.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if event.Type == "" {
		event.Type = analytics.EventTypeAuth
	}
	s.events.Emit(ctx, event)
}
