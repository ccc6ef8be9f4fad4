package authcore

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/trailverse/authcore/token"
)

// Config configures a Service. The zero value is usable: every field
// falls back to the defaults below.
type Config struct {
	// KeyPrefix namespaces every Redis key written by the service.
	KeyPrefix string

	Session       SessionConfig
	Password      PasswordConfig
	LoginLimiter  LimiterConfig
	ResetLimiter  LimiterConfig
	Analytics     AnalyticsConfig

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
	// Logger receives operational warnings. Nop when nil.
	Logger *zap.Logger
}

// SessionConfig holds session registry lifetimes.
type SessionConfig struct {
	// RefreshTTL is the refresh-token record lifetime (sliding).
	RefreshTTL time.Duration
	// IndexTTL is the session index lifetime; index entries idle longer
	// than this are swept.
	IndexTTL time.Duration
	// ReuseMarkerTTL bounds the reuse-detection window for superseded
	// tokens.
	ReuseMarkerTTL time.Duration
	// TokenBytes is refresh-token entropy in bytes.
	TokenBytes int
}

// PasswordConfig holds hashing parameters.
type PasswordConfig struct {
	// Cost is the bcrypt cost factor.
	Cost int
}

// LimiterConfig holds one attempt limiter's policy.
type LimiterConfig struct {
	MaxAttempts int
	Window      time.Duration
	// Lockout, when positive, locks the identifier out after
	// MaxAttempts failures. Zero means window expiry alone resets.
	Lockout time.Duration
}

// AnalyticsConfig holds event log tuning.
type AnalyticsConfig struct {
	BufferSize int
	Retention  time.Duration
}

// Policy defaults. Login lockout and window values implement the
// 5-per-hour / 15-minute-lockout brute-force policy; password reset is
// 3 per hour with no extended lockout.
const (
	DefaultKeyPrefix      = "tv"
	DefaultRefreshTTL     = 7 * 24 * time.Hour
	DefaultIndexTTL       = 30 * 24 * time.Hour
	DefaultReuseMarkerTTL = 24 * time.Hour
	DefaultBcryptCost     = 12

	DefaultMaxLoginAttempts = 5
	DefaultLoginWindow      = time.Hour
	DefaultLoginLockout     = 15 * time.Minute

	DefaultMaxResetAttempts = 3
	DefaultResetWindow      = time.Hour
)

// NoLockout disables a limiter's lockout explicitly, since a zero
// Lockout means "use the default" for the login limiter.
const NoLockout = -1

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.Session.RefreshTTL <= 0 {
		c.Session.RefreshTTL = DefaultRefreshTTL
	}
	if c.Session.IndexTTL <= 0 {
		c.Session.IndexTTL = DefaultIndexTTL
	}
	if c.Session.ReuseMarkerTTL <= 0 {
		c.Session.ReuseMarkerTTL = DefaultReuseMarkerTTL
	}
	if c.Session.TokenBytes < token.MinTokenBytes {
		c.Session.TokenBytes = token.MinTokenBytes
	}
	if c.Password.Cost == 0 {
		c.Password.Cost = DefaultBcryptCost
	}
	if c.LoginLimiter.MaxAttempts <= 0 {
		c.LoginLimiter.MaxAttempts = DefaultMaxLoginAttempts
	}
	if c.LoginLimiter.Window <= 0 {
		c.LoginLimiter.Window = DefaultLoginWindow
	}
	if c.LoginLimiter.Lockout == 0 {
		c.LoginLimiter.Lockout = DefaultLoginLockout
	}
	if c.LoginLimiter.Lockout < 0 {
		c.LoginLimiter.Lockout = 0
	}
	if c.ResetLimiter.Lockout < 0 {
		c.ResetLimiter.Lockout = 0
	}
	if c.ResetLimiter.MaxAttempts <= 0 {
		c.ResetLimiter.MaxAttempts = DefaultMaxResetAttempts
	}
	if c.ResetLimiter.Window <= 0 {
		c.ResetLimiter.Window = DefaultResetWindow
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c Config) validate() error {
	if c.Password.Cost < bcrypt.MinCost || c.Password.Cost > bcrypt.MaxCost {
		return errors.New("password cost out of bcrypt range")
	}
	if c.Session.RefreshTTL > c.Session.IndexTTL {
		return errors.New("refresh TTL must not exceed index TTL")
	}
	return nil
}
