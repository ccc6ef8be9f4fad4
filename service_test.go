package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/trailverse/authcore/analytics"
	"github.com/trailverse/authcore/session"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis, *fakeClock, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	clk := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := New(rdb, Config{
		Password: PasswordConfig{Cost: bcrypt.MinCost},
		Clock:    clk.Now,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	return svc, mr, clk, func() {
		svc.Close()
		rdb.Close()
		mr.Close()
	}
}

func webDevice() session.DeviceInfo {
	return session.DeviceInfo{
		UserAgent: "Mozilla/5.0 (Macintosh) Chrome/126.0",
		IP:        "203.0.113.7",
	}
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error for nil redis client")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, err = New(rdb, Config{
		Session: SessionConfig{
			RefreshTTL: 60 * 24 * time.Hour,
			IndexTTL:   30 * 24 * time.Hour,
		},
	})
	if err == nil {
		t.Fatal("expected refresh TTL > index TTL to be rejected")
	}
}

func TestLoginFlowFeedsStats(t *testing.T) {
	svc, _, _, done := newTestService(t)
	defer done()
	ctx := context.Background()

	d, err := svc.CheckLoginAttempt(ctx, "traveler@example.com")
	if err != nil {
		t.Fatalf("check login: %v", err)
	}
	if !d.Allowed {
		t.Fatal("fresh identifier must be allowed")
	}

	sess, refreshToken, err := svc.Issue(ctx, "u1", webDevice())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if refreshToken == "" || sess.SessionID == "" {
		t.Fatal("expected a session with a refresh token")
	}

	if err := svc.ClearLoginAttempts(ctx, "traveler@example.com"); err != nil {
		t.Fatalf("clear attempts: %v", err)
	}

	// Stats read the event log; close the service first so the async
	// dispatcher has flushed the login event.
	svc.Close()

	stats, err := svc.GetAuthStats(ctx, TimeframeDay)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalLogins != 1 || stats.UniqueUsers != 1 {
		t.Fatalf("expected 1 login by 1 user, got %+v", stats)
	}
	if stats.FailedAttempts != 0 || stats.Registrations != 0 {
		t.Fatalf("expected no failures or registrations, got %+v", stats)
	}
}

func TestFailedLoginsCountedInStats(t *testing.T) {
	svc, _, _, done := newTestService(t)
	defer done()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.RecordFailedLogin(ctx, "traveler@example.com"); err != nil {
			t.Fatalf("record failed login: %v", err)
		}
	}
	svc.RecordEvent(ctx, analytics.Event{
		UserID: "u9",
		Name:   analytics.EventRegistration,
	})

	svc.Close()

	stats, err := svc.GetAuthStats(ctx, TimeframeHour)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FailedAttempts != 3 {
		t.Fatalf("expected 3 failed attempts, got %+v", stats)
	}
	if stats.Registrations != 1 {
		t.Fatalf("expected 1 registration, got %+v", stats)
	}
}

func TestRotateAndReuseCascade(t *testing.T) {
	svc, _, _, done := newTestService(t)
	defer done()
	ctx := context.Background()

	_, oldToken, err := svc.Issue(ctx, "u1", webDevice())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	newToken, _, err := svc.Rotate(ctx, "u1", oldToken)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if _, err := svc.Validate(ctx, "u1", newToken); err != nil {
		t.Fatalf("validate rotated token: %v", err)
	}

	// Replaying the retired token is treated as theft and revokes the
	// account's sessions.
	if _, err := svc.Validate(ctx, "u1", oldToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}
	if _, err := svc.Validate(ctx, "u1", newToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected cascade to revoke the live token, got %v", err)
	}
}

func TestRevokeAllAndListSessions(t *testing.T) {
	svc, _, _, done := newTestService(t)
	defer done()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Issue(ctx, "u1", webDevice()); err != nil {
			t.Fatalf("issue: %v", err)
		}
	}

	sessions, err := svc.ListSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}

	removed, err := svc.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}

	sessions, err = svc.ListSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("list after revoke: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty session list, got %d", len(sessions))
	}
}

func TestBlacklistRoundTrip(t *testing.T) {
	svc, mr, _, done := newTestService(t)
	defer done()
	ctx := context.Background()

	if err := svc.BlacklistToken(ctx, "access-abc", 30*time.Minute); err != nil {
		t.Fatalf("blacklist: %v", err)
	}

	revoked, err := svc.IsBlacklisted(ctx, "access-abc")
	if err != nil {
		t.Fatalf("isBlacklisted: %v", err)
	}
	if !revoked {
		t.Fatal("expected token to be blacklisted")
	}

	mr.FastForward(31 * time.Minute)

	revoked, err = svc.IsBlacklisted(ctx, "access-abc")
	if err != nil {
		t.Fatalf("isBlacklisted: %v", err)
	}
	if revoked {
		t.Fatal("entry must lapse with the token lifetime")
	}
}

func TestPasswordResetLimiterPolicy(t *testing.T) {
	svc, _, clk, done := newTestService(t)
	defer done()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := svc.CheckPasswordResetAttempt(ctx, "traveler@example.com")
		if err != nil {
			t.Fatalf("check reset: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		if err := svc.RecordPasswordResetAttempt(ctx, "traveler@example.com"); err != nil {
			t.Fatalf("record reset: %v", err)
		}
	}

	d, err := svc.CheckPasswordResetAttempt(ctx, "traveler@example.com")
	if err != nil {
		t.Fatalf("check reset: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth reset inside the window must be denied")
	}
	if !d.LockedUntil.IsZero() {
		t.Fatalf("reset limiter has no lockout, got %v", d.LockedUntil)
	}

	clk.Advance(61 * time.Minute)

	d, err = svc.CheckPasswordResetAttempt(ctx, "traveler@example.com")
	if err != nil {
		t.Fatalf("check reset after window: %v", err)
	}
	if !d.Allowed {
		t.Fatal("window expiry must reset the counter")
	}
}

func TestPasswordHelpers(t *testing.T) {
	svc, _, _, done := newTestService(t)
	defer done()

	hash, err := svc.HashPassword("Tr41lV3rse!2024")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !svc.VerifyPassword("Tr41lV3rse!2024", hash) {
		t.Fatal("expected verification to succeed")
	}
	if svc.VerifyPassword("wrong", hash) {
		t.Fatal("expected verification to fail")
	}

	if result := svc.ValidatePasswordStrength("short1!"); result.Valid {
		t.Fatal("expected weak password to be rejected")
	}
}

func TestParseTimeframe(t *testing.T) {
	for _, label := range []string{"hour", "day", "week", "month"} {
		tf, err := ParseTimeframe(label)
		if err != nil {
			t.Fatalf("parse %q: %v", label, err)
		}
		if tf.Duration() <= 0 {
			t.Fatalf("timeframe %q has no duration", label)
		}
	}

	if _, err := ParseTimeframe("year"); !errors.Is(err, ErrInvalidTimeframe) {
		t.Fatalf("expected ErrInvalidTimeframe, got %v", err)
	}
}

func TestGetAuthStatsFailsWhenEventLogUnreachable(t *testing.T) {
	svc, mr, _, done := newTestService(t)
	defer done()

	mr.Close()

	if _, err := svc.GetAuthStats(context.Background(), TimeframeDay); err == nil {
		t.Fatal("expected an error when the event log is unreachable")
	}
}

func TestGetAuthStatsRejectsBadTimeframe(t *testing.T) {
	svc, _, _, done := newTestService(t)
	defer done()

	if _, err := svc.GetAuthStats(context.Background(), Timeframe("decade")); !errors.Is(err, ErrInvalidTimeframe) {
		t.Fatalf("expected ErrInvalidTimeframe, got %v", err)
	}
}
