package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trailverse/authcore/analytics"
)

// Timeframe selects the stats rollup window.
type Timeframe string

const (
	TimeframeHour  Timeframe = "hour"
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
)

// ParseTimeframe validates a timeframe label.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case TimeframeHour, TimeframeDay, TimeframeWeek, TimeframeMonth:
		return Timeframe(s), nil
	default:
		return "", ErrInvalidTimeframe
	}
}

// Duration returns the window length for the timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case TimeframeHour:
		return time.Hour
	case TimeframeDay:
		return 24 * time.Hour
	case TimeframeWeek:
		return 7 * 24 * time.Hour
	case TimeframeMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// AuthStats is the read-only rollup served to reporting endpoints. It
// tolerates eventual consistency and partial data.
type AuthStats struct {
	Timeframe      Timeframe `json:"timeframe"`
	TotalLogins    int64     `json:"total_logins"`
	UniqueUsers    int64     `json:"unique_users"`
	FailedAttempts int64     `json:"failed_attempts"`
	Registrations  int64     `json:"registrations"`
}

// GetAuthStats aggregates logins, unique users, failed attempts, and
// registrations over the timeframe from the analytics event log, plus a
// best-effort scan of live login attempt counters. A counter-scan
// failure degrades that component to the event-log figure alone.
func (s *Service) GetAuthStats(ctx context.Context, timeframe Timeframe) (AuthStats, error) {
	if timeframe.Duration() <= 0 {
		return AuthStats{}, ErrInvalidTimeframe
	}

	since := s.now().Add(-timeframe.Duration())
	stats := AuthStats{Timeframe: timeframe}

	logins, err := s.sink.CountSince(ctx, analytics.EventLogin, since)
	if err != nil {
		return AuthStats{}, err
	}
	stats.TotalLogins = logins

	unique, err := s.sink.UniqueUsersSince(ctx, analytics.EventLogin, since)
	if err != nil {
		return AuthStats{}, err
	}
	stats.UniqueUsers = unique

	failedEvents, err := s.sink.CountSince(ctx, analytics.EventLoginFailed, since)
	if err != nil {
		return AuthStats{}, err
	}

	registrations, err := s.sink.CountSince(ctx, analytics.EventRegistration, since)
	if err != nil {
		return AuthStats{}, err
	}
	stats.Registrations = registrations

	// The counter scan catches failures recorded while the event log
	// was unreachable; the larger of the two figures avoids counting
	// the same failure twice.
	stats.FailedAttempts = failedEvents
	if live, err := s.login.SumCountsSince(ctx, since); err != nil {
		s.log.Warn("attempt counter scan failed, using event log only", zap.Error(err))
	} else if live > failedEvents {
		stats.FailedAttempts = live
	}

	return stats, nil
}
