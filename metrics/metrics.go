// Package metrics exposes Prometheus collectors for the auth core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Logins counts sessions issued.
	Logins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authcore_logins_total",
		Help: "Total number of sessions issued",
	})

	// FailedLogins counts recorded failed login attempts.
	FailedLogins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authcore_failed_logins_total",
		Help: "Total number of recorded failed login attempts",
	})

	// Rotations counts successful refresh-token rotations.
	Rotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authcore_refresh_rotations_total",
		Help: "Total number of refresh token rotations",
	})

	// ReuseDetections counts superseded refresh tokens presented again.
	ReuseDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authcore_refresh_reuse_detections_total",
		Help: "Total number of rotated refresh tokens seen again",
	})

	// BlacklistedTokens counts access tokens added to the revocation list.
	BlacklistedTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authcore_blacklisted_tokens_total",
		Help: "Total number of access tokens blacklisted",
	})

	// SessionsSwept counts sessions removed by the cleanup sweeper.
	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authcore_sessions_swept_total",
		Help: "Total number of expired sessions removed by cleanup",
	})
)
