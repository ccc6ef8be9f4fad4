package authcore

import (
	"errors"

	"github.com/trailverse/authcore/blacklist"
	"github.com/trailverse/authcore/internal/limiters"
	"github.com/trailverse/authcore/session"
)

// Canonical error taxonomy. Store failures are transient infrastructure
// errors; NotFound means "already invalid", never an exception path;
// IdentityMismatch and RefreshReuse are security signals worth alerting
// on. Callers translate all session failures to "please log in again".
var (
	// ErrStoreUnavailable wraps transient Redis failures from the
	// session registry.
	ErrStoreUnavailable = session.ErrStoreUnavailable
	// ErrSessionNotFound is returned when a refresh token has no live
	// record.
	ErrSessionNotFound = session.ErrNotFound
	// ErrIdentityMismatch is returned when a refresh token exists but
	// belongs to a different user than claimed.
	ErrIdentityMismatch = session.ErrIdentityMismatch
	// ErrRefreshReuse is returned when a superseded refresh token is
	// presented; the owner's sessions have already been revoked.
	ErrRefreshReuse = session.ErrReuseDetected
	// ErrBlacklistUnavailable wraps transient Redis failures from the
	// revocation list.
	ErrBlacklistUnavailable = blacklist.ErrStoreUnavailable
	// ErrLimiterUnavailable wraps transient Redis failures from the
	// attempt limiters' write paths. Their read path fails open instead.
	ErrLimiterUnavailable = limiters.ErrStoreUnavailable
	// ErrTokenInvalid is returned when an access token's claims cannot
	// be read for blacklisting.
	ErrTokenInvalid = blacklist.ErrTokenInvalid
)

// ErrInvalidTimeframe is returned by GetAuthStats for an unknown
// timeframe label.
var ErrInvalidTimeframe = errors.New("invalid stats timeframe")
