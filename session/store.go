package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trailverse/authcore/token"
)

var (
	// ErrStoreUnavailable indicates the Redis backend is unreachable or
	// returned a malformed response.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrNotFound is returned when no refresh-token record exists for the
	// presented token. An absent record means "already invalid".
	ErrNotFound = errors.New("session not found")
	// ErrIdentityMismatch is returned when a refresh-token record exists
	// but its recorded owner differs from the claimed user. Surfaced
	// distinctly from ErrNotFound so callers can alert on it.
	ErrIdentityMismatch = errors.New("session identity mismatch")
	// ErrReuseDetected is returned when a superseded refresh token is
	// presented again. The owning user's sessions are revoked before the
	// error is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected")
)

// ReuseError carries the owner recovered from the superseded-token
// marker. errors.Is(err, ErrReuseDetected) matches it.
type ReuseError struct {
	UserID    string
	SessionID string
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("refresh token reuse detected for user %s", e.UserID)
}

// Is reports whether this error matches ErrReuseDetected.
func (e *ReuseError) Is(target error) bool {
	return target == ErrReuseDetected
}

const rotateMaxRetries = 4

// Config holds session store tuning parameters.
type Config struct {
	// Prefix is the Redis key namespace, default "tv".
	Prefix string
	// RefreshTTL is the refresh-token record lifetime, re-applied on
	// every successful validate (sliding). Default 7 days.
	RefreshTTL time.Duration
	// IndexTTL is the per-user session index lifetime, refreshed on
	// every write. Default 30 days. Entries older than this are removed
	// by CleanupExpired.
	IndexTTL time.Duration
	// ReuseMarkerTTL bounds how long a superseded token remains
	// recognizable as stolen. Default 24 hours.
	ReuseMarkerTTL time.Duration
	// TokenBytes is the refresh-token entropy, default 32.
	TokenBytes int
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
	// Logger receives reuse-detection warnings. Nop when nil.
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "tv"
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.IndexTTL <= 0 {
		c.IndexTTL = 30 * 24 * time.Hour
	}
	if c.ReuseMarkerTTL <= 0 {
		c.ReuseMarkerTTL = 24 * time.Hour
	}
	if c.TokenBytes < token.MinTokenBytes {
		c.TokenBytes = token.MinTokenBytes
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Store is the Redis-backed session registry. It owns the refresh-token
// records, the per-user session index, and the reverse index mapping
// session IDs back to their current refresh token. All mutation is
// expressed as atomic Redis batches; the store holds no mutable state
// in process memory.
type Store struct {
	redis redis.UniversalClient
	cfg   Config
	now   func() time.Time
	log   *zap.Logger
}

// NewStore creates a session Store backed by the given Redis client.
func NewStore(client redis.UniversalClient, cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		redis: client,
		cfg:   cfg,
		now:   cfg.Clock,
		log:   cfg.Logger,
	}
}

func (s *Store) recordKey(refreshToken string) string {
	return s.cfg.Prefix + ":rt:" + refreshToken
}

func (s *Store) indexKey(userID string) string {
	return s.cfg.Prefix + ":si:" + userID
}

func (s *Store) reverseKey(userID string) string {
	return s.cfg.Prefix + ":sr:" + userID
}

func (s *Store) reuseKey(refreshToken string) string {
	return s.cfg.Prefix + ":ru:" + refreshToken
}

// Issue creates a new session for userID and returns the session
// snapshot together with its refresh token. No existing session is
// touched.
func (s *Store) Issue(ctx context.Context, userID string, device DeviceInfo) (*Session, string, error) {
	if userID == "" {
		return nil, "", errors.New("user id is required")
	}

	refreshToken, err := token.GenerateSecureToken(s.cfg.TokenBytes)
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	sess := &Session{
		UserID:     userID,
		SessionID:  token.NewSessionID(),
		CreatedAt:  now,
		LastUsedAt: now,
		Device:     device,
	}

	if err := s.writeSession(ctx, sess, refreshToken); err != nil {
		return nil, "", err
	}

	return sess, refreshToken, nil
}

// writeSession persists the record, index entry, and reverse-index entry
// in one transactional batch, refreshing both hash TTLs.
func (s *Store) writeSession(ctx context.Context, sess *Session, refreshToken string) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(refreshToken), data, s.cfg.RefreshTTL)
		pipe.HSet(ctx, s.indexKey(sess.UserID), sess.SessionID, data)
		pipe.Expire(ctx, s.indexKey(sess.UserID), s.cfg.IndexTTL)
		pipe.HSet(ctx, s.reverseKey(sess.UserID), sess.SessionID, refreshToken)
		pipe.Expire(ctx, s.reverseKey(sess.UserID), s.cfg.IndexTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Validate checks that refreshToken belongs to a live session owned by
// userID. It fails closed: an absent record or an owner mismatch both
// reject, and the mismatch is reported distinctly. On success the
// session's LastUsedAt advances and the record TTL slides forward. The
// read and the write-back run under WATCH on the record key: a rotate or
// revoke committing in between invalidates the transaction, so a deleted
// record is never re-created by the sliding refresh.
func (s *Store) Validate(ctx context.Context, userID, refreshToken string) (*Session, error) {
	key := s.recordKey(refreshToken)

	for attempt := 0; attempt < rotateMaxRetries; attempt++ {
		var validated *Session

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			sess, err := Decode(data)
			if err != nil {
				return ErrNotFound
			}

			// Explicit owner equality, not inferred from the token alone.
			if sess.UserID != userID {
				return ErrIdentityMismatch
			}

			now := s.now()
			if now.After(sess.LastUsedAt) {
				sess.LastUsedAt = now
			}

			encoded, err := Encode(sess)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.cfg.RefreshTTL)
				pipe.HSet(ctx, s.indexKey(sess.UserID), sess.SessionID, encoded)
				pipe.Expire(ctx, s.indexKey(sess.UserID), s.cfg.IndexTTL)
				pipe.HSet(ctx, s.reverseKey(sess.UserID), sess.SessionID, refreshToken)
				pipe.Expire(ctx, s.reverseKey(sess.UserID), s.cfg.IndexTTL)
				return nil
			})
			if err != nil {
				return err
			}

			validated = sess
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, s.checkReuse(ctx, refreshToken)
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrIdentityMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}

		return validated, nil
	}

	return nil, fmt.Errorf("%w: validation contention", ErrStoreUnavailable)
}

// Rotate exchanges oldToken for a fresh refresh token carrying the same
// session ID and device info. The swap runs under WATCH so two
// concurrent rotations of the same token cannot both succeed; the loser
// observes the record as gone. After Rotate returns, oldToken fails
// Validate permanently, and any later presentation of it is treated as
// theft.
func (s *Store) Rotate(ctx context.Context, userID, oldToken string) (string, *Session, error) {
	oldKey := s.recordKey(oldToken)

	for attempt := 0; attempt < rotateMaxRetries; attempt++ {
		var (
			newToken string
			rotated  *Session
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, oldKey).Bytes()
			if err != nil {
				return err
			}

			sess, err := Decode(data)
			if err != nil {
				return ErrNotFound
			}
			if sess.UserID != userID {
				return ErrIdentityMismatch
			}

			next, err := token.GenerateSecureToken(s.cfg.TokenBytes)
			if err != nil {
				return err
			}

			now := s.now()
			if now.After(sess.LastUsedAt) {
				sess.LastUsedAt = now
			}

			encoded, err := Encode(sess)
			if err != nil {
				return err
			}
			marker, err := encodeReuseMarker(sess.UserID, sess.SessionID)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, oldKey)
				pipe.Set(ctx, s.reuseKey(oldToken), marker, s.cfg.ReuseMarkerTTL)
				pipe.Set(ctx, s.recordKey(next), encoded, s.cfg.RefreshTTL)
				pipe.HSet(ctx, s.indexKey(sess.UserID), sess.SessionID, encoded)
				pipe.Expire(ctx, s.indexKey(sess.UserID), s.cfg.IndexTTL)
				pipe.HSet(ctx, s.reverseKey(sess.UserID), sess.SessionID, next)
				pipe.Expire(ctx, s.reverseKey(sess.UserID), s.cfg.IndexTTL)
				return nil
			})
			if err != nil {
				return err
			}

			newToken = next
			rotated = sess
			return nil
		}, oldKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return "", nil, s.checkReuse(ctx, oldToken)
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrIdentityMismatch):
				return "", nil, err
			default:
				return "", nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}

		return newToken, rotated, nil
	}

	return "", nil, fmt.Errorf("%w: rotation contention", ErrStoreUnavailable)
}

// checkReuse resolves a missing refresh-token record against the
// superseded-token markers. A hit means a rotated token came back: the
// owner's sessions are revoked, the marker is consumed so a replay of
// the same dead token cannot keep killing re-established sessions, and
// ErrReuseDetected surfaces so callers can alert. A miss is a plain
// ErrNotFound.
func (s *Store) checkReuse(ctx context.Context, refreshToken string) error {
	data, err := s.redis.Get(ctx, s.reuseKey(refreshToken)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	marker, err := decodeReuseMarker(data)
	if err != nil {
		return ErrNotFound
	}

	s.log.Warn("superseded refresh token presented, revoking all sessions",
		zap.String("user_id", marker.UserID),
		zap.String("session_id", marker.SessionID),
	)

	if _, err := s.RevokeAll(ctx, marker.UserID); err != nil {
		return err
	}
	if err := s.redis.Del(ctx, s.reuseKey(refreshToken)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &ReuseError{UserID: marker.UserID, SessionID: marker.SessionID}
}

// RevokeOne deletes the record for refreshToken and its index entries.
// An absent token is a no-op.
func (s *Store) RevokeOne(ctx context.Context, refreshToken string) error {
	key := s.recordKey(refreshToken)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		// Corrupt record: remove the key, there is no index to unlink.
		if delErr := s.redis.Del(ctx, key).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, delErr)
		}
		return nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HDel(ctx, s.indexKey(sess.UserID), sess.SessionID)
		pipe.HDel(ctx, s.reverseKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// RevokeAll deletes every session for userID in one transactional batch
// keyed by a snapshot of the reverse index. The WATCH covers both hashes,
// so a rotation racing this call invalidates the transaction and the
// retry captures the rotated token instead of resurrecting it. Returns
// the number of sessions removed.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	reverseKey := s.reverseKey(userID)
	indexKey := s.indexKey(userID)

	for attempt := 0; attempt < rotateMaxRetries; attempt++ {
		var removed int

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			tokens, err := tx.HGetAll(ctx, reverseKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			recordKeys := make([]string, 0, len(tokens))
			for _, tok := range tokens {
				recordKeys = append(recordKeys, s.recordKey(tok))
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(recordKeys) > 0 {
					pipe.Del(ctx, recordKeys...)
				}
				pipe.Del(ctx, indexKey, reverseKey)
				return nil
			})
			if err != nil {
				return err
			}

			removed = len(tokens)
			return nil
		}, reverseKey, indexKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		return removed, nil
	}

	return 0, fmt.Errorf("%w: revoke-all contention", ErrStoreUnavailable)
}

// ListSessions returns the user's session index entries, newest first.
// The index is advisory: an entry whose refresh token has already been
// deleted or expired represents a logged-out session the sweeper has not
// pruned yet.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]*Session, error) {
	entries, err := s.redis.HGetAll(ctx, s.indexKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sessions := make([]*Session, 0, len(entries))
	for _, blob := range entries {
		sess, decErr := Decode([]byte(blob))
		if decErr != nil {
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastUsedAt.After(sessions[j].LastUsedAt)
	})

	return sessions, nil
}

// CleanupExpired sweeps every user's session index, removing entries
// whose LastUsedAt age exceeds the index TTL along with their refresh
// records, resolved through the reverse index rather than a token
// keyspace scan. Empty indexes are deleted outright. Returns the number
// of sessions removed.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.IndexTTL)
	pattern := s.cfg.Prefix + ":si:*"
	indexPrefix := s.cfg.Prefix + ":si:"

	var (
		cursor  uint64
		removed int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, indexKey := range keys {
			userID := strings.TrimPrefix(indexKey, indexPrefix)
			n, err := s.sweepUser(ctx, userID, cutoff)
			if err != nil {
				return removed, err
			}
			removed += n
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}

func (s *Store) sweepUser(ctx context.Context, userID string, cutoff time.Time) (int, error) {
	indexKey := s.indexKey(userID)
	reverseKey := s.reverseKey(userID)

	entries, err := s.redis.HGetAll(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var removed int
	for sessionID, blob := range entries {
		sess, decErr := Decode([]byte(blob))
		if decErr == nil && !sess.LastUsedAt.Before(cutoff) {
			continue
		}

		// Corrupt entries are swept along with the stale ones.
		tok, err := s.redis.HGet(ctx, reverseKey, sessionID).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, indexKey, sessionID)
			pipe.HDel(ctx, reverseKey, sessionID)
			if tok != "" {
				pipe.Del(ctx, s.recordKey(tok))
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		removed++
	}

	remaining, err := s.redis.HLen(ctx, indexKey).Result()
	if err != nil {
		return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if remaining == 0 {
		if err := s.redis.Del(ctx, indexKey, reverseKey).Err(); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return removed, nil
}
