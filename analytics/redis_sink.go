package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable indicates the event log backend is unreachable.
var ErrStoreUnavailable = errors.New("analytics store unavailable")

// DefaultRetention bounds how far back the Redis event log is kept.
// Stats timeframes top out at a month.
const DefaultRetention = 35 * 24 * time.Hour

// RedisSink appends events to per-name sorted sets scored by timestamp,
// and serves the time-windowed reads behind the stats rollup. Writes
// trim anything past the retention horizon.
type RedisSink struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedisSink creates a sink under the given key prefix.
func NewRedisSink(client redis.UniversalClient, prefix string, retention time.Duration, clock func() time.Time) *RedisSink {
	if prefix == "" {
		prefix = "tv"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisSink{
		redis:     client,
		prefix:    prefix,
		retention: retention,
		now:       clock,
	}
}

func (s *RedisSink) key(eventName string) string {
	return s.prefix + ":ev:" + eventName
}

// Emit appends one event and trims the horizon.
func (s *RedisSink) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := s.key(event.Name)
	horizon := s.now().Add(-s.retention)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(event.Timestamp.Unix()),
			Member: data,
		})
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(horizon.Unix(), 10))
		pipe.Expire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// CountSince returns the number of events with the given name recorded
// at or after since.
func (s *RedisSink) CountSince(ctx context.Context, eventName string, since time.Time) (int64, error) {
	count, err := s.redis.ZCount(
		ctx,
		s.key(eventName),
		strconv.FormatInt(since.Unix(), 10),
		"+inf",
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// UniqueUsersSince returns the number of distinct user IDs across the
// named events recorded at or after since.
func (s *RedisSink) UniqueUsersSince(ctx context.Context, eventName string, since time.Time) (int64, error) {
	members, err := s.redis.ZRangeByScore(ctx, s.key(eventName), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	seen := make(map[string]struct{}, len(members))
	for _, member := range members {
		var event Event
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			continue
		}
		if event.UserID != "" {
			seen[event.UserID] = struct{}{}
		}
	}

	return int64(len(seen)), nil
}
