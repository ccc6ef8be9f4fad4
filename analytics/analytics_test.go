package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestSink(t *testing.T) (*RedisSink, *miniredis.Miniredis, time.Time, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sink := NewRedisSink(rdb, "tv", 0, func() time.Time { return base })

	return sink, mr, base, func() {
		rdb.Close()
		mr.Close()
	}
}

func authEvent(userID, name string, at time.Time) Event {
	return Event{
		UserID:    userID,
		Name:      name,
		Type:      EventTypeAuth,
		Timestamp: at,
	}
}

func TestRedisSinkCountSince(t *testing.T) {
	sink, _, base, done := newTestSink(t)
	defer done()
	ctx := context.Background()

	events := []Event{
		authEvent("u1", EventLogin, base.Add(-48*time.Hour)),
		authEvent("u1", EventLogin, base.Add(-2*time.Hour)),
		authEvent("u2", EventLogin, base.Add(-time.Hour)),
		authEvent("u3", EventLoginFailed, base.Add(-time.Hour)),
	}
	for _, event := range events {
		if err := sink.Emit(ctx, event); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	count, err := sink.CountSince(ctx, EventLogin, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("countSince: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 logins inside the day, got %d", count)
	}

	count, err = sink.CountSince(ctx, EventLogin, base.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("countSince: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 logins inside three days, got %d", count)
	}
}

func TestRedisSinkUniqueUsersSince(t *testing.T) {
	sink, _, base, done := newTestSink(t)
	defer done()
	ctx := context.Background()

	events := []Event{
		authEvent("u1", EventLogin, base.Add(-3*time.Hour)),
		authEvent("u1", EventLogin, base.Add(-2*time.Hour)),
		authEvent("u2", EventLogin, base.Add(-time.Hour)),
	}
	for _, event := range events {
		if err := sink.Emit(ctx, event); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	unique, err := sink.UniqueUsersSince(ctx, EventLogin, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("uniqueUsersSince: %v", err)
	}
	if unique != 2 {
		t.Fatalf("expected 2 distinct users, got %d", unique)
	}
}

func TestRedisSinkCountSinceEmptyLog(t *testing.T) {
	sink, _, base, done := newTestSink(t)
	defer done()

	count, err := sink.CountSince(context.Background(), EventRegistration, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("countSince: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero events, got %d", count)
	}
}

func TestRedisSinkTrimsRetentionHorizon(t *testing.T) {
	sink, _, base, done := newTestSink(t)
	defer done()
	ctx := context.Background()

	if err := sink.Emit(ctx, authEvent("u1", EventLogin, base.Add(-40*24*time.Hour))); err != nil {
		t.Fatalf("emit old: %v", err)
	}
	if err := sink.Emit(ctx, authEvent("u2", EventLogin, base.Add(-time.Hour))); err != nil {
		t.Fatalf("emit recent: %v", err)
	}

	count, err := sink.CountSince(ctx, EventLogin, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("countSince: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the pre-horizon event trimmed, got %d entries", count)
	}
}

func TestRedisSinkStoreDown(t *testing.T) {
	sink, mr, base, done := newTestSink(t)
	defer done()

	mr.Close()

	if err := sink.Emit(context.Background(), authEvent("u1", EventLogin, base)); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := sink.CountSince(context.Background(), EventLogin, base); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	d := NewDispatcher(DispatcherConfig{BufferSize: 8}, sink)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), authEvent("u1", EventLogin, base))
	}
	d.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 delivered events, got %d", len(lines))
	}

	var event Event
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("decode delivered event: %v", err)
	}
	if event.Name != EventLogin || event.Type != EventTypeAuth {
		t.Fatalf("unexpected event payload: %+v", event)
	}
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(DispatcherConfig{}, NewJSONWriterSink(&buf))
	d.Close()

	// Must not panic or block.
	d.Emit(context.Background(), Event{Name: EventLogout, Type: EventTypeAuth})

	if buf.Len() != 0 {
		t.Fatalf("no events should be delivered after close, got %q", buf.String())
	}
}

func TestDispatcherNilSafe(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), Event{Name: EventLogin})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

type failingSink struct{}

func (failingSink) Emit(context.Context, Event) error {
	return errors.New("sink down")
}

func TestDispatcherSwallowsSinkErrors(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{BufferSize: 4}, failingSink{})

	d.Emit(context.Background(), Event{Name: EventLogin, Type: EventTypeAuth})
	d.Close()
	// Reaching here without a panic is the assertion; errors are logged.
}
