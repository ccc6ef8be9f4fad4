// Package analytics is the append-only auth event log consumed by the
// stats rollup. Event delivery is best-effort by contract: a failure to
// record an event must never fail the auth operation that produced it.
package analytics

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Canonical event names recorded by the auth core.
const (
	EventLogin        = "login"
	EventLoginFailed  = "login_failed"
	EventRegistration = "registration"
	EventLogout       = "logout"
	EventRefreshReuse = "refresh_reuse"
)

// EventTypeAuth groups all events emitted by this subsystem.
const EventTypeAuth = "auth"

// Event is one append-only analytics record.
type Event struct {
	UserID     string            `json:"user_id,omitempty"`
	Name       string            `json:"event_name"`
	Type       string            `json:"event_type"`
	Timestamp  time.Time         `json:"timestamp"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Sink receives emitted events.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) error { return nil }

// JSONWriterSink writes one JSON object per line, for log shipping.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	_, err = s.writer.Write([]byte("\n"))
	return err
}
