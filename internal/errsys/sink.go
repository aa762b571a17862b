package errsys

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Sink receives emitted events. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Write(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// JSONLines writes one JSON object per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLines{enc: enc}
}

func (s *JSONLines) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(ev)
}

// SlogSink mirrors events into a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Write(ctx context.Context, ev Event) error {
	attrs := []any{
		"code", ev.Code,
		"stage", ev.Stage,
		"doc_id", ev.DocID,
		"file", ev.File,
	}
	if ev.Page != nil {
		attrs = append(attrs, "page", *ev.Page)
	}
	if ev.RecordID != nil {
		attrs = append(attrs, "record_id", *ev.RecordID)
	}
	if len(ev.Meta) > 0 {
		attrs = append(attrs, "meta", ev.Meta)
	}
	s.logger.Log(ctx, slogLevel(ev.Level), ev.Message, attrs...)
	return nil
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Write(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps events in emission order. Used by tests and the gRPC service.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Write(_ context.Context, ev Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

// Events returns a snapshot.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByCode returns events with the given code identifier.
func (m *Memory) ByCode(id string) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if ev.Code == id {
			out = append(out, ev)
		}
	}
	return out
}
