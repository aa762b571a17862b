package errsys

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TimestampFormat is ISO-8601 with millisecond precision and a numeric offset.
const TimestampFormat = "2006-01-02T15:04:05.000-07:00"

// Event is one structured, append-only error record.
type Event struct {
	TS       string         `json:"ts"`
	Level    Level          `json:"level"`
	Code     string         `json:"code"`
	Stage    string         `json:"stage"`
	DocID    string         `json:"doc_id"`
	File     string         `json:"file"`
	Page     *int           `json:"page"`
	RecordID *string        `json:"record_id"`
	Group    *string        `json:"group"`
	TxnType  *string        `json:"txn_type"`
	Message  string         `json:"message"`
	Meta     map[string]any `json:"meta"`
}

// Scope locates an event within a run. Zero values are emitted as null.
type Scope struct {
	DocID    string
	File     string
	Page     int
	RecordID string
	Group    string
	TxnType  string
}

// WithPage returns a copy of s narrowed to one page.
func (s Scope) WithPage(page int) Scope {
	s.Page = page
	return s
}

// WithRecord returns a copy of s narrowed to one record.
func (s Scope) WithRecord(id, group, txnType string) Scope {
	s.RecordID = id
	s.Group = group
	s.TxnType = txnType
	return s
}

type emitOptions struct {
	level Level
	meta  map[string]any
}

// Option customises a single emission.
type Option func(*emitOptions)

// WithLevel overrides the code's default level.
func WithLevel(l Level) Option {
	return func(o *emitOptions) { o.level = l }
}

// WithMeta adds a key to the event's meta map.
func WithMeta(key string, value any) Option {
	return func(o *emitOptions) { o.meta[key] = value }
}

// WithErr records the underlying failure in meta.
func WithErr(err error) Option {
	return func(o *emitOptions) {
		if err == nil {
			return
		}
		o.meta["exception"] = err.Error()
		o.meta["error_type"] = fmt.Sprintf("%T", err)
	}
}

// Logger builds events and hands them to a sink.
type Logger struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewLogger(sink Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = Discard
	}
	return &Logger{sink: sink, logger: logger, now: time.Now}
}

// Log emits exactly one event. Sink failures are reported through slog and never returned.
func (l *Logger) Log(ctx context.Context, c Code, message string, scope Scope, opts ...Option) Event {
	o := emitOptions{level: c.Level, meta: map[string]any{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.level == "" {
		o.level = LevelError
	}

	ev := Event{
		TS:       l.now().Format(TimestampFormat),
		Level:    o.level,
		Code:     c.ID,
		Stage:    c.Stage,
		DocID:    scope.DocID,
		File:     scope.File,
		Page:     intOrNil(scope.Page),
		RecordID: strOrNil(scope.RecordID),
		Group:    strOrNil(scope.Group),
		TxnType:  strOrNil(scope.TxnType),
		Message:  message,
		Meta:     o.meta,
	}

	if err := l.sink.Write(ctx, ev); err != nil {
		l.logger.Error("errsys.sink.write_failed", "code", c.ID, "doc_id", scope.DocID, "error", err)
	}
	return ev
}

func intOrNil(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func strOrNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
