// Package log provides slog plumbing for the SDK's diagnostics.
//
// The core reports anomalies (dead environment bindings, environments
// collected without Dispose) as slog warnings rather than hard failures.
// Recorder is an slog.Handler that captures those records so tests and
// development tooling can assert on them.
package log

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Recorder is an slog.Handler that keeps every record it handles.
type Recorder struct {
	opts  handlerConfig
	state *recorderState
	attrs []slog.Attr
}

type recorderState struct {
	mu      sync.Mutex
	records []slog.Record
}

// HandlerOption configures a Recorder.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	level slog.Level
}

func defaultHandlerConfig() handlerConfig {
	return handlerConfig{level: slog.LevelDebug}
}

// WithLevel sets the minimum level to record.
func WithLevel(level slog.Level) HandlerOption {
	return func(c *handlerConfig) {
		c.level = level
	}
}

// NewRecorder creates a Recorder with the given options.
func NewRecorder(opts ...HandlerOption) *Recorder {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Recorder{opts: cfg, state: &recorderState{}}
}

// Logger returns an slog.Logger backed by this recorder.
func (r *Recorder) Logger() *slog.Logger {
	return slog.New(r)
}

// Enabled reports whether the handler records at the given level.
func (r *Recorder) Enabled(_ context.Context, level slog.Level) bool {
	return level >= r.opts.level
}

// Handle stores the record.
func (r *Recorder) Handle(_ context.Context, record slog.Record) error {
	record.AddAttrs(r.attrs...)
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	r.state.records = append(r.state.records, record)
	return nil
}

// WithAttrs returns a handler that stamps the attributes onto every
// record while still collecting into the same recorder.
func (r *Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, r.attrs...), attrs...)
	return &Recorder{opts: r.opts, state: r.state, attrs: merged}
}

// WithGroup is accepted but not expanded; grouped attributes keep their
// leaf keys. The recorder exists for assertions, not for rendering.
func (r *Recorder) WithGroup(string) slog.Handler {
	return r
}

// Records returns a snapshot of the captured records.
func (r *Recorder) Records() []slog.Record {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return append([]slog.Record{}, r.state.records...)
}

// Contains reports whether any captured record at the given level has a
// message containing substr.
func (r *Recorder) Contains(level slog.Level, substr string) bool {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for _, rec := range r.state.records {
		if rec.Level == level && strings.Contains(rec.Message, substr) {
			return true
		}
	}
	return false
}
