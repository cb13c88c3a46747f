// Package tracesink provides destinations for routing traces: structured
// logs, a SQLite history, and fan-out over several sinks.
package tracesink

import (
	"context"
	"log/slog"

	"github.com/germanamz/modelrouter/pkg/router"
)

var (
	_ router.TraceSink = (*Log)(nil)
	_ router.TraceSink = Multi(nil)
)

// Log writes each trace as one structured log record.
type Log struct {
	log   *slog.Logger
	level slog.Level
}

// NewLog creates a Log sink writing at level.
func NewLog(logger *slog.Logger, level slog.Level) *Log {
	return &Log{log: logger, level: level}
}

// Emit implements router.TraceSink.
func (l *Log) Emit(ctx context.Context, t *router.Trace) {
	if l.log == nil {
		return
	}

	l.log.Log(ctx, l.level, "router trace",
		"trace_id", t.ID(),
		"mode", string(t.Mode()),
		"reason", string(t.Reason()),
		"model", t.SelectedModel(),
		"fallbacks", t.FallbackChain(),
		"used_models", t.UsedModels(),
		"attachments", t.Attachments().Total,
		"audio_attachments", t.Attachments().Audio,
		"asr_provider", t.ASRProvider(),
	)
}

// Multi fans a trace out to every sink in order. Nil entries are skipped.
type Multi []router.TraceSink

// Emit implements router.TraceSink.
func (m Multi) Emit(ctx context.Context, t *router.Trace) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, t)
		}
	}
}
