package logging

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"stationd/core/events"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSink describes rotation parameters for an on-disk log destination,
// mirroring the fields operators expect to set for a long-running daemon.
type FileSink struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup configures the standard library logger to emit structured JSON and
// returns the underlying slog.Logger. All log lines include the service
// name and environment when provided. When sink is non-nil, logs are
// rotated to disk via lumberjack instead of (in addition to referencing)
// stdout.
func Setup(service, env string, sink *FileSink) *slog.Logger {
	var out io.Writer = os.Stdout
	if sink != nil && sink.Path != "" {
		out = &lumberjack.Logger{
			Filename:   sink.Path,
			MaxSize:    orDefault(sink.MaxSizeMB, 100),
			MaxBackups: sink.MaxBackups,
			MaxAge:     sink.MaxAgeDays,
			Compress:   sink.Compress,
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: false,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			default:
				return attr
			}
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// EventLogger implements events.Emitter by flattening every emitted event
// into a structured log line. Events that don't implement events.Recorder
// are logged with just their type.
type EventLogger struct {
	Logger *slog.Logger
}

// NewEventEmitter builds an EventLogger over the given slog.Logger.
func NewEventEmitter(logger *slog.Logger) *EventLogger {
	return &EventLogger{Logger: logger}
}

// Emit implements events.Emitter.
func (l *EventLogger) Emit(evt events.Event) {
	if l == nil || l.Logger == nil {
		return
	}
	rec, ok := evt.(events.Recorder)
	if !ok {
		l.Logger.Info("event", "type", evt.EventType())
		return
	}
	record := rec.Record()
	attrs := make([]slog.Attr, 0, 1+len(record.Attributes))
	attrs = append(attrs, slog.String("type", record.Type))
	for k, v := range record.Attributes {
		attrs = append(attrs, MaskField(k, v))
	}
	l.Logger.LogAttrs(context.Background(), slog.LevelInfo, "event", attrs...)
}
