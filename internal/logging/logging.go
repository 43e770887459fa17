// Package logging builds the process logger. Records go to stdout as text in
// development and as JSON elsewhere; when a rollbar token is configured,
// warnings and errors are reported to rollbar as well.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rollbar/rollbar-go"

	"github.com/kkkkikiki/quote-competition/internal/config"
)

// New returns a logger for cfg writing to w.
func New(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	if cfg.RollbarToken != "" {
		ConfigureRollbar(cfg)
		handler = NewRollbarHandler(handler, RollbarReporter{})
	}

	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigureRollbar sets the global rollbar client from cfg.
func ConfigureRollbar(cfg *config.AppConfig) {
	rollbar.SetToken(cfg.RollbarToken)
	rollbar.SetEnvironment(cfg.Environment)
	rollbar.SetCodeVersion(cfg.CodeVersion)
	if host, err := os.Hostname(); err == nil {
		rollbar.SetServerHost(host)
	}
	rollbar.SetEnabled(cfg.RollbarToken != "")
}

// Flush blocks until queued rollbar items are sent.
func Flush() {
	rollbar.Wait()
}

// Reporter receives warnings and errors forwarded by RollbarHandler
type Reporter interface {
	Report(ctx context.Context, level slog.Level, msg string, err error, extras map[string]interface{})
}

// RollbarReporter sends items through the global rollbar client
type RollbarReporter struct{}

func (RollbarReporter) Report(ctx context.Context, level slog.Level, msg string, err error, extras map[string]interface{}) {
	args := []interface{}{ctx, msg, extras}
	if err != nil {
		args = append(args, err)
	}
	if level >= slog.LevelError {
		rollbar.Error(args...)
		return
	}
	rollbar.Warning(args...)
}

// RollbarHandler passes every record to the wrapped handler and forwards
// records at warn level or above to a Reporter.
type RollbarHandler struct {
	next     slog.Handler
	reporter Reporter
	attrs    []slog.Attr
	group    string
}

// NewRollbarHandler wraps next.
func NewRollbarHandler(next slog.Handler, reporter Reporter) *RollbarHandler {
	return &RollbarHandler{next: next, reporter: reporter}
}

func (h *RollbarHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn || h.next.Enabled(ctx, level)
}

func (h *RollbarHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		extras := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
		var reported error
		collect := func(a slog.Attr) {
			if err, ok := a.Value.Any().(error); ok && reported == nil {
				reported = err
				return
			}
			extras[a.Key] = a.Value.Resolve().Any()
		}

		for _, a := range h.attrs {
			collect(a)
		}
		r.Attrs(func(a slog.Attr) bool {
			if h.group != "" {
				a.Key = h.group + "." + a.Key
			}
			collect(a)
			return true
		})

		h.reporter.Report(ctx, r.Level, r.Message, reported, extras)
	}

	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *RollbarHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *RollbarHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}
