package logging

import (
	"context"
	"errors"
	"log/slog"
)

// MultiHandler sends each record to every sink that accepts its level:
// stdout, the journal and the ring buffer behind /api/logs/stream.
type MultiHandler struct {
	sinks []slog.Handler
}

// NewMultiHandler combines sinks, skipping nil ones. A single sink is
// returned as is.
func NewMultiHandler(sinks ...slog.Handler) slog.Handler {
	kept := make([]slog.Handler, 0, len(sinks))
	for _, h := range sinks {
		if h != nil {
			kept = append(kept, h)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return &MultiHandler{sinks: kept}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.sinks {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes r to every enabled sink. A failing sink does not stop the
// others; their errors are joined.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.sinks {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) derive(fn func(slog.Handler) slog.Handler) *MultiHandler {
	sinks := make([]slog.Handler, len(m.sinks))
	for i, h := range m.sinks {
		sinks[i] = fn(h)
	}
	return &MultiHandler{sinks: sinks}
}
