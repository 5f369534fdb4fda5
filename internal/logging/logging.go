// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package logging provides the slog handlers and attribute helpers shared
// by every package in this module.
package logging

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// NoopHandler drops every record.
type NoopHandler struct{}

func (NoopHandler) Enabled(_ context.Context, _ slog.Level) bool  { return false }
func (NoopHandler) Handle(_ context.Context, _ slog.Record) error { return nil }
func (h NoopHandler) WithAttrs(_ []slog.Attr) slog.Handler        { return h }
func (h NoopHandler) WithGroup(_ string) slog.Handler             { return h }

// New returns a logger which correlates records with the active span.
// A nil handler is replaced with a NoopHandler.
func New(h slog.Handler) *slog.Logger {
	if h == nil {
		h = NoopHandler{}
	}
	return slog.New(NewTraceHandler(h))
}

// TraceHandler adds the trace and span ids of the span in the
// record context, if any, under an "otel" group.
type TraceHandler struct {
	slog slog.Handler
}

// NewTraceHandler wraps h.
func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{slog: h}
}

// Enabled implements the slog.Handler interface.
func (h *TraceHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.slog.Enabled(ctx, lvl)
}

// Handle implements the slog.Handler interface.
func (h *TraceHandler) Handle(ctx context.Context, record slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return h.slog.Handle(ctx, record)
	}

	r := record.Clone()
	r.AddAttrs(
		slog.Group(
			"otel",
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		),
	)
	return h.slog.Handle(ctx, r)
}

// WithAttrs implements the slog.Handler interface.
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewTraceHandler(h.slog.WithAttrs(attrs))
}

// WithGroup implements the slog.Handler interface.
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return NewTraceHandler(h.slog.WithGroup(name))
}

// Error returns an slog.Attr for an error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Source identifies the log group, stream or queue a batch came from.
func Source(s string) slog.Attr {
	return slog.String("source", s)
}

// Destination identifies a configured collector by name.
func Destination(name string) slog.Attr {
	return slog.String("destination", name)
}

// URL returns an slog.Attr for an outbound request URL.
func URL(u string) slog.Attr {
	return slog.String("url", u)
}

// StatusCode returns an slog.Attr for an HTTP response status.
func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

// Count returns an slog.Attr for a counter.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Latency returns an slog.Attr for a measured duration.
func Latency(d time.Duration) slog.Attr {
	return slog.Duration("latency", d)
}
