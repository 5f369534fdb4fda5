// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package logging

import (
	"context"
	"log/slog"
	"strings"
)

// Masked is the value every masked attribute is replaced with.
const Masked = "****"

// MaskHandler replaces the value of any attribute whose key matches
// one of its keys, case-insensitively, including attributes nested
// in groups and attributes attached with WithAttrs.
type MaskHandler struct {
	slog slog.Handler
	keys map[string]struct{}
}

// NewMaskHandler wraps h.
func NewMaskHandler(h slog.Handler, keys ...string) *MaskHandler {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[strings.ToLower(k)] = struct{}{}
	}
	return &MaskHandler{slog: h, keys: m}
}

// Enabled implements the slog.Handler interface.
func (h *MaskHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.slog.Enabled(ctx, lvl)
}

// Handle implements the slog.Handler interface.
func (h *MaskHandler) Handle(ctx context.Context, record slog.Record) error {
	if len(h.keys) == 0 {
		return h.slog.Handle(ctx, record)
	}

	nr := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(h.mask(a))
		return true
	})
	return h.slog.Handle(ctx, nr)
}

// WithAttrs implements the slog.Handler interface.
func (h *MaskHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.mask(a)
	}
	return &MaskHandler{slog: h.slog.WithAttrs(masked), keys: h.keys}
}

// WithGroup implements the slog.Handler interface.
func (h *MaskHandler) WithGroup(name string) slog.Handler {
	return &MaskHandler{slog: h.slog.WithGroup(name), keys: h.keys}
}

func (h *MaskHandler) mask(a slog.Attr) slog.Attr {
	if _, ok := h.keys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Masked)
	}

	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		return a
	}

	group := v.Group()
	masked := make([]any, len(group))
	for i, ga := range group {
		masked[i] = h.mask(ga)
	}
	return slog.Group(a.Key, masked...)
}
