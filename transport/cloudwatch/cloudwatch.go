// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package cloudwatch forwards envelopes delivered by a CloudWatch Logs
// subscription filter.
package cloudwatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/z5labs/otlpstdout/forwarder"
	"github.com/z5labs/otlpstdout/internal/logging"
	"github.com/z5labs/otlpstdout/transport"

	"github.com/aws/aws-lambda-go/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MessageTypeControl marks the messages CloudWatch Logs sends to check
// that the destination is reachable.
const MessageTypeControl = "CONTROL_MESSAGE"

// InvalidEventError is returned when the awslogs payload cannot be
// decoded.
type InvalidEventError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e InvalidEventError) Error() string {
	return fmt.Sprintf("invalid cloudwatch logs event: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidEventError) Unwrap() error {
	return e.Cause
}

type options struct {
	logHandler slog.Handler
}

// Option configures a [Handler].
type Option func(*options)

// LogHandler configures the underlying [slog.Handler].
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Handler is a Lambda handler for CloudWatch Logs subscription events.
type Handler struct {
	log *slog.Logger
	fwd transport.Forwarder
}

// NewHandler returns a [Handler].
func NewHandler(fwd transport.Forwarder, opts ...Option) *Handler {
	o := &options{
		logHandler: logging.NoopHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Handler{
		log: logging.New(o.logHandler),
		fwd: fwd,
	}
}

// Handle decodes the base64 gzipped awslogs payload and forwards each log
// event message as one record. The log group is the batch source.
func (h *Handler) Handle(ctx context.Context, ev events.CloudwatchLogsEvent) error {
	spanCtx, span := otel.Tracer("cloudwatch").Start(ctx, "Handler.Handle")
	defer span.End()

	data, err := ev.AWSLogs.Parse()
	if err != nil {
		h.log.ErrorContext(spanCtx, "failed to parse cloudwatch logs event", logging.Error(err))
		span.RecordError(err)
		return InvalidEventError{Cause: err}
	}

	span.SetAttributes(
		attribute.String("cloudwatch.log_group", data.LogGroup),
		attribute.String("cloudwatch.log_stream", data.LogStream),
		attribute.Int("forwarder.events.count", len(data.LogEvents)),
	)
	if data.MessageType == MessageTypeControl {
		h.log.DebugContext(spanCtx, "ignoring control message")
		return nil
	}

	records := make([][]byte, len(data.LogEvents))
	for i, ev := range data.LogEvents {
		records[i] = []byte(ev.Message)
	}

	_, err = h.fwd.Forward(spanCtx, forwarder.Batch{
		Source:  data.LogGroup,
		Records: records,
	})
	if err != nil {
		span.RecordError(err)
		span.AddEvent("forward failed", trace.WithAttributes(attribute.String("cloudwatch.log_group", data.LogGroup)))
		return err
	}
	return nil
}
