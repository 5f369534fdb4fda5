// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kinesis forwards envelopes written to a Kinesis data stream.
package kinesis

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/z5labs/otlpstdout/forwarder"
	"github.com/z5labs/otlpstdout/internal/logging"
	"github.com/z5labs/otlpstdout/transport"

	"github.com/aws/aws-lambda-go/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

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

// Handler is a Lambda handler for Kinesis stream events.
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

type line struct {
	seq string
}

// Handle forwards every line of every record data blob, grouping records
// by stream. Kinesis records whose envelopes failed at every destination
// are returned as batch item failures so that only they are retried. An
// error is returned only when a whole stream batch could not be forwarded.
func (h *Handler) Handle(ctx context.Context, ev events.KinesisEvent) (events.KinesisEventResponse, error) {
	spanCtx, span := otel.Tracer("kinesis").Start(ctx, "Handler.Handle", trace.WithAttributes(
		attribute.Int("forwarder.events.count", len(ev.Records)),
	))
	defer span.End()

	var order []string
	batches := make(map[string]*forwarder.Batch)
	lines := make(map[string][]line)
	for _, rec := range ev.Records {
		source := StreamName(rec.EventSourceArn)
		b, ok := batches[source]
		if !ok {
			b = &forwarder.Batch{Source: source}
			batches[source] = b
			order = append(order, source)
		}

		for _, l := range bytes.Split(rec.Kinesis.Data, []byte("\n")) {
			if len(bytes.TrimSpace(l)) == 0 {
				continue
			}
			b.Records = append(b.Records, l)
			lines[source] = append(lines[source], line{seq: rec.Kinesis.SequenceNumber})
		}
	}

	var resp events.KinesisEventResponse
	failed := make(map[string]struct{})
	for _, source := range order {
		report, err := h.fwd.Forward(spanCtx, *batches[source])

		var rerr forwarder.ResolveError
		if errors.As(err, &rerr) {
			span.RecordError(err)
			return resp, err
		}
		if err != nil {
			h.log.WarnContext(spanCtx, "reporting failed records for retry", logging.Source(source), logging.Error(err))
		}

		for i, outcome := range report.Outcomes {
			if !outcome.Retryable() {
				continue
			}
			seq := lines[source][i].seq
			if _, ok := failed[seq]; ok {
				continue
			}
			failed[seq] = struct{}{}
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.KinesisBatchItemFailure{
				ItemIdentifier: seq,
			})
		}
	}

	span.SetAttributes(attribute.Int("kinesis.batch_item_failures.count", len(resp.BatchItemFailures)))
	return resp, nil
}

// StreamName extracts the stream name from a Kinesis stream ARN, e.g.
// "arn:aws:kinesis:us-east-1:123456789012:stream/otlp" becomes "otlp".
// Any other value is returned as is.
func StreamName(arn string) string {
	_, name, ok := strings.Cut(arn, ":stream/")
	if !ok {
		return arn
	}
	return name
}
