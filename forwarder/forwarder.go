// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package forwarder implements the decode, resolve and dispatch pipeline
// which relays envelopes read from a log transport to OTLP collectors.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/z5labs/otlpstdout/collector"
	"github.com/z5labs/otlpstdout/compact"
	"github.com/z5labs/otlpstdout/dispatch"
	"github.com/z5labs/otlpstdout/envelope"
	"github.com/z5labs/otlpstdout/internal/fixedpool"
	"github.com/z5labs/otlpstdout/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Batch is a group of raw records read from one source, e.g. the log
// events of a single CloudWatch Logs subscription delivery.
type Batch struct {
	// Source is the identity matched against destination excludes.
	Source  string
	Records [][]byte
}

// Outcome classifies what happened to a single record of a [Batch].
type Outcome int

const (
	// OutcomeSkipped records are not envelopes, e.g. ordinary log lines.
	OutcomeSkipped Outcome = iota

	// OutcomeDecodeFailure records carry the marker but are malformed.
	OutcomeDecodeFailure

	// OutcomeExcluded records were excluded by every destination.
	OutcomeExcluded

	// OutcomeDelivered records were accepted by at least one destination.
	OutcomeDelivered

	// OutcomeFailed records were rejected by every destination they
	// were sent to.
	OutcomeFailed
)

// Retryable reports whether forwarding the record again could succeed.
func (o Outcome) Retryable() bool {
	return o == OutcomeFailed
}

// String implements the [fmt.Stringer] interface.
func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDecodeFailure:
		return "decode_failure"
	case OutcomeExcluded:
		return "excluded"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Report summarizes a [Forwarder.Forward] call.
type Report struct {
	Received       int
	Decoded        int
	DecodeFailures int
	Skipped        int
	Excluded       int
	Delivered      int
	Failed         int

	// Outcomes has one entry per record of the batch, in order.
	Outcomes []Outcome
}

// ResolveError is returned when no destination could be resolved.
type ResolveError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ResolveError) Error() string {
	return fmt.Sprintf("failed to resolve collector destinations: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ResolveError) Unwrap() error {
	return e.Cause
}

// ErrUndelivered is returned when a batch had records to send and every
// one of them failed at every destination.
var ErrUndelivered = errors.New("all collectors failed")

// Resolver supplies the current destinations.
type Resolver interface {
	Resolve(context.Context) ([]collector.Destination, error)
}

// Dispatcher relays a single request to a set of destinations.
type Dispatcher interface {
	Dispatch(context.Context, dispatch.Request, []collector.Destination) []dispatch.Result
}

type options struct {
	logHandler slog.Handler
	decoder    *envelope.Decoder
	compact     bool
	level       int
	meter       metric.Meter
	concurrency int
}

// Option configures a [Forwarder].
type Option func(*options)

// LogHandler configures the underlying [slog.Handler].
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Decoder replaces the default [envelope.Decoder].
func Decoder(d *envelope.Decoder) Option {
	return func(o *options) {
		o.decoder = d
	}
}

// Compact merges the trace records of a batch before dispatching them,
// compressing merged payloads at level.
func Compact(level int) Option {
	return func(o *options) {
		o.compact = true
		o.level = level
	}
}

// MaxConcurrency bounds how many records of a batch are dispatched at
// once. By default every record is dispatched at the same time.
func MaxConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// Meter replaces the global meter used for record counters.
func Meter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// Forwarder decodes batches of records and relays every envelope to
// every destination that does not exclude the batch source.
type Forwarder struct {
	log        *slog.Logger
	decoder    *envelope.Decoder
	resolver   Resolver
	dispatcher Dispatcher
	compact     bool
	level       int
	concurrency int
	counters    *counters
}

// New returns a [Forwarder].
func New(resolver Resolver, dispatcher Dispatcher, opts ...Option) *Forwarder {
	o := &options{
		logHandler: logging.NoopHandler{},
		level:      envelope.DefaultCompressionLevel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.decoder == nil {
		o.decoder = envelope.NewDecoder()
	}
	if o.meter == nil {
		o.meter = otel.Meter("forwarder")
	}

	return &Forwarder{
		log:         logging.New(o.logHandler),
		decoder:     o.decoder,
		resolver:    resolver,
		dispatcher:  dispatcher,
		compact:     o.compact,
		level:       o.level,
		concurrency: o.concurrency,
		counters:    newCounters(o.meter),
	}
}

type decoded struct {
	index  int
	record envelope.Record
}

// Forward relays every envelope in b. Malformed and non-envelope records
// are counted and skipped. An error is only returned if no destination
// could be resolved, in which case nothing was sent, or if every record
// that was sent failed everywhere.
func (f *Forwarder) Forward(ctx context.Context, b Batch) (Report, error) {
	spanCtx, span := otel.Tracer("forwarder").Start(ctx, "Forwarder.Forward", trace.WithAttributes(
		attribute.String("forwarder.source", b.Source),
		attribute.Int("forwarder.events.count", len(b.Records)),
	))
	defer span.End()

	report := Report{
		Received: len(b.Records),
		Outcomes: make([]Outcome, len(b.Records)),
	}
	defer func() {
		f.counters.record(spanCtx, b.Source, report)
		span.SetAttributes(
			attribute.Int("forwarder.records.delivered", report.Delivered),
			attribute.Int("forwarder.records.failed", report.Failed),
			attribute.Int("forwarder.records.decode_failures", report.DecodeFailures),
		)
	}()

	records := f.decode(spanCtx, b, &report)
	if len(records) == 0 {
		f.log.DebugContext(spanCtx, "no envelopes in batch", logging.Source(b.Source), logging.Count("num_of_records", len(b.Records)))
		return report, nil
	}

	dests, err := f.resolver.Resolve(spanCtx)
	if err != nil {
		f.log.ErrorContext(spanCtx, "failed to resolve collector destinations", logging.Error(err))
		for _, rec := range records {
			report.Outcomes[rec.index] = OutcomeFailed
		}
		report.Failed = len(records)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve collector destinations")
		return report, ResolveError{Cause: err}
	}

	reqs := f.requests(spanCtx, b.Source, records)
	tasks := make([]fixedpool.Task[[]dispatch.Result], len(reqs))
	for i, req := range reqs {
		tasks[i] = func(ctx context.Context) ([]dispatch.Result, error) {
			return f.dispatcher.Dispatch(ctx, dispatch.Request{Source: b.Source, Record: req.record}, dests), nil
		}
	}
	dispatched := fixedpool.Wait(spanCtx, f.concurrency, tasks...)

	attempted := 0
	var lastErr error
	for i, req := range reqs {
		results := dispatched[i].Value

		outcome := OutcomeExcluded
		switch {
		case dispatched[i].Err != nil:
			outcome = OutcomeFailed
		case dispatch.Delivered(results):
			outcome = OutcomeDelivered
		case dispatch.Attempted(results):
			outcome = OutcomeFailed
		}
		if outcome != OutcomeExcluded {
			attempted += len(req.indexes)
		}

		for _, i := range req.indexes {
			report.Outcomes[i] = outcome
			switch outcome {
			case OutcomeDelivered:
				report.Delivered++
			case OutcomeFailed:
				report.Failed++
			case OutcomeExcluded:
				report.Excluded++
			}
		}
		if outcome == OutcomeFailed {
			lastErr = dispatched[i].Err
			if lastErr == nil {
				lastErr = lastError(results)
			}
			f.log.ErrorContext(spanCtx, "all collectors failed", logging.Source(b.Source), logging.Error(lastErr))
		}
	}

	f.log.InfoContext(
		spanCtx,
		"forwarded batch",
		logging.Source(b.Source),
		logging.Count("received", report.Received),
		logging.Count("delivered", report.Delivered),
		logging.Count("failed", report.Failed),
		logging.Count("decode_failures", report.DecodeFailures),
		logging.Count("skipped", report.Skipped),
		logging.Count("excluded", report.Excluded),
	)

	if attempted > 0 && report.Delivered == 0 {
		err := fmt.Errorf("%w: last error: %w", ErrUndelivered, lastErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrUndelivered.Error())
		return report, err
	}
	return report, nil
}

func (f *Forwarder) decode(ctx context.Context, b Batch, report *Report) []decoded {
	records := make([]decoded, 0, len(b.Records))
	for i, line := range b.Records {
		rec, err := f.decoder.Decode(line)
		if errors.Is(err, envelope.ErrNotEnvelope) {
			report.Outcomes[i] = OutcomeSkipped
			report.Skipped++
			continue
		}
		if err != nil {
			f.log.WarnContext(ctx, "failed to decode envelope", logging.Source(b.Source), slog.Int("record_index", i), logging.Error(err))
			report.Outcomes[i] = OutcomeDecodeFailure
			report.DecodeFailures++
			continue
		}
		report.Decoded++
		records = append(records, decoded{index: i, record: rec})
	}
	return records
}

type request struct {
	record  envelope.Record
	indexes []int
}

func (f *Forwarder) requests(ctx context.Context, source string, records []decoded) []request {
	reqs := make([]request, len(records))
	for i, rec := range records {
		reqs[i] = request{record: rec.record, indexes: []int{rec.index}}
	}
	if !f.compact || len(records) < 2 {
		return reqs
	}

	recs := make([]envelope.Record, len(records))
	for i, rec := range records {
		recs[i] = rec.record
	}
	merged, err := compact.Merge(recs, compact.CompressionLevel(f.level))
	if err != nil {
		f.log.WarnContext(ctx, "failed to compact batch, sending records individually", logging.Source(source), logging.Error(err))
		return reqs
	}

	reqs = make([]request, len(merged))
	for i, m := range merged {
		indexes := make([]int, len(m.Indexes))
		for j, k := range m.Indexes {
			indexes[j] = records[k].index
		}
		reqs[i] = request{record: m.Record, indexes: indexes}
	}
	return reqs
}

func lastError(results []dispatch.Result) error {
	var last error
	for _, r := range results {
		if r.Err != nil {
			last = r.Err
		}
	}
	return last
}
