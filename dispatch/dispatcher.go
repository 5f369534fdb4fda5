// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package dispatch relays decoded envelopes to collectors over HTTP.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/z5labs/otlpstdout/collector"
	"github.com/z5labs/otlpstdout/envelope"
	"github.com/z5labs/otlpstdout/internal/fixedpool"
	"github.com/z5labs/otlpstdout/internal/httpclient"
	"github.com/z5labs/otlpstdout/internal/logging"
	"github.com/z5labs/otlpstdout/internal/try"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorBody = 4 << 10

// StatusError is returned when a collector responds with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the [builtin.error] interface.
func (e StatusError) Error() string {
	return fmt.Sprintf("collector responded with status %d: %s", e.StatusCode, e.Body)
}

// Request is a single decoded envelope to relay.
type Request struct {
	// Source identifies where the envelope was read from, e.g. a
	// CloudWatch log group. It is matched against destination excludes.
	Source string
	Record envelope.Record
}

// Result is the outcome of relaying a [Request] to one destination.
type Result struct {
	Destination collector.Destination
	URL         string
	StatusCode  int

	// Skipped is set when the destination excludes the request source.
	// No attempt was made.
	Skipped bool
	Err     error
}

// Delivered reports whether at least one destination accepted the request.
func Delivered(results []Result) bool {
	for _, r := range results {
		if !r.Skipped && r.Err == nil {
			return true
		}
	}
	return false
}

// Attempted reports whether the request was sent to any destination.
func Attempted(results []Result) bool {
	for _, r := range results {
		if !r.Skipped {
			return true
		}
	}
	return false
}

type options struct {
	logHandler  slog.Handler
	client      *http.Client
	clientOpts  []httpclient.Option
	authOpts    []AuthOption
	concurrency int
}

// Option configures a [Dispatcher].
type Option func(*options)

// LogHandler configures the underlying [slog.Handler].
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// HTTPClient replaces the client built from [ClientOptions].
func HTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// ClientOptions configures the default http client.
func ClientOptions(opts ...httpclient.Option) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// AuthOptions configures how destination auth values are interpreted.
func AuthOptions(opts ...AuthOption) Option {
	return func(o *options) {
		o.authOpts = append(o.authOpts, opts...)
	}
}

// MaxConcurrency limits how many destinations are sent to at once.
// By default every destination is sent to at once.
func MaxConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// Dispatcher sends requests to every eligible destination in parallel.
type Dispatcher struct {
	log         *slog.Logger
	client      *http.Client
	authOpts    []AuthOption
	concurrency int
}

// New returns a [Dispatcher].
func New(opts ...Option) *Dispatcher {
	o := &options{
		logHandler: logging.NoopHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		clientOpts := append([]httpclient.Option{
			httpclient.Name("dispatch"),
			httpclient.LogHandler(o.logHandler),
		}, o.clientOpts...)
		client = httpclient.New(clientOpts...)
	}

	return &Dispatcher{
		log:         logging.New(o.logHandler),
		client:      client,
		authOpts:    append([]AuthOption{AuthLogHandler(o.logHandler)}, o.authOpts...),
		concurrency: o.concurrency,
	}
}

// Dispatch sends req to every destination which does not exclude its
// source and waits for all of them. Results are returned in the same
// order as dests. One destination failing never affects another.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, dests []collector.Destination) []Result {
	spanCtx, span := otel.Tracer("dispatch").Start(ctx, "Dispatcher.Dispatch", trace.WithAttributes(
		attribute.String("forwarder.source", req.Source),
		attribute.Int("dispatch.destinations.count", len(dests)),
	))
	defer span.End()

	results := make([]Result, len(dests))
	tasks := make([]fixedpool.Task[Result], 0, len(dests))
	indexes := make([]int, 0, len(dests))
	for i, dest := range dests {
		if dest.Excludes(req.Source) {
			d.log.DebugContext(
				spanCtx,
				"source excluded by destination",
				logging.Source(req.Source),
				logging.Destination(dest.Name),
			)
			results[i] = Result{Destination: dest, Skipped: true}
			continue
		}

		indexes = append(indexes, i)
		tasks = append(tasks, func(ctx context.Context) (Result, error) {
			return d.send(ctx, req.Record, dest), nil
		})
	}

	outcomes := fixedpool.Wait(spanCtx, d.concurrency, tasks...)
	for j, out := range outcomes {
		i := indexes[j]
		res := out.Value
		if out.Err != nil {
			res = Result{Destination: dests[i], Err: out.Err}
		}
		results[i] = res
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, rec envelope.Record, dest collector.Destination) (res Result) {
	spanCtx, span := otel.Tracer("dispatch").Start(ctx, "Dispatcher.send", trace.WithAttributes(
		attribute.String("collector.name", dest.Name),
	))
	defer span.End()

	res.Destination = dest
	defer func() {
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}()

	u, err := dest.SignalURL(rec.Endpoint)
	if err != nil {
		d.log.ErrorContext(spanCtx, "failed to build collector url", logging.Destination(dest.Name), logging.Error(err))
		res.Err = err
		return res
	}
	res.URL = u
	span.SetAttributes(attribute.String("url.full", u))

	req, err := http.NewRequestWithContext(spanCtx, rec.Method, u, bytes.NewReader(rec.Payload))
	if err != nil {
		res.Err = err
		return res
	}
	for k, v := range rec.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", rec.ContentType.String())
	if rec.ContentEncoding != "" {
		req.Header.Set("Content-Encoding", rec.ContentEncoding)
	}

	err = ParseAuth(dest.Auth, d.authOpts...).Authenticate(spanCtx, req, rec.Payload)
	if err != nil {
		d.log.ErrorContext(spanCtx, "failed to authenticate request", logging.Destination(dest.Name), logging.Error(err))
		res.Err = err
		return res
	}

	start := time.Now()
	res.StatusCode, res.Err = d.do(req)
	span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	if res.Err != nil {
		d.log.ErrorContext(
			spanCtx,
			"failed to forward to collector",
			logging.Destination(dest.Name),
			logging.URL(u),
			logging.StatusCode(res.StatusCode),
			logging.Latency(time.Since(start)),
			logging.Error(res.Err),
		)
		return res
	}

	d.log.DebugContext(
		spanCtx,
		"forwarded to collector",
		logging.Destination(dest.Name),
		logging.URL(u),
		logging.StatusCode(res.StatusCode),
		logging.Latency(time.Since(start)),
	)
	return res
}

func (d *Dispatcher) do(req *http.Request) (status int, err error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer try.Close(&err, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, err = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
