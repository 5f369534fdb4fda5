// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package exporter provides OpenTelemetry span and metric exporters which
// write OTLP export requests to standard output as envelopes instead of
// sending them over the network.
package exporter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/z5labs/otlpstdout/envelope"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
)

type options struct {
	level   int
	encOpts []envelope.Option
}

// Option configures the exporter returned by [New].
type Option func(*options)

// WithCompressionLevel sets the gzip level, 0 through 9. Compression can be
// turned off entirely with OTEL_EXPORTER_OTLP_COMPRESSION=none.
func WithCompressionLevel(level int) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithEncoderOptions passes opts through to the underlying [envelope.Encoder].
func WithEncoderOptions(opts ...envelope.Option) Option {
	return func(o *options) {
		o.encOpts = append(o.encOpts, opts...)
	}
}

// New returns a span exporter. Spans are serialized by the standard
// otlptracehttp client, whose requests are intercepted and written as
// envelopes by an [envelope.Encoder].
func New(ctx context.Context, opts ...Option) (*otlptrace.Exporter, error) {
	enc, err := newEncoder(ctx, envelope.SignalTraces, opts)
	if err != nil {
		return nil, err
	}

	client := otlptracehttp.NewClient(
		otlptracehttp.WithHTTPClient(&http.Client{
			Transport: &Transport{Encoder: enc},
		}),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithCompression(otlptracehttp.NoCompression),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	)
	return otlptrace.New(ctx, client)
}

// NewMetrics returns a metric exporter which writes envelopes the same way
// [New] does, using the OTEL_EXPORTER_OTLP_METRICS_* variables.
func NewMetrics(ctx context.Context, opts ...Option) (*otlpmetrichttp.Exporter, error) {
	enc, err := newEncoder(ctx, envelope.SignalMetrics, opts)
	if err != nil {
		return nil, err
	}

	return otlpmetrichttp.New(
		ctx,
		otlpmetrichttp.WithHTTPClient(&http.Client{
			Transport: &Transport{Encoder: enc},
		}),
		otlpmetrichttp.WithInsecure(),
		otlpmetrichttp.WithCompression(otlpmetrichttp.NoCompression),
		otlpmetrichttp.WithRetry(otlpmetrichttp.RetryConfig{Enabled: false}),
	)
}

func newEncoder(ctx context.Context, signal envelope.Signal, opts []Option) (*envelope.Encoder, error) {
	o := &options{
		level: envelope.DefaultCompressionLevel,
	}
	for _, opt := range opts {
		opt(o)
	}

	encOpts := append([]envelope.Option{envelope.Compression(o.level), envelope.ForSignal(signal)}, o.encOpts...)
	return envelope.NewEncoder(ctx, encOpts...)
}

// Transport is an http.RoundTripper which writes each request body as an
// envelope and answers with an empty 200 response.
type Transport struct {
	Encoder *envelope.Encoder
}

// RoundTrip implements the http.RoundTripper interface.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	ct, err := envelope.ParseContentType(req.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		if strings.EqualFold(k, "User-Agent") {
			continue
		}
		headers[k] = req.Header.Get(k)
	}

	err = t.Encoder.Encode(req.Context(), envelope.Payload{
		Body:        body,
		ContentType: ct,
		Headers:     headers,
		Endpoint:    req.URL.String(),
	})
	if err != nil {
		return nil, err
	}

	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       http.NoBody,
		Request:    req,
	}, nil
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()

	var buf bytes.Buffer
	_, err := io.Copy(&buf, req.Body)
	return buf.Bytes(), err
}
