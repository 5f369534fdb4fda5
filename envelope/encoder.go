// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package envelope

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/z5labs/otlpstdout/config"
	"github.com/z5labs/otlpstdout/internal/logging"
)

// Environment variables read by [NewEncoder].
const (
	EnvServiceName        = "OTEL_SERVICE_NAME"
	EnvLambdaFunctionName = "AWS_LAMBDA_FUNCTION_NAME"
	EnvEndpoint           = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvHeaders            = "OTEL_EXPORTER_OTLP_HEADERS"
	EnvCompression        = "OTEL_EXPORTER_OTLP_COMPRESSION"
	EnvCompressionLevel   = "OTLP_STDOUT_SPAN_EXPORTER_COMPRESSION_LEVEL"
)

// DefaultSource is used when no service name can be resolved.
const DefaultSource = "unknown-service"

// Signal is an OTLP signal type.
type Signal string

// Supported signals.
const (
	SignalTraces  Signal = "traces"
	SignalMetrics Signal = "metrics"
	SignalLogs    Signal = "logs"
)

// Path is the OTLP/HTTP path of the signal, e.g. "/v1/traces".
func (s Signal) Path() string {
	return "/v1/" + string(s)
}

// DefaultEndpoint is the endpoint used when nothing else is configured.
func (s Signal) DefaultEndpoint() string {
	return "http://localhost:4318" + s.Path()
}

func (s Signal) env(suffix string) string {
	return "OTEL_EXPORTER_OTLP_" + strings.ToUpper(string(s)) + "_" + suffix
}

// Payload is an already serialized OTLP export request.
type Payload struct {
	Body        []byte
	ContentType ContentType

	// Headers are the caller's request headers. A "content-encoding: gzip"
	// header marks Body as already compressed.
	Headers map[string]string

	// Endpoint is the URL the caller would have sent the payload to.
	Endpoint string
}

// InvalidPayloadError is returned when a JSON payload is not valid JSON.
type InvalidPayloadError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid payload: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidPayloadError) Unwrap() error {
	return e.Cause
}

// WriteError is returned when the envelope line could not be written.
type WriteError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e WriteError) Error() string {
	return fmt.Sprintf("failed to write envelope: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e WriteError) Unwrap() error {
	return e.Cause
}

type options struct {
	w          io.Writer
	logHandler slog.Handler
	marker     Marker

	serviceName string
	endpoint    string
	headers     map[string]string
	signal      Signal

	compress bool
	level    int
}

// Option configures an [Encoder].
type Option func(*options)

// Writer replaces os.Stdout as the destination of envelope lines.
func Writer(w io.Writer) Option {
	return func(o *options) {
		o.w = w
	}
}

// LogHandler sets where diagnostics, never envelopes, are logged.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Producer overrides the marker written into every envelope.
func Producer(name, version string) Option {
	return func(o *options) {
		o.marker = Marker{Name: name, Version: version}
	}
}

// ServiceName sets the envelope source. It takes precedence over
// OTEL_SERVICE_NAME and AWS_LAMBDA_FUNCTION_NAME.
func ServiceName(s string) Option {
	return func(o *options) {
		o.serviceName = s
	}
}

// Endpoint sets the endpoint used when neither the environment nor the
// payload provide one.
func Endpoint(s string) Option {
	return func(o *options) {
		o.endpoint = s
	}
}

// Headers adds headers to every envelope.
func Headers(h map[string]string) Option {
	return func(o *options) {
		o.headers = h
	}
}

// ForSignal selects which OTEL_EXPORTER_OTLP_<SIGNAL>_* variables are read
// and the default endpoint path. Traces are the default.
func ForSignal(s Signal) Option {
	return func(o *options) {
		o.signal = s
	}
}

// Compression enables gzip at the given level. A valid
// OTLP_STDOUT_SPAN_EXPORTER_COMPRESSION_LEVEL overrides level.
func Compression(level int) Option {
	return func(o *options) {
		o.compress = true
		o.level = level
	}
}

// Encoder writes payloads as envelope lines. It is safe for concurrent use
// and never interleaves lines.
type Encoder struct {
	log *slog.Logger

	mu sync.Mutex
	w  io.Writer

	marker   Marker
	source   string
	endpoint string
	fallback string
	headers  map[string]string
	compress bool
	level    int
}

// NewEncoder resolves the source, endpoint, headers and compression
// settings from opts and the environment.
func NewEncoder(ctx context.Context, opts ...Option) (*Encoder, error) {
	o := &options{
		w:          os.Stdout,
		logHandler: logging.NoopHandler{},
		marker:     Marker{Name: Name, Version: Version},
		signal:     SignalTraces,
		level:      DefaultCompressionLevel,
	}
	for _, opt := range opts {
		opt(o)
	}

	log := logging.New(o.logHandler)

	source, err := config.Read(ctx, config.Default(DefaultSource, config.Or(
		serviceNameOption(o.serviceName),
		config.Env(EnvServiceName),
		config.Env(EnvLambdaFunctionName),
	)))
	if err != nil {
		return nil, err
	}

	envEndpoint, err := config.Default("", config.Or(
		config.Env(o.signal.env("ENDPOINT")),
		config.Map(config.Env(EnvEndpoint), func(_ context.Context, base string) (string, error) {
			return strings.TrimRight(base, "/") + o.signal.Path(), nil
		}),
	)).Read(ctx)
	if err != nil {
		return nil, err
	}
	endpoint, _ := envEndpoint.Value()

	fallback := o.endpoint
	if fallback == "" {
		fallback = o.signal.DefaultEndpoint()
	}

	generalHeaders, err := config.Read(ctx, config.Default("", config.Env(EnvHeaders)))
	if err != nil {
		return nil, err
	}
	signalHeaders, err := config.Read(ctx, config.Default("", config.Env(o.signal.env("HEADERS"))))
	if err != nil {
		return nil, err
	}

	compression, err := config.Read(ctx, config.Default("", config.Or(
		config.Env(o.signal.env("COMPRESSION")),
		config.Env(EnvCompression),
	)))
	if err != nil {
		return nil, err
	}
	compress := o.compress
	switch strings.ToLower(strings.TrimSpace(compression)) {
	case EncodingGzip:
		compress = true
	case "none":
		compress = false
	}

	return &Encoder{
		log:      log,
		w:        o.w,
		marker:   o.marker,
		source:   source,
		endpoint: endpoint,
		fallback: fallback,
		headers:  normalizeHeaders(ParseHeaders(generalHeaders), ParseHeaders(signalHeaders), o.headers),
		compress: compress,
		level:    compressionLevel(ctx, log, o.level),
	}, nil
}

func serviceNameOption(s string) config.Reader[string] {
	if s == "" {
		return config.EmptyReader[string]()
	}
	return config.ReaderOf(s)
}

// compressionLevel prefers a valid level from the environment and
// falls back to def otherwise.
func compressionLevel(ctx context.Context, log *slog.Logger, def int) int {
	if def < 0 || def > 9 {
		def = DefaultCompressionLevel
	}

	val, err := config.Env(EnvCompressionLevel).Read(ctx)
	if err != nil {
		return def
	}
	s, ok := val.Value()
	if !ok {
		return def
	}

	level, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || level < 0 || level > 9 {
		log.WarnContext(
			ctx,
			"ignoring invalid compression level",
			slog.String("env", EnvCompressionLevel),
			slog.String("value", s),
			slog.Int("fallback", def),
		)
		return def
	}
	return level
}

// Source is the resolved service name.
func (e *Encoder) Source() string {
	return e.source
}

// Encode writes p as a single envelope line.
func (e *Encoder) Encode(ctx context.Context, p Payload) error {
	env, err := e.envelope(p)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to build envelope", logging.Error(err))
		return err
	}

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err = e.w.Write(b)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to write envelope", logging.Error(err))
		return WriteError{Cause: err}
	}
	return nil
}

func (e *Encoder) envelope(p Payload) (*Envelope, error) {
	headers := normalizeHeaders(e.headers, p.Headers)
	precompressed := isGzipEncoded(p.Headers)

	env := &Envelope{
		Marker:   e.marker.String(),
		Source:   e.source,
		Endpoint: e.resolveEndpoint(p.Endpoint),
		Method:   MethodPost,
		Headers:  headers,
	}

	switch p.ContentType {
	case ContentTypeJSON:
		body := p.Body
		if precompressed {
			var err error
			body, err = Decompress(body)
			if err != nil {
				return nil, err
			}
		}

		var compact bytes.Buffer
		err := json.Compact(&compact, body)
		if err != nil {
			return nil, InvalidPayloadError{Cause: err}
		}

		if !e.compress {
			env.ContentType = MediaTypeJSON
			env.Payload = compact.Bytes()
			return env, nil
		}

		gz, err := Compress(compact.Bytes(), e.level)
		if err != nil {
			return nil, err
		}
		env.ContentType = MediaTypeJSON
		env.ContentEncoding = EncodingGzip
		env.Payload = base64Payload(gz)
		env.Base64 = true
		return env, nil
	case ContentTypeProtobuf:
		body := p.Body
		if !precompressed && e.compress {
			var err error
			body, err = Compress(body, e.level)
			if err != nil {
				return nil, err
			}
		}
		if precompressed || e.compress {
			env.ContentEncoding = EncodingGzip
		}
		env.ContentType = MediaTypeProtobuf
		env.Payload = base64Payload(body)
		env.Base64 = true
		return env, nil
	default:
		return nil, UnsupportedContentTypeError{ContentType: p.ContentType.String()}
	}
}

func (e *Encoder) resolveEndpoint(hint string) string {
	if e.endpoint != "" {
		return e.endpoint
	}
	if hint != "" {
		return hint
	}
	return e.fallback
}

func isGzipEncoded(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "content-encoding") && strings.EqualFold(strings.TrimSpace(v), EncodingGzip) {
			return true
		}
	}
	return false
}

func base64Payload(b []byte) json.RawMessage {
	s := base64.StdEncoding.EncodeToString(b)
	raw, _ := json.Marshal(s)
	return raw
}

