// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httpclient builds the http.Client used to deliver payloads to collectors.
package httpclient

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/z5labs/otlpstdout/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type circuitOptions struct {
	maxRequests uint32
	interval    time.Duration
	timeout     time.Duration
	tripCount   uint32
}

func withCircuitOption(f func(*circuitOptions)) Option {
	return func(o *options) {
		if o.co == nil {
			o.co = &circuitOptions{tripCount: 5}
		}
		f(o.co)
	}
}

// HalfOpenRequests is the number of requests let through while a circuit is half open.
func HalfOpenRequests(n uint32) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.maxRequests = n
	})
}

// OpenStateTimeout is how long a circuit stays open before going half open.
func OpenStateTimeout(d time.Duration) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.timeout = d
	})
}

// CountResetInterval is the cyclic period in which a closed circuit clears its counts.
func CountResetInterval(d time.Duration) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.interval = d
	})
}

// TripAfter opens a host's circuit after n consecutive failures.
func TripAfter(n uint32) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.tripCount = n
	})
}

type retryOptions struct {
	maxRetries int
	waitMin    time.Duration
	waitMax    time.Duration
}

// MaxRetries enables retrying failed requests up to n times.
// Retries are disabled by default.
func MaxRetries(n int) Option {
	return func(o *options) {
		if n <= 0 {
			o.ro = nil
			return
		}
		if o.ro == nil {
			o.ro = &retryOptions{waitMin: 100 * time.Millisecond, waitMax: 2 * time.Second}
		}
		o.ro.maxRetries = n
	}
}

// RetryWait bounds the backoff between retries.
func RetryWait(min, max time.Duration) Option {
	return func(o *options) {
		if o.ro == nil {
			return
		}
		o.ro.waitMin = min
		o.ro.waitMax = max
	}
}

type options struct {
	timeout time.Duration
	rt      http.RoundTripper

	name       string
	logHandler slog.Handler

	co *circuitOptions
	ro *retryOptions
}

// Option configures the client returned by New.
type Option func(*options)

// Name labels the client in logs and circuit breaker names.
func Name(s string) Option {
	return func(o *options) {
		o.name = s
	}
}

// RoundTripper replaces http.DefaultTransport as the base transport.
func RoundTripper(rt http.RoundTripper) Option {
	return func(o *options) {
		o.rt = rt
	}
}

// Timeout provides a global timeout value for the http.Client.
func Timeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// LogHandler sets the slog.Handler requests are logged to.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// New returns an http.Client whose transport is, from the outside in:
// optional retries, per-host circuit breaking, request logging and
// OpenTelemetry instrumentation.
func New(opts ...Option) *http.Client {
	o := &options{
		rt:         http.DefaultTransport,
		logHandler: logging.NoopHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := logging.New(o.logHandler)
	if o.name != "" {
		logger = logger.With(slog.String("http_client", o.name))
	}

	var rt http.RoundTripper = otelhttp.NewTransport(o.rt)
	rt = &logRoundTripper{
		base: rt,
		log:  logger,
	}

	if o.co != nil {
		rt = &circuitRoundTripper{
			base:     rt,
			log:      logger,
			name:     o.name,
			co:       *o.co,
			breakers: make(map[string]*gobreaker.CircuitBreaker),
		}
	}

	if o.ro == nil {
		return &http.Client{
			Timeout:   o.timeout,
			Transport: rt,
		}
	}

	ro := o.ro
	rc := retryablehttp.Client{
		HTTPClient: &http.Client{
			Timeout:   o.timeout,
			Transport: rt,
		},
		Logger:       nil,
		RetryWaitMin: ro.waitMin,
		RetryWaitMax: ro.waitMax,
		RetryMax:     ro.maxRetries,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	return rc.StandardClient()
}

type logRoundTripper struct {
	base http.RoundTripper
	log  *slog.Logger
}

func (rt *logRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		rt.log.WarnContext(
			ctx,
			"request failed",
			logging.URL(req.URL.String()),
			logging.Latency(time.Since(start)),
			logging.Error(err),
		)
		return nil, err
	}
	rt.log.DebugContext(
		ctx,
		"response received",
		logging.URL(req.URL.String()),
		logging.StatusCode(resp.StatusCode),
		logging.Latency(time.Since(start)),
	)
	return resp, nil
}

type serverError struct {
	resp *http.Response
}

func (e serverError) Error() string {
	return e.resp.Status
}

type circuitRoundTripper struct {
	base http.RoundTripper
	log  *slog.Logger
	name string
	co   circuitOptions

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func (rt *circuitRoundTripper) breaker(host string) *gobreaker.CircuitBreaker {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	cb, ok := rt.breakers[host]
	if ok {
		return cb
	}

	co := rt.co
	log := rt.log.With(slog.String("host", host))
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        rt.name + ":" + host,
		MaxRequests: co.maxRequests,
		Interval:    co.interval,
		Timeout:     co.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= co.tripCount
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				log.Error("circuit has been opened")
			case gobreaker.StateHalfOpen:
				log.Warn(
					"circuit is now half open and letting some requests through",
					slog.Uint64("max_requests_allowed_through", uint64(co.maxRequests)),
				)
			case gobreaker.StateClosed:
				log.Info("circuit has been closed")
			}
		},
	})
	rt.breakers[host] = cb
	return cb
}

func (rt *circuitRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cb := rt.breaker(req.URL.Host)
	v, err := cb.Execute(func() (any, error) {
		resp, err := rt.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, serverError{resp: resp}
		}
		return resp, nil
	})

	var serr serverError
	if errors.As(err, &serr) {
		return serr.resp, nil
	}
	if err != nil {
		return nil, err
	}
	return v.(*http.Response), nil
}
