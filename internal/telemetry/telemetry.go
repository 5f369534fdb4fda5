// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package telemetry builds the tracer and meter providers the forwarder
// reports its own spans and record counters with.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/z5labs/otlpstdout"
	"github.com/z5labs/otlpstdout/config"
	"github.com/z5labs/otlpstdout/envelope"
	"github.com/z5labs/otlpstdout/exporter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter kinds accepted by [BuildSpanExporter] and [BuildMetricExporter].
const (
	ExporterNone     = "none"
	ExporterEnvelope = "envelope"
	ExporterStdout   = "stdout"
	ExporterOTLP     = "otlp"
)

// UnknownExporterError is returned for an unrecognized exporter kind.
type UnknownExporterError struct {
	Kind string
}

// Error implements the [builtin.error] interface.
func (e UnknownExporterError) Error() string {
	return fmt.Sprintf("unknown exporter: %q", e.Kind)
}

// BuildGrpcConn returns a Builder for a plaintext gRPC client connection
// to target, e.g. a collector sidecar on "localhost:4317".
func BuildGrpcConn(target config.Reader[string]) otlpstdout.Builder[*grpc.ClientConn] {
	return otlpstdout.BuilderFunc[*grpc.ClientConn](func(ctx context.Context) (*grpc.ClientConn, error) {
		return grpc.NewClient(
			config.Must(ctx, target),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	})
}

// BuildSpanExporter returns a Builder for the span exporter named by kind.
// A nil exporter is returned for [ExporterNone].
func BuildSpanExporter(
	kind config.Reader[string],
	w io.Writer,
	grpcConnB otlpstdout.Builder[*grpc.ClientConn],
) otlpstdout.Builder[sdktrace.SpanExporter] {
	return otlpstdout.BuilderFunc[sdktrace.SpanExporter](func(ctx context.Context) (sdktrace.SpanExporter, error) {
		k := strings.ToLower(strings.TrimSpace(config.MustOr(ctx, ExporterNone, kind)))
		switch k {
		case ExporterNone:
			return nil, nil
		case ExporterEnvelope:
			return exporter.New(ctx, exporter.WithEncoderOptions(envelope.Writer(w)))
		case ExporterStdout:
			return stdouttrace.New(stdouttrace.WithWriter(w))
		case ExporterOTLP:
			return otlptracegrpc.New(
				ctx,
				otlptracegrpc.WithGRPCConn(otlpstdout.MustBuild(ctx, grpcConnB)),
			)
		default:
			return nil, UnknownExporterError{Kind: k}
		}
	})
}

// BuildResource returns a Builder for the default resource with the
// service name set.
func BuildResource(serviceName config.Reader[string]) otlpstdout.Builder[*resource.Resource] {
	return otlpstdout.BuilderFunc[*resource.Resource](func(ctx context.Context) (*resource.Resource, error) {
		return resource.Merge(
			resource.Default(),
			resource.NewSchemaless(attribute.String("service.name", config.Must(ctx, serviceName))),
		)
	})
}

// BuildTracerProvider returns a Builder for a tracer provider exporting
// through a batch span processor. A noop provider is built if there is no
// exporter.
func BuildTracerProvider(
	resourceB otlpstdout.Builder[*resource.Resource],
	exporterB otlpstdout.Builder[sdktrace.SpanExporter],
) otlpstdout.Builder[trace.TracerProvider] {
	return otlpstdout.BuilderFunc[trace.TracerProvider](func(ctx context.Context) (trace.TracerProvider, error) {
		exp := otlpstdout.MustBuild(ctx, exporterB)
		if exp == nil {
			return noop.NewTracerProvider(), nil
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(otlpstdout.MustBuild(ctx, resourceB)),
			sdktrace.WithBatcher(exp),
		)
		return tp, nil
	})
}

// BuildMetricExporter returns a Builder for the metric exporter named by
// kind. A nil exporter is returned for [ExporterNone].
func BuildMetricExporter(
	kind config.Reader[string],
	w io.Writer,
	grpcConnB otlpstdout.Builder[*grpc.ClientConn],
) otlpstdout.Builder[sdkmetric.Exporter] {
	return otlpstdout.BuilderFunc[sdkmetric.Exporter](func(ctx context.Context) (sdkmetric.Exporter, error) {
		k := strings.ToLower(strings.TrimSpace(config.MustOr(ctx, ExporterNone, kind)))
		switch k {
		case ExporterNone:
			return nil, nil
		case ExporterEnvelope:
			return exporter.NewMetrics(ctx, exporter.WithEncoderOptions(envelope.Writer(w)))
		case ExporterStdout:
			return stdoutmetric.New(stdoutmetric.WithWriter(w))
		case ExporterOTLP:
			return otlpmetricgrpc.New(
				ctx,
				otlpmetricgrpc.WithGRPCConn(otlpstdout.MustBuild(ctx, grpcConnB)),
			)
		default:
			return nil, UnknownExporterError{Kind: k}
		}
	})
}

// BuildMeterProvider returns a Builder for a meter provider exporting
// through a periodic reader. A noop provider is built if there is no
// exporter.
func BuildMeterProvider(
	resourceB otlpstdout.Builder[*resource.Resource],
	exporterB otlpstdout.Builder[sdkmetric.Exporter],
) otlpstdout.Builder[metric.MeterProvider] {
	return otlpstdout.BuilderFunc[metric.MeterProvider](func(ctx context.Context) (metric.MeterProvider, error) {
		exp := otlpstdout.MustBuild(ctx, exporterB)
		if exp == nil {
			return metricnoop.NewMeterProvider(), nil
		}

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(otlpstdout.MustBuild(ctx, resourceB)),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		)
		return mp, nil
	})
}

// Runtime installs a tracer provider, meter provider and propagator
// globally for the lifetime of an inner runtime, then flushes and shuts
// the providers down.
type Runtime[R otlpstdout.Runtime] struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	runtime        R
}

// BuildRuntime returns a Builder for a [Runtime].
func BuildRuntime[R otlpstdout.Runtime](
	tracerProviderB otlpstdout.Builder[trace.TracerProvider],
	meterProviderB otlpstdout.Builder[metric.MeterProvider],
	runtimeB otlpstdout.Builder[R],
) otlpstdout.Builder[Runtime[R]] {
	return otlpstdout.BuilderFunc[Runtime[R]](func(ctx context.Context) (Runtime[R], error) {
		return Runtime[R]{
			tracerProvider: otlpstdout.MustBuild(ctx, tracerProviderB),
			meterProvider:  otlpstdout.MustBuild(ctx, meterProviderB),
			runtime:        otlpstdout.MustBuild(ctx, runtimeB),
		}, nil
	})
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Run implements the [otlpstdout.Runtime] interface.
func (r Runtime[R]) Run(ctx context.Context) (err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetTracerProvider(r.tracerProvider)
	otel.SetMeterProvider(r.meterProvider)

	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)
		for _, p := range []any{r.tracerProvider, r.meterProvider} {
			sd, ok := p.(shutdowner)
			if !ok {
				continue
			}
			err = errors.Join(err, sd.Shutdown(shutdownCtx))
		}
	}()

	return r.runtime.Run(ctx)
}
