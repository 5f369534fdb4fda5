// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command hello records a small trace and writes it to stdout as an
// envelope, ready to be picked up by the forwarder from CloudWatch Logs.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/z5labs/otlpstdout"
	"github.com/z5labs/otlpstdout/envelope"
	"github.com/z5labs/otlpstdout/exporter"
	"github.com/z5labs/otlpstdout/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type app struct {
	log *slog.Logger
	tp  *sdktrace.TracerProvider
}

func buildApp(ctx context.Context) (app, error) {
	h := slog.NewJSONHandler(os.Stderr, nil)

	exp, err := exporter.New(
		ctx,
		exporter.WithEncoderOptions(
			envelope.ServiceName("hello"),
			envelope.LogHandler(h),
		),
	)
	if err != nil {
		return app{}, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.Default()),
		sdktrace.WithBatcher(exp),
	)
	return app{log: logging.New(h), tp: tp}, nil
}

func (a app) Run(ctx context.Context) error {
	otel.SetTracerProvider(a.tp)
	defer a.tp.Shutdown(context.WithoutCancel(ctx))

	tracer := otel.Tracer("hello")
	ctx, span := tracer.Start(ctx, "greet")
	defer span.End()

	for _, name := range []string{"alice", "bob"} {
		_, child := tracer.Start(ctx, "say", trace.WithAttributes(attribute.String("name", name)))
		a.log.InfoContext(ctx, "hello", slog.String("name", name))
		time.Sleep(10 * time.Millisecond)
		child.End()
	}
	return nil
}

func main() {
	runner := otlpstdout.RecoverPanics(otlpstdout.DefaultRunner[app]())

	err := runner.Run(context.Background(), otlpstdout.BuilderFunc[app](buildApp))
	if err != nil {
		os.Exit(1)
	}
}
