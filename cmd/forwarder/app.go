// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/z5labs/otlpstdout"
	"github.com/z5labs/otlpstdout/collector"
	"github.com/z5labs/otlpstdout/config"
	"github.com/z5labs/otlpstdout/dispatch"
	"github.com/z5labs/otlpstdout/forwarder"
	"github.com/z5labs/otlpstdout/internal/httpclient"
	"github.com/z5labs/otlpstdout/internal/logging"
	"github.com/z5labs/otlpstdout/internal/telemetry"
	"github.com/z5labs/otlpstdout/transport/cloudwatch"
	"github.com/z5labs/otlpstdout/transport/kinesis"
	"github.com/z5labs/otlpstdout/transport/sqs"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// maskedKeys are log attribute keys which may carry collector credentials.
var maskedKeys = []string{"auth", "authorization", "x-api-key"}

func newLogHandler(cfg Config, w io.Writer) slog.Handler {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel})
	return logging.NewMaskHandler(h, maskedKeys...)
}

func buildAWSConfig(cfg Config) otlpstdout.Builder[aws.Config] {
	return otlpstdout.MemoizeBuilder[aws.Config](otlpstdout.BuilderFunc[aws.Config](func(ctx context.Context) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}))
}

func buildStore(cfg Config, awsCfgB otlpstdout.Builder[aws.Config], h slog.Handler) otlpstdout.Builder[collector.Store] {
	return otlpstdout.BuilderFunc[collector.Store](func(ctx context.Context) (collector.Store, error) {
		if cfg.CollectorsFile != "" {
			return collector.NewFileStore(cfg.CollectorsFile), nil
		}

		awsCfg := otlpstdout.MustBuild(ctx, awsCfgB)
		return collector.NewSecretsManagerStore(
			secretsmanager.NewFromConfig(awsCfg),
			cfg.SecretsPrefix,
			collector.LogHandler(h),
		), nil
	})
}

func buildDispatcher(cfg Config, awsCfgB otlpstdout.Builder[aws.Config], h slog.Handler) otlpstdout.Builder[*dispatch.Dispatcher] {
	return otlpstdout.BuilderFunc[*dispatch.Dispatcher](func(ctx context.Context) (*dispatch.Dispatcher, error) {
		awsCfg := otlpstdout.MustBuild(ctx, awsCfgB)

		d := dispatch.New(
			dispatch.LogHandler(h),
			dispatch.AuthOptions(
				dispatch.Credentials(awsCfg.Credentials),
				dispatch.Region(cfg.Region),
				dispatch.AuthLogHandler(h),
			),
			dispatch.ClientOptions(
				httpclient.Timeout(cfg.HTTPTimeout),
				httpclient.MaxRetries(cfg.MaxRetries),
				httpclient.TripAfter(5),
			),
		)
		return d, nil
	})
}

func buildForwarder(
	cfg Config,
	storeB otlpstdout.Builder[collector.Store],
	dispatcherB otlpstdout.Builder[*dispatch.Dispatcher],
	meterProviderB otlpstdout.Builder[metric.MeterProvider],
	h slog.Handler,
) otlpstdout.Builder[*forwarder.Forwarder] {
	return otlpstdout.BuilderFunc[*forwarder.Forwarder](func(ctx context.Context) (*forwarder.Forwarder, error) {
		cache := collector.NewCache(
			otlpstdout.MustBuild(ctx, storeB),
			collector.TTL(cfg.CacheTTL),
			collector.CacheLogHandler(h),
		)

		opts := []forwarder.Option{
			forwarder.LogHandler(h),
			forwarder.Meter(otlpstdout.MustBuild(ctx, meterProviderB).Meter("github.com/z5labs/otlpstdout/forwarder")),
		}
		if cfg.Compact {
			opts = append(opts, forwarder.Compact(cfg.CompressionLevel))
		}
		return forwarder.New(cache, otlpstdout.MustBuild(ctx, dispatcherB), opts...), nil
	})
}

type flusher interface {
	ForceFlush(context.Context) error
}

// flush exports buffered spans and metrics before the Lambda environment
// is frozen.
func flush(ctx context.Context) {
	for _, p := range []any{otel.GetTracerProvider(), otel.GetMeterProvider()} {
		f, ok := p.(flusher)
		if !ok {
			continue
		}
		_ = f.ForceFlush(ctx)
	}
}

func buildTransport(
	cfg Config,
	fwdB otlpstdout.Builder[*forwarder.Forwarder],
	awsCfgB otlpstdout.Builder[aws.Config],
	h slog.Handler,
) otlpstdout.Builder[otlpstdout.Runtime] {
	return otlpstdout.BuilderFunc[otlpstdout.Runtime](func(ctx context.Context) (otlpstdout.Runtime, error) {
		fwd := otlpstdout.MustBuild(ctx, fwdB)

		switch cfg.Transport {
		case TransportSQS:
			client := awssqs.NewFromConfig(otlpstdout.MustBuild(ctx, awsCfgB))
			return sqs.NewPoller(client, cfg.QueueURL, fwd, sqs.LogHandler(h)), nil
		case TransportKinesis:
			handler := kinesis.NewHandler(fwd, kinesis.LogHandler(h))
			return lambdaRuntime(func(ctx context.Context, ev events.KinesisEvent) (events.KinesisEventResponse, error) {
				defer flush(ctx)
				return handler.Handle(ctx, ev)
			}), nil
		default:
			handler := cloudwatch.NewHandler(fwd, cloudwatch.LogHandler(h))
			return lambdaRuntime(func(ctx context.Context, ev events.CloudwatchLogsEvent) error {
				defer flush(ctx)
				return handler.Handle(ctx, ev)
			}), nil
		}
	})
}

func lambdaRuntime(handler any) otlpstdout.Runtime {
	return otlpstdout.RuntimeFunc(func(ctx context.Context) error {
		lambda.StartWithOptions(handler, lambda.WithContext(ctx))
		return nil
	})
}

func buildApp(cfg Config, stdout io.Writer, h slog.Handler) otlpstdout.Builder[telemetry.Runtime[otlpstdout.Runtime]] {
	awsCfgB := buildAWSConfig(cfg)
	resB := otlpstdout.MemoizeBuilder(telemetry.BuildResource(config.ReaderOf(cfg.ServiceName)))
	grpcConnB := otlpstdout.MemoizeBuilder(telemetry.BuildGrpcConn(config.ReaderOf(cfg.OTLPTarget)))

	tpB := telemetry.BuildTracerProvider(
		resB,
		telemetry.BuildSpanExporter(config.ReaderOf(cfg.TraceExporter), stdout, grpcConnB),
	)
	mpB := otlpstdout.MemoizeBuilder(telemetry.BuildMeterProvider(
		resB,
		telemetry.BuildMetricExporter(config.ReaderOf(cfg.MetricExporter), stdout, grpcConnB),
	))

	fwdB := buildForwarder(
		cfg,
		buildStore(cfg, awsCfgB, h),
		buildDispatcher(cfg, awsCfgB, h),
		mpB,
		h,
	)
	return telemetry.BuildRuntime(tpB, mpB, buildTransport(cfg, fwdB, awsCfgB, h))
}
