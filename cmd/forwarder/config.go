// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/z5labs/otlpstdout/collector"
	"github.com/z5labs/otlpstdout/config"
	"github.com/z5labs/otlpstdout/dispatch"
	"github.com/z5labs/otlpstdout/envelope"
	"github.com/z5labs/otlpstdout/internal/telemetry"
)

// Transports the forwarder can read envelopes from.
const (
	TransportCloudWatch = "cloudwatch"
	TransportKinesis    = "kinesis"
	TransportSQS        = "sqs"
)

// Config is read from the environment.
type Config struct {
	SecretsPrefix  string
	CollectorsFile string
	CacheTTL       time.Duration

	Transport string
	QueueURL  string

	HTTPTimeout      time.Duration
	MaxRetries       int
	Compact          bool
	CompressionLevel int

	ServiceName    string
	TraceExporter  string
	MetricExporter string
	OTLPTarget     string
	Region         string
	LogLevel       slog.Level
}

// InvalidConfigError is returned when the environment describes an
// unusable configuration.
type InvalidConfigError struct {
	Reason string
}

// Error implements the [builtin.error] interface.
func (e InvalidConfigError) Error() string {
	return "invalid forwarder config: " + e.Reason
}

func readConfig(ctx context.Context) (cfg Config, err error) {
	read := func(f func() error) {
		if err != nil {
			return
		}
		err = f()
	}
	str := func(dst *string, def string, r config.Reader[string]) func() error {
		return func() (err error) {
			*dst, err = config.Read(ctx, config.Default(def, r))
			return err
		}
	}

	read(str(&cfg.SecretsPrefix, "", config.Env("COLLECTORS_SECRETS_KEY_PREFIX")))
	read(str(&cfg.CollectorsFile, "", config.Env("COLLECTORS_FILE")))
	read(func() (err error) {
		cfg.CacheTTL, err = config.Read(ctx, config.Default(collector.DefaultTTL, config.SecondsFromString(config.Env("COLLECTORS_CACHE_TTL_SECONDS"))))
		return err
	})
	read(str(&cfg.Transport, TransportCloudWatch, config.Env("FORWARDER_TRANSPORT")))
	read(str(&cfg.QueueURL, "", config.Env("FORWARDER_SQS_QUEUE_URL")))
	read(func() (err error) {
		cfg.HTTPTimeout, err = config.Read(ctx, config.Default(10*time.Second, config.DurationFromString(config.Env("FORWARDER_HTTP_TIMEOUT"))))
		return err
	})
	read(func() (err error) {
		cfg.MaxRetries, err = config.Read(ctx, config.Default(0, config.IntFromString(config.Env("FORWARDER_HTTP_MAX_RETRIES"))))
		return err
	})
	read(func() (err error) {
		cfg.Compact, err = config.Read(ctx, config.Default(false, config.BoolFromString(config.Env("FORWARDER_COMPACT"))))
		return err
	})
	read(func() (err error) {
		cfg.CompressionLevel, err = config.Read(ctx, config.Default(envelope.DefaultCompressionLevel, config.IntFromString(config.Env(envelope.EnvCompressionLevel))))
		return err
	})
	read(str(&cfg.ServiceName, "otlpstdout-forwarder", config.Or(
		config.Env(envelope.EnvServiceName),
		config.Env(envelope.EnvLambdaFunctionName),
	)))
	read(str(&cfg.TraceExporter, telemetry.ExporterNone, config.Env("FORWARDER_TRACE_EXPORTER")))
	read(str(&cfg.MetricExporter, telemetry.ExporterNone, config.Env("FORWARDER_METRIC_EXPORTER")))
	read(str(&cfg.OTLPTarget, "localhost:4317", config.Env("FORWARDER_OTLP_GRPC_TARGET")))
	read(str(&cfg.Region, dispatch.DefaultRegion, config.Env("AWS_REGION")))
	read(func() (err error) {
		cfg.LogLevel, err = config.Read(ctx, config.Default(slog.LevelInfo, config.Map(config.Env("LOG_LEVEL"), func(_ context.Context, s string) (lvl slog.Level, err error) {
			err = lvl.UnmarshalText([]byte(strings.TrimSpace(s)))
			return lvl, err
		})))
		return err
	})
	if err != nil {
		return cfg, err
	}

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	if cfg.SecretsPrefix == "" && cfg.CollectorsFile == "" {
		return InvalidConfigError{Reason: "one of COLLECTORS_SECRETS_KEY_PREFIX or COLLECTORS_FILE must be set"}
	}
	if cfg.CacheTTL <= 0 {
		return InvalidConfigError{Reason: fmt.Sprintf("COLLECTORS_CACHE_TTL_SECONDS must be positive, got %s", cfg.CacheTTL)}
	}
	switch cfg.Transport {
	case TransportCloudWatch, TransportKinesis:
	case TransportSQS:
		if cfg.QueueURL == "" {
			return InvalidConfigError{Reason: "FORWARDER_SQS_QUEUE_URL must be set for the sqs transport"}
		}
	default:
		return InvalidConfigError{Reason: fmt.Sprintf("unknown transport %q", cfg.Transport)}
	}
	if cfg.CompressionLevel < 0 || cfg.CompressionLevel > 9 {
		return InvalidConfigError{Reason: fmt.Sprintf("compression level %d is not between 0 and 9", cfg.CompressionLevel)}
	}
	return nil
}
