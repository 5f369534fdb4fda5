// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command forwarder relays envelopes read from CloudWatch Logs, Kinesis or
// SQS to the configured OTLP collectors.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/z5labs/otlpstdout"
	"github.com/z5labs/otlpstdout/internal/logging"
	"github.com/z5labs/otlpstdout/internal/telemetry"
)

func main() {
	os.Exit(run(context.Background(), os.Stdout, os.Stderr))
}

func run(ctx context.Context, stdout, stderr io.Writer) int {
	cfg, err := readConfig(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	h := newLogHandler(cfg, stderr)
	runner := otlpstdout.RecoverPanics(
		otlpstdout.NotifyOnSignal(
			otlpstdout.DefaultRunner[telemetry.Runtime[otlpstdout.Runtime]](),
			os.Interrupt,
			syscall.SIGTERM,
		),
	)

	err = runner.Run(ctx, buildApp(cfg, stdout, h))
	if err != nil {
		logging.New(h).ErrorContext(ctx, "forwarder failed", logging.Error(err))
		return 1
	}
	return 0
}
