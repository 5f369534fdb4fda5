// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/z5labs/otlpstdout/envelope"
	"github.com/z5labs/otlpstdout/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to flag names to form their environment variables,
// e.g. OTLPSTDOUT_CONTENT_TYPE.
const EnvPrefix = "OTLPSTDOUT"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "otlpstdout",
		Short:        "Encode and decode OTLP stdout envelopes",
		Version:      envelope.Version,
		SilenceUsage: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log diagnostics to stderr")

	logHandler := func() slog.Handler {
		if !verbose {
			return logging.NoopHandler{}
		}
		return slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	root.AddCommand(
		newEncodeCmd(newViper(), logHandler),
		newDecodeCmd(newViper(), logHandler),
	)
	return root
}
