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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newEncodeCmd(v *viper.Viper, logHandler func() slog.Handler) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Wrap an OTLP export request read from stdin in a single envelope",
		Long: `Wrap an OTLP export request read from stdin in a single envelope.

Every flag may also be set through the environment, e.g. OTLPSTDOUT_CONTENT_TYPE.
The OTEL_EXPORTER_OTLP_* variables are honoured as they are by the exporter.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := parseContentType(v.GetString("content-type"))
			if err != nil {
				return err
			}

			body, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}

			opts := []envelope.Option{
				envelope.Writer(cmd.OutOrStdout()),
				envelope.LogHandler(logHandler()),
				envelope.Headers(v.GetStringMapString("header")),
			}
			if s := v.GetString("service-name"); s != "" {
				opts = append(opts, envelope.ServiceName(s))
			}
			if s := v.GetString("endpoint"); s != "" {
				opts = append(opts, envelope.Endpoint(s))
			}
			if v.GetBool("compress") {
				opts = append(opts, envelope.Compression(v.GetInt("level")))
			}

			enc, err := envelope.NewEncoder(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			return enc.Encode(cmd.Context(), envelope.Payload{
				Body:        body,
				ContentType: ct,
			})
		},
	}

	flags := cmd.Flags()
	flags.String("content-type", "json", "payload content type: json or protobuf")
	flags.Bool("compress", false, "gzip the payload")
	flags.Int("level", envelope.DefaultCompressionLevel, "gzip compression level")
	flags.String("service-name", "", "envelope source, defaults to OTEL_SERVICE_NAME")
	flags.String("endpoint", "", "collector endpoint recorded in the envelope")
	flags.StringToString("header", nil, "header recorded in the envelope, may be repeated")

	_ = v.BindPFlags(flags)
	return cmd
}

func parseContentType(s string) (envelope.ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return envelope.ContentTypeJSON, nil
	case "protobuf", "proto":
		return envelope.ContentTypeProtobuf, nil
	default:
		return envelope.ParseContentType(s)
	}
}
