// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/z5labs/otlpstdout/envelope"
	"github.com/z5labs/otlpstdout/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// maxLineSize bounds a single envelope line.
const maxLineSize = 16 << 20

// DecodeFailuresError is returned when some envelope lines could not be
// decoded.
type DecodeFailuresError struct {
	Count int
}

// Error implements the [builtin.error] interface.
func (e DecodeFailuresError) Error() string {
	return fmt.Sprintf("%d envelope(s) could not be decoded", e.Count)
}

func newDecodeCmd(v *viper.Viper, logHandler func() slog.Handler) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Print the payloads of the envelopes read from stdin",
		Long: `Print the payloads of the envelopes read from stdin, one per line.

Lines which are not envelopes are ignored. JSON payloads are printed as is,
protobuf payloads are printed base64 encoded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(logHandler())

			var opts []envelope.DecoderOption
			if producers := v.GetStringSlice("producers"); len(producers) > 0 {
				opts = append(opts, envelope.Producers(producers...))
			}
			dec := envelope.NewDecoder(opts...)

			out := bufio.NewWriter(cmd.OutOrStdout())
			failures, err := decodeLines(cmd.InOrStdin(), out, cmd.ErrOrStderr(), dec, log)
			if err != nil {
				return err
			}
			err = out.Flush()
			if err != nil {
				return err
			}
			if failures > 0 {
				return DecodeFailuresError{Count: failures}
			}
			return nil
		},
	}

	cmd.Flags().StringSlice("producers", nil, "marker names to accept, defaults to the known exporters")

	_ = v.BindPFlags(cmd.Flags())
	return cmd
}

func decodeLines(r io.Reader, out io.Writer, errOut io.Writer, dec *envelope.Decoder, log *slog.Logger) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var failures, n int
	for scanner.Scan() {
		n++
		rec, err := dec.Decode(scanner.Bytes())
		if errors.Is(err, envelope.ErrNotEnvelope) {
			log.Debug("skipping line", slog.Int("line", n))
			continue
		}
		if err == nil {
			err = writePayload(out, rec)
		}
		if err != nil {
			failures++
			fmt.Fprintf(errOut, "line %d: %s\n", n, err)
			continue
		}
	}
	return failures, scanner.Err()
}

func writePayload(w io.Writer, rec envelope.Record) error {
	b, err := rec.Decompressed()
	if err != nil {
		return err
	}
	if rec.ContentType == envelope.ContentTypeProtobuf {
		b = []byte(base64.StdEncoding.EncodeToString(b))
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
