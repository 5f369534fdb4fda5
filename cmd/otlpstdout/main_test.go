// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/z5labs/otlpstdout/envelope"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		envelope.EnvServiceName,
		envelope.EnvLambdaFunctionName,
		envelope.EnvEndpoint,
		envelope.EnvHeaders,
		envelope.EnvCompression,
		envelope.EnvCompressionLevel,
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT",
		"OTEL_EXPORTER_OTLP_TRACES_HEADERS",
		"OTEL_EXPORTER_OTLP_TRACES_COMPRESSION",
		"OTLPSTDOUT_CONTENT_TYPE",
		"OTLPSTDOUT_COMPRESS",
		"OTLPSTDOUT_SERVICE_NAME",
	} {
		t.Setenv(k, "")
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestEncode(t *testing.T) {
	t.Run("will write a single envelope", func(t *testing.T) {
		clearEnv(t)

		out, _, err := execute(t, `{"resourceSpans": []}`,
			"encode",
			"--service-name", "checkout",
			"--header", "x-tenant=a",
		)
		require.NoError(t, err)

		var env envelope.Envelope
		require.NoError(t, json.Unmarshal([]byte(out), &env))
		require.Equal(t, "checkout", env.Source)
		require.Equal(t, envelope.MediaTypeJSON, env.ContentType)
		require.Equal(t, "a", env.Headers["x-tenant"])
		require.JSONEq(t, `{"resourceSpans":[]}`, string(env.Payload))
		require.Equal(t, 1, strings.Count(out, "\n"))
	})

	t.Run("will read flags from the environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OTLPSTDOUT_CONTENT_TYPE", "protobuf")
		t.Setenv("OTLPSTDOUT_COMPRESS", "true")

		out, _, err := execute(t, "\x0a\x00", "encode")
		require.NoError(t, err)

		var env envelope.Envelope
		require.NoError(t, json.Unmarshal([]byte(out), &env))
		require.Equal(t, envelope.MediaTypeProtobuf, env.ContentType)
		require.Equal(t, envelope.EncodingGzip, env.ContentEncoding)
		require.True(t, env.Base64)
	})

	t.Run("will fail if the content type is unsupported", func(t *testing.T) {
		clearEnv(t)

		_, _, err := execute(t, "hello", "encode", "--content-type", "text/plain")

		var cerr envelope.UnsupportedContentTypeError
		if !assert.ErrorAs(t, err, &cerr) {
			return
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("will print the payload of every envelope", func(t *testing.T) {
		clearEnv(t)

		jsonLine, _, err := execute(t, `{"resourceSpans":[]}`, "encode", "--compress")
		require.NoError(t, err)
		protoLine, _, err := execute(t, "\x0a\x00", "encode", "--content-type", "protobuf")
		require.NoError(t, err)

		in := "START RequestId: 1\n" + jsonLine + protoLine + "END RequestId: 1\n"
		out, _, err := execute(t, in, "decode")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
		require.Len(t, lines, 2)
		require.Equal(t, `{"resourceSpans":[]}`, lines[0])
		require.Equal(t, base64.StdEncoding.EncodeToString([]byte("\x0a\x00")), lines[1])
	})

	t.Run("will report lines which could not be decoded", func(t *testing.T) {
		clearEnv(t)

		in := `{"__otel_otlp_stdout":"otlpstdout@0.1.0","content-type":"text/plain","payload":"x","base64":false}` + "\n"
		out, stderr, err := execute(t, in, "decode")

		var derr DecodeFailuresError
		if !assert.ErrorAs(t, err, &derr) {
			return
		}
		if !assert.Equal(t, 1, derr.Count) {
			return
		}
		if !assert.Empty(t, out) {
			return
		}
		if !assert.Contains(t, stderr, "line 1:") {
			return
		}
	})

	t.Run("will only accept the given producers", func(t *testing.T) {
		clearEnv(t)

		in := `{"__otel_otlp_stdout":"custom@1.0.0","content-type":"application/json","payload":{"a":1},"base64":false}` + "\n"
		out, _, err := execute(t, in, "decode", "--producers", "custom")
		require.NoError(t, err)
		require.Equal(t, "{\"a\":1}\n", out)
	})
}
