// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package envelope

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvServiceName,
		EnvLambdaFunctionName,
		EnvEndpoint,
		EnvHeaders,
		EnvCompression,
		EnvCompressionLevel,
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT",
		"OTEL_EXPORTER_OTLP_TRACES_HEADERS",
		"OTEL_EXPORTER_OTLP_TRACES_COMPRESSION",
	} {
		t.Setenv(key, "")
	}
}

func encodeOne(t *testing.T, p Payload, opts ...Option) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	enc, err := NewEncoder(context.Background(), append(opts, Writer(&buf))...)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(context.Background(), p))

	require.True(t, strings.HasSuffix(buf.String(), "\n"))
	require.Equal(t, 1, strings.Count(buf.String(), "\n"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestEncoder_Encode(t *testing.T) {
	t.Run("will inline uncompressed json", func(t *testing.T) {
		clearEnv(t)

		out := encodeOne(t, Payload{
			Body:        []byte(`{"test": "data"}`),
			ContentType: ContentTypeJSON,
		})

		require.Equal(t, map[string]any{"test": "data"}, out["payload"])
		require.Equal(t, false, out["base64"])
		require.Equal(t, MediaTypeJSON, out["content-type"])
		require.NotContains(t, out, "content-encoding")
		require.Equal(t, MethodPost, out["method"])
		require.Equal(t, Name+"@"+Version, out[MarkerKey])
	})

	t.Run("will gzip and base64 json when compression is enabled", func(t *testing.T) {
		clearEnv(t)

		out := encodeOne(t, Payload{
			Body:        []byte(`{"test":"data"}`),
			ContentType: ContentTypeJSON,
		}, Compression(6))

		require.Equal(t, true, out["base64"])
		require.Equal(t, EncodingGzip, out["content-encoding"])

		s, ok := out["payload"].(string)
		require.True(t, ok)
		require.NotEmpty(t, s)

		gz, err := base64.StdEncoding.DecodeString(s)
		require.NoError(t, err)
		b, err := Decompress(gz)
		require.NoError(t, err)
		require.JSONEq(t, `{"test":"data"}`, string(b))
	})

	t.Run("will inline pre-compressed json when compression is disabled", func(t *testing.T) {
		clearEnv(t)

		gz, err := Compress([]byte(`{"a": 1}`), 6)
		require.NoError(t, err)

		out := encodeOne(t, Payload{
			Body:        gz,
			ContentType: ContentTypeJSON,
			Headers:     map[string]string{"Content-Encoding": "gzip"},
		})

		require.Equal(t, map[string]any{"a": float64(1)}, out["payload"])
		require.Equal(t, false, out["base64"])
		require.NotContains(t, out, "content-encoding")
		require.NotContains(t, out, "headers")
	})

	t.Run("will always base64 protobuf", func(t *testing.T) {
		clearEnv(t)

		body := []byte{0x0a, 0x02, 0x08, 0x01}
		out := encodeOne(t, Payload{
			Body:        body,
			ContentType: ContentTypeProtobuf,
		})

		require.Equal(t, true, out["base64"])
		require.Equal(t, MediaTypeProtobuf, out["content-type"])
		require.NotContains(t, out, "content-encoding")
		require.Equal(t, base64.StdEncoding.EncodeToString(body), out["payload"])
	})

	t.Run("will not double compress pre-compressed protobuf", func(t *testing.T) {
		clearEnv(t)

		gz, err := Compress([]byte{0x0a, 0x00}, 6)
		require.NoError(t, err)

		out := encodeOne(t, Payload{
			Body:        gz,
			ContentType: ContentTypeProtobuf,
			Headers:     map[string]string{"content-encoding": "gzip"},
		}, Compression(9))

		require.Equal(t, EncodingGzip, out["content-encoding"])
		require.Equal(t, base64.StdEncoding.EncodeToString(gz), out["payload"])
	})

	t.Run("will lowercase headers and drop content headers", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvHeaders, "X-Env=env")

		out := encodeOne(t, Payload{
			Body:        []byte(`{}`),
			ContentType: ContentTypeJSON,
			Headers: map[string]string{
				"X-Tenant":     "a",
				"Content-Type": "application/json",
			},
		})

		require.Equal(t, map[string]any{"x-tenant": "a", "x-env": "env"}, out["headers"])
	})

	t.Run("will merge general and signal specific headers", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvHeaders, "api-key=secret123,shared-key=general")
		t.Setenv("OTEL_EXPORTER_OTLP_TRACES_HEADERS", "trace-key=value123,shared-key=specific")

		out := encodeOne(t, Payload{Body: []byte(`{}`), ContentType: ContentTypeJSON})

		expected := map[string]any{
			"api-key":    "secret123",
			"shared-key": "specific",
			"trace-key":  "value123",
		}
		require.Equal(t, expected, out["headers"])
	})
}

func TestEncoder_Encode_Errors(t *testing.T) {
	t.Run("will return an UnsupportedContentTypeError", func(t *testing.T) {
		t.Run("if the content type is unknown", func(t *testing.T) {
			clearEnv(t)

			var buf bytes.Buffer
			enc, err := NewEncoder(context.Background(), Writer(&buf))
			if !assert.NoError(t, err) {
				return
			}

			err = enc.Encode(context.Background(), Payload{Body: []byte("x")})

			var uerr UnsupportedContentTypeError
			if !assert.ErrorAs(t, err, &uerr) {
				return
			}
			if !assert.Zero(t, buf.Len()) {
				return
			}
		})
	})

	t.Run("will return a DecompressError", func(t *testing.T) {
		t.Run("if pre-compressed json is not gzip", func(t *testing.T) {
			clearEnv(t)

			enc, err := NewEncoder(context.Background(), Writer(&bytes.Buffer{}))
			if !assert.NoError(t, err) {
				return
			}

			err = enc.Encode(context.Background(), Payload{
				Body:        []byte(`{"a":1}`),
				ContentType: ContentTypeJSON,
				Headers:     map[string]string{"content-encoding": "gzip"},
			})

			var derr DecompressError
			if !assert.ErrorAs(t, err, &derr) {
				return
			}
		})
	})

	t.Run("will return an InvalidPayloadError", func(t *testing.T) {
		t.Run("if a json payload is not json", func(t *testing.T) {
			clearEnv(t)

			enc, err := NewEncoder(context.Background(), Writer(&bytes.Buffer{}))
			if !assert.NoError(t, err) {
				return
			}

			err = enc.Encode(context.Background(), Payload{Body: []byte(`{`), ContentType: ContentTypeJSON})

			var perr InvalidPayloadError
			if !assert.ErrorAs(t, err, &perr) {
				return
			}
		})
	})

	t.Run("will return a WriteError", func(t *testing.T) {
		t.Run("if the writer fails", func(t *testing.T) {
			clearEnv(t)

			writeErr := errors.New("broken pipe")
			enc, err := NewEncoder(context.Background(), Writer(failingWriter{err: writeErr}))
			if !assert.NoError(t, err) {
				return
			}

			err = enc.Encode(context.Background(), Payload{Body: []byte(`{}`), ContentType: ContentTypeJSON})

			var werr WriteError
			if !assert.ErrorAs(t, err, &werr) {
				return
			}
			if !assert.ErrorIs(t, err, writeErr) {
				return
			}
		})
	})
}

type failingWriter struct {
	err error
}

func (w failingWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}

func TestNewEncoder_Endpoint(t *testing.T) {
	testCases := []struct {
		name     string
		env      map[string]string
		option   string
		hint     string
		expected string
	}{
		{
			name: "signal specific endpoint wins",
			env: map[string]string{
				"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT": "https://traces.example.com",
				EnvEndpoint:                          "https://general.example.com",
			},
			hint:     "http://caller.example.com/v1/traces",
			expected: "https://traces.example.com",
		},
		{
			name:     "general endpoint gets the signal path",
			env:      map[string]string{EnvEndpoint: "https://general.example.com"},
			expected: "https://general.example.com/v1/traces",
		},
		{
			name:     "general endpoint trailing slash",
			env:      map[string]string{EnvEndpoint: "https://general.example.com/"},
			expected: "https://general.example.com/v1/traces",
		},
		{
			name:     "caller hint",
			hint:     "http://caller.example.com/v1/traces",
			option:   "http://option.example.com/v1/traces",
			expected: "http://caller.example.com/v1/traces",
		},
		{
			name:     "caller option",
			option:   "http://option.example.com/v1/traces",
			expected: "http://option.example.com/v1/traces",
		},
		{
			name:     "default",
			expected: "http://localhost:4318/v1/traces",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			var opts []Option
			if tc.option != "" {
				opts = append(opts, Endpoint(tc.option))
			}

			out := encodeOne(t, Payload{
				Body:        []byte(`{}`),
				ContentType: ContentTypeJSON,
				Endpoint:    tc.hint,
			}, opts...)
			require.Equal(t, tc.expected, out["endpoint"])
		})
	}
}

func TestNewEncoder_Source(t *testing.T) {
	testCases := []struct {
		name     string
		env      map[string]string
		option   string
		expected string
	}{
		{
			name:     "option",
			env:      map[string]string{EnvServiceName: "env-service"},
			option:   "option-service",
			expected: "option-service",
		},
		{
			name: "service name",
			env: map[string]string{
				EnvServiceName:        "env-service",
				EnvLambdaFunctionName: "function",
			},
			expected: "env-service",
		},
		{
			name:     "function name",
			env:      map[string]string{EnvLambdaFunctionName: "function"},
			expected: "function",
		},
		{
			name:     "unknown",
			expected: DefaultSource,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			var opts []Option
			if tc.option != "" {
				opts = append(opts, ServiceName(tc.option))
			}

			enc, err := NewEncoder(context.Background(), opts...)
			require.NoError(t, err)
			require.Equal(t, tc.expected, enc.Source())
		})
	}
}

func TestNewEncoder_CompressionLevel(t *testing.T) {
	testCases := []struct {
		name      string
		env       string
		option    int
		expected  int
		expectLog bool
	}{
		{name: "default", option: DefaultCompressionLevel, expected: 6},
		{name: "option", option: 9, expected: 9},
		{name: "env overrides option", env: "3", option: 9, expected: 3},
		{name: "invalid env falls back", env: "invalid", option: 4, expected: 4, expectLog: true},
		{name: "out of range env falls back", env: "15", option: 4, expected: 4, expectLog: true},
		{name: "out of range option", option: 12, expected: DefaultCompressionLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(EnvCompressionLevel, tc.env)

			var logs bytes.Buffer
			enc, err := NewEncoder(
				context.Background(),
				Compression(tc.option),
				LogHandler(slog.NewJSONHandler(&logs, nil)),
			)
			require.NoError(t, err)
			require.Equal(t, tc.expected, enc.level)
			require.Equal(t, tc.expectLog, logs.Len() > 0)
		})
	}
}

func TestNewEncoder_CompressionEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvCompression, "gzip")

	out := encodeOne(t, Payload{Body: []byte(`{}`), ContentType: ContentTypeJSON})
	require.Equal(t, EncodingGzip, out["content-encoding"])

	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_COMPRESSION", "none")

	out = encodeOne(t, Payload{Body: []byte(`{}`), ContentType: ContentTypeJSON}, Compression(6))
	require.NotContains(t, out, "content-encoding")
}

func TestEncoder_Concurrent(t *testing.T) {
	clearEnv(t)

	var buf bytes.Buffer
	enc, err := NewEncoder(context.Background(), Writer(&buf))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := enc.Encode(context.Background(), Payload{
				Body:        []byte(`{"resourceSpans":[]}`),
				ContentType: ContentTypeJSON,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		require.True(t, json.Valid([]byte(line)))
	}
}
