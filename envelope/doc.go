// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package envelope implements the single line JSON format used to carry
// OTLP payloads over standard output.
//
// An envelope looks like:
//
//	{"__otel_otlp_stdout":"otlpstdout@0.1.0","source":"checkout","endpoint":"http://localhost:4318/v1/traces","method":"POST","content-type":"application/x-protobuf","content-encoding":"gzip","payload":"H4sIAAAA...","base64":true}
//
// The [Encoder] produces exactly one such line per payload and the [Decoder]
// turns a line back into a [Record] whose payload bytes can be relayed to an
// OTLP/HTTP collector unchanged.
package envelope
