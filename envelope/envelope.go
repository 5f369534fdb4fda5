// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package envelope

import (
	"encoding/json"
	"strings"
)

// EncodingGzip is the only content encoding envelopes use.
const EncodingGzip = "gzip"

// MethodPost is the only method envelopes use.
const MethodPost = "POST"

// Envelope is the wire representation of one stdout line.
type Envelope struct {
	Marker          string            `json:"__otel_otlp_stdout"`
	Source          string            `json:"source"`
	Endpoint        string            `json:"endpoint"`
	Method          string            `json:"method"`
	ContentType     string            `json:"content-type"`
	ContentEncoding string            `json:"content-encoding,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Payload         json.RawMessage   `json:"payload"`
	Base64          bool              `json:"base64"`
}

// normalizeHeaders lowercases every key and drops the headers which
// envelopes carry as dedicated fields.
func normalizeHeaders(hs ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, h := range hs {
		for k, v := range h {
			k = strings.ToLower(strings.TrimSpace(k))
			switch k {
			case "", "content-type", "content-encoding", "content-length":
				continue
			}
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParseHeaders parses the OTEL_EXPORTER_OTLP_HEADERS format, "k1=v1,k2=v2".
// Keys are lowercased and entries without "=" are ignored.
func ParseHeaders(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
