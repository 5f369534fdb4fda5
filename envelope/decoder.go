// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotEnvelope is returned for lines which are not JSON objects carrying
// the marker key, e.g. ordinary application logs.
var ErrNotEnvelope = errors.New("not an envelope")

// ErrUnrecognizedProducer is returned when the marker names a producer
// the [Decoder] was not configured to accept.
var ErrUnrecognizedProducer = errors.New("unrecognized producer")

// DecodeError describes why an envelope could not be decoded.
type DecodeError struct {
	Field string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e DecodeError) Error() string {
	return fmt.Sprintf("invalid envelope field %q: %s", e.Field, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e DecodeError) Unwrap() error {
	return e.Cause
}

// Record is a decoded envelope.
type Record struct {
	Marker          Marker
	Source          string
	Endpoint        string
	Method          string
	ContentType     ContentType
	ContentEncoding string
	Headers         map[string]string

	// Payload is the body to relay to a collector: still gzipped when
	// ContentEncoding is gzip, never base64 encoded.
	Payload []byte
}

// Compressed reports whether Payload is gzipped.
func (r Record) Compressed() bool {
	return r.ContentEncoding == EncodingGzip
}

// Decompressed returns the serialized OTLP request.
func (r Record) Decompressed() ([]byte, error) {
	if !r.Compressed() {
		return r.Payload, nil
	}
	return Decompress(r.Payload)
}

type decoderOptions struct {
	producers []string
}

// DecoderOption configures a [Decoder].
type DecoderOption func(*decoderOptions)

// Producers replaces [DefaultProducers] as the accepted marker names.
func Producers(names ...string) DecoderOption {
	return func(o *decoderOptions) {
		o.producers = names
	}
}

// Decoder parses envelope lines. It holds no mutable state and is safe for
// concurrent use.
type Decoder struct {
	producers map[string]struct{}
}

// NewDecoder returns a [Decoder].
func NewDecoder(opts ...DecoderOption) *Decoder {
	o := &decoderOptions{
		producers: DefaultProducers,
	}
	for _, opt := range opts {
		opt(o)
	}

	producers := make(map[string]struct{}, len(o.producers))
	for _, name := range o.producers {
		producers[name] = struct{}{}
	}
	return &Decoder{producers: producers}
}

type wireEnvelope struct {
	Marker          *string           `json:"__otel_otlp_stdout"`
	Source          string            `json:"source"`
	Endpoint        string            `json:"endpoint"`
	Method          string            `json:"method"`
	ContentType     string            `json:"content-type"`
	ContentEncoding string            `json:"content-encoding"`
	Headers         map[string]string `json:"headers"`
	Payload         json.RawMessage   `json:"payload"`
	Base64          bool              `json:"base64"`
}

// Decode parses a single line. Errors wrapping [ErrNotEnvelope] mean the
// line should be ignored; any other error means it was a malformed envelope.
func (d *Decoder) Decode(line []byte) (Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Record{}, ErrNotEnvelope
	}

	var w wireEnvelope
	err := json.Unmarshal(line, &w)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrNotEnvelope, err)
	}
	if w.Marker == nil {
		return Record{}, ErrNotEnvelope
	}

	marker, err := ParseMarker(*w.Marker)
	if err != nil {
		return Record{}, DecodeError{Field: MarkerKey, Cause: err}
	}
	if _, ok := d.producers[marker.Name]; !ok {
		return Record{}, DecodeError{Field: MarkerKey, Cause: fmt.Errorf("%w: %s", ErrUnrecognizedProducer, marker.Name)}
	}

	ct, err := ParseContentType(w.ContentType)
	if err != nil {
		return Record{}, DecodeError{Field: "content-type", Cause: err}
	}

	encoding := strings.ToLower(strings.TrimSpace(w.ContentEncoding))
	if encoding != "" && encoding != EncodingGzip {
		return Record{}, DecodeError{Field: "content-encoding", Cause: fmt.Errorf("unsupported encoding %q", w.ContentEncoding)}
	}
	if !w.Base64 && (ct == ContentTypeProtobuf || encoding == EncodingGzip) {
		return Record{}, DecodeError{Field: "base64", Cause: errors.New("binary payloads must be base64 encoded")}
	}

	payload, err := decodePayload(w.Payload, w.Base64)
	if err != nil {
		return Record{}, DecodeError{Field: "payload", Cause: err}
	}

	method := w.Method
	if method == "" {
		method = MethodPost
	}

	return Record{
		Marker:          marker,
		Source:          w.Source,
		Endpoint:        w.Endpoint,
		Method:          method,
		ContentType:     ct,
		ContentEncoding: encoding,
		Headers:         normalizeHeaders(w.Headers),
		Payload:         payload,
	}, nil
}

func decodePayload(raw json.RawMessage, isBase64 bool) ([]byte, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New("missing payload")
	}

	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		if err != nil {
			return nil, err
		}
		if !isBase64 {
			return []byte(s), nil
		}
		return decodeBase64(s)
	}
	if isBase64 {
		return nil, errors.New("base64 payload must be a string")
	}

	var compact bytes.Buffer
	err := json.Compact(&compact, raw)
	if err != nil {
		return nil, err
	}
	return compact.Bytes(), nil
}

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	b, rerr := base64.RawStdEncoding.DecodeString(s)
	if rerr == nil {
		return b, nil
	}
	return nil, err
}
