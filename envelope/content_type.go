// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package envelope

import (
	"fmt"
	"mime"
	"strings"
)

// ContentType is the serialization of an OTLP payload.
type ContentType int

const (
	// ContentTypeJSON is OTLP/JSON.
	ContentTypeJSON ContentType = iota + 1

	// ContentTypeProtobuf is binary OTLP protobuf.
	ContentTypeProtobuf
)

// Media types as they appear on the wire.
const (
	MediaTypeJSON     = "application/json"
	MediaTypeProtobuf = "application/x-protobuf"
)

// UnsupportedContentTypeError is returned for any media type other than
// OTLP/JSON or OTLP protobuf.
type UnsupportedContentTypeError struct {
	ContentType string
}

// Error implements the [builtin.error] interface.
func (e UnsupportedContentTypeError) Error() string {
	return fmt.Sprintf("unsupported content type: %q", e.ContentType)
}

// ParseContentType parses a media type, ignoring parameters such as charset.
func ParseContentType(s string) (ContentType, error) {
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(s))
	}

	switch mt {
	case MediaTypeJSON:
		return ContentTypeJSON, nil
	case MediaTypeProtobuf, "application/protobuf":
		return ContentTypeProtobuf, nil
	default:
		return 0, UnsupportedContentTypeError{ContentType: s}
	}
}

// String returns the media type.
func (c ContentType) String() string {
	switch c {
	case ContentTypeJSON:
		return MediaTypeJSON
	case ContentTypeProtobuf:
		return MediaTypeProtobuf
	default:
		return fmt.Sprintf("ContentType(%d)", int(c))
	}
}

// MarshalText implements the [encoding.TextMarshaler] interface.
func (c ContentType) MarshalText() ([]byte, error) {
	switch c {
	case ContentTypeJSON, ContentTypeProtobuf:
		return []byte(c.String()), nil
	default:
		return nil, UnsupportedContentTypeError{ContentType: c.String()}
	}
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (c *ContentType) UnmarshalText(b []byte) error {
	ct, err := ParseContentType(string(b))
	if err != nil {
		return err
	}
	*c = ct
	return nil
}
