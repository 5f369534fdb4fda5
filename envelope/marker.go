// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package envelope

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MarkerKey is the JSON key identifying an envelope.
const MarkerKey = "__otel_otlp_stdout"

// Name and Version make up the marker written by this module's [Encoder].
const (
	Name    = "otlpstdout"
	Version = "0.1.0"
)

// DefaultProducers are the producer library names a [Decoder] accepts
// unless configured otherwise.
var DefaultProducers = []string{
	Name,
	"otlp-stdout-span-exporter",
	"otlp-stdout-client",
	"otlp-stdout-exporter",
	"otlp-stdout-kinesis-exporter",
	"@dev7a/otlp-stdout-exporter",
	"@dev7a/otlp-stdout-span-exporter",
}

// Marker identifies the library and release which produced an envelope.
type Marker struct {
	Name    string
	Version string
}

// String returns the "<name>@<version>" form.
func (m Marker) String() string {
	return m.Name + "@" + m.Version
}

// ErrInvalidMarker is returned when a marker is not of the "<name>@<semver>" form.
var ErrInvalidMarker = errors.New("invalid marker")

// ParseMarker parses "<name>@<major>.<minor>.<patch>". The name may itself
// start with "@", as scoped npm package names do.
func ParseMarker(s string) (Marker, error) {
	i := strings.LastIndex(s, "@")
	if i <= 0 {
		return Marker{}, fmt.Errorf("%w: %q", ErrInvalidMarker, s)
	}

	m := Marker{Name: s[:i], Version: s[i+1:]}
	if !validVersion(m.Version) {
		return Marker{}, fmt.Errorf("%w: %q has a malformed version", ErrInvalidMarker, s)
	}
	return m, nil
}

// validVersion accepts major.minor.patch with an optional
// pre-release or build suffix.
func validVersion(v string) bool {
	core, _, _ := strings.Cut(v, "+")
	core, _, _ = strings.Cut(core, "-")

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := strconv.ParseUint(p, 10, 64); err != nil {
			return false
		}
	}
	return true
}
