// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/z5labs/otlpstdout/config"
)

// Destination is a single configured OTLP collector.
type Destination struct {
	Name string

	// Endpoint is the base URL of the collector. The OTLP signal path
	// is appended to it, see [Destination.SignalURL].
	Endpoint string

	// Auth is either a "key=value" header assignment or one of the
	// method tags "sigv4", "iam" or "none".
	Auth string

	// Exclude, if set, is matched against the source identity of a
	// batch. Matching batches are never sent to this destination.
	Exclude *regexp.Regexp
}

// InvalidDestinationError is returned when a destination document is
// missing required fields or has an invalid exclude pattern.
type InvalidDestinationError struct {
	Name  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e InvalidDestinationError) Error() string {
	return fmt.Sprintf("invalid destination %q: %s", e.Name, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidDestinationError) Unwrap() error {
	return e.Cause
}

type rawDestination struct {
	Name     string `config:"name"`
	Endpoint string `config:"endpoint"`
	Auth     string `config:"auth"`
	Exclude  string `config:"exclude"`
}

// ParseDestination parses a JSON destination document of the form
// {"name": ..., "endpoint": ..., "auth": ..., "exclude": ...}.
func ParseDestination(b []byte) (Destination, error) {
	var doc map[string]any
	err := json.Unmarshal(b, &doc)
	if err != nil {
		return Destination{}, InvalidDestinationError{Cause: err}
	}
	return decodeDestination(doc)
}

func decodeDestination(doc any) (Destination, error) {
	var raw rawDestination
	err := config.Decode(doc, &raw)
	if err != nil {
		return Destination{}, InvalidDestinationError{Cause: err}
	}
	return raw.destination()
}

func (r rawDestination) destination() (Destination, error) {
	if r.Endpoint == "" {
		return Destination{}, InvalidDestinationError{Name: r.Name, Cause: errors.New("missing endpoint")}
	}
	_, err := url.Parse(r.Endpoint)
	if err != nil {
		return Destination{}, InvalidDestinationError{Name: r.Name, Cause: err}
	}

	d := Destination{
		Name:     r.Name,
		Endpoint: r.Endpoint,
		Auth:     strings.TrimSpace(r.Auth),
	}
	if d.Name == "" {
		d.Name = r.Endpoint
	}
	if r.Exclude == "" {
		return d, nil
	}

	d.Exclude, err = regexp.Compile(r.Exclude)
	if err != nil {
		return Destination{}, InvalidDestinationError{Name: d.Name, Cause: err}
	}
	return d, nil
}

// Excludes reports whether batches from source must not be sent to d.
func (d Destination) Excludes(source string) bool {
	return d.Exclude != nil && d.Exclude.MatchString(source)
}

// SignalURL joins the base endpoint of d with the path of the endpoint
// recorded in an envelope, e.g. "https://c.example.com/base" and
// "http://localhost:4318/v1/traces" become
// "https://c.example.com/base/v1/traces".
func (d Destination) SignalURL(envelopeEndpoint string) (string, error) {
	signal, err := url.Parse(envelopeEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid envelope endpoint: %w", err)
	}

	base, err := url.Parse(d.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid collector endpoint: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid collector endpoint: %q is not absolute", d.Endpoint)
	}

	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(signal.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}
