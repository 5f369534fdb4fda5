// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package transport unwraps the framing of the log transports envelopes
// are read from and hands the raw records to a forwarder.
package transport

import (
	"context"

	"github.com/z5labs/otlpstdout/forwarder"
)

// Forwarder forwards a single batch of records.
type Forwarder interface {
	Forward(context.Context, forwarder.Batch) (forwarder.Report, error)
}

// ForwarderFunc is a func implementation of [Forwarder].
type ForwarderFunc func(context.Context, forwarder.Batch) (forwarder.Report, error)

// Forward implements the [Forwarder] interface.
func (f ForwarderFunc) Forward(ctx context.Context, b forwarder.Batch) (forwarder.Report, error) {
	return f(ctx, b)
}
