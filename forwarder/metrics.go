// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package forwarder

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type counters struct {
	received       metric.Int64Counter
	decodeFailures metric.Int64Counter
	skipped        metric.Int64Counter
	excluded       metric.Int64Counter
	delivered      metric.Int64Counter
	failed         metric.Int64Counter
}

func newCounters(m metric.Meter) *counters {
	return &counters{
		received:       counter(m, "forwarder.records.received", "Records read from the log transport."),
		decodeFailures: counter(m, "forwarder.records.decode_failures", "Envelopes which could not be decoded."),
		skipped:        counter(m, "forwarder.records.skipped", "Records which were not envelopes."),
		excluded:       counter(m, "forwarder.records.excluded", "Envelopes excluded by every destination."),
		delivered:      counter(m, "forwarder.records.delivered", "Envelopes accepted by at least one destination."),
		failed:         counter(m, "forwarder.records.failed", "Envelopes rejected by every destination."),
	}
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{record}"))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (c *counters) record(ctx context.Context, source string, r Report) {
	opt := metric.WithAttributes(attribute.String("forwarder.source", source))

	add := func(counter metric.Int64Counter, n int) {
		if n == 0 {
			return
		}
		counter.Add(ctx, int64(n), opt)
	}
	add(c.received, r.Received)
	add(c.decodeFailures, r.DecodeFailures)
	add(c.skipped, r.Skipped)
	add(c.excluded, r.Excluded)
	add(c.delivered, r.Delivered)
	add(c.failed, r.Failed)
}
