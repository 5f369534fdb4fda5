// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package compact merges OTLP trace export requests so that a batch of
// envelopes can be relayed with a single request per collector.
package compact

import (
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/z5labs/otlpstdout/envelope"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/proto"
)

type options struct {
	level int
}

// Option configures [Traces].
type Option func(*options)

// CompressionLevel sets the gzip level of merged payloads.
func CompressionLevel(level int) Option {
	return func(o *options) {
		o.level = level
	}
}

// Merged is a record produced by [Merge] and the indexes of the input
// records it was built from.
type Merged struct {
	Record  envelope.Record
	Indexes []int
}

// Traces is like [Merge] but drops the indexes.
func Traces(records []envelope.Record, opts ...Option) ([]envelope.Record, error) {
	merged, err := Merge(records, opts...)
	if err != nil {
		return nil, err
	}

	out := make([]envelope.Record, len(merged))
	for i, m := range merged {
		out[i] = m.Record
	}
	return out, nil
}

// Merge merges protobuf trace records that share an endpoint, method and
// headers into one gzipped ExportTraceServiceRequest. A merged record takes
// the position of the first record of its group. Any other record,
// including one whose payload cannot be unmarshalled, is returned as is.
func Merge(records []envelope.Record, opts ...Option) ([]Merged, error) {
	o := &options{
		level: envelope.DefaultCompressionLevel,
	}
	for _, opt := range opts {
		opt(o)
	}

	type group struct {
		first int
		spans *coltracepb.ExportTraceServiceRequest
	}

	out := make([]Merged, 0, len(records))
	groups := make(map[string]*group)
	for i, rec := range records {
		req, ok := unmarshalTraces(rec)
		if !ok {
			out = append(out, Merged{Record: rec, Indexes: []int{i}})
			continue
		}

		key := groupKey(rec)
		g, exists := groups[key]
		if !exists {
			groups[key] = &group{first: len(out), spans: req}
			out = append(out, Merged{Record: rec, Indexes: []int{i}})
			continue
		}
		g.spans.ResourceSpans = append(g.spans.ResourceSpans, req.ResourceSpans...)
		out[g.first].Indexes = append(out[g.first].Indexes, i)
	}

	for _, g := range groups {
		m := &out[g.first]
		if len(m.Indexes) == 1 {
			continue
		}

		b, err := proto.Marshal(g.spans)
		if err != nil {
			return nil, err
		}
		gz, err := envelope.Compress(b, o.level)
		if err != nil {
			return nil, err
		}
		m.Record.ContentEncoding = envelope.EncodingGzip
		m.Record.Payload = gz
	}
	return out, nil
}

func unmarshalTraces(rec envelope.Record) (*coltracepb.ExportTraceServiceRequest, bool) {
	if rec.ContentType != envelope.ContentTypeProtobuf || !isTracesEndpoint(rec.Endpoint) {
		return nil, false
	}

	b, err := rec.Decompressed()
	if err != nil {
		return nil, false
	}

	var req coltracepb.ExportTraceServiceRequest
	err = proto.Unmarshal(b, &req)
	if err != nil {
		return nil, false
	}
	return &req, true
}

func isTracesEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.TrimSuffix(u.Path, "/"), envelope.SignalTraces.Path())
}

func groupKey(rec envelope.Record) string {
	var sb strings.Builder
	sb.WriteString(rec.Method)
	sb.WriteByte(' ')
	sb.WriteString(rec.Endpoint)
	for _, k := range slices.Sorted(maps.Keys(rec.Headers)) {
		sb.WriteByte('\n')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(rec.Headers[k])
	}
	return sb.String()
}
