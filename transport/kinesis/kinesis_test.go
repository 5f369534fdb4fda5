// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kinesis

import (
	"context"
	"errors"
	"testing"

	"github.com/z5labs/otlpstdout/forwarder"
	"github.com/z5labs/otlpstdout/transport"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamArn = "arn:aws:kinesis:us-east-1:123456789012:stream/otlp"

func kinesisRecord(seq, data string) events.KinesisEventRecord {
	return events.KinesisEventRecord{
		EventSourceArn: streamArn,
		Kinesis: events.KinesisRecord{
			SequenceNumber: seq,
			Data:           []byte(data),
		},
	}
}

func TestStreamName(t *testing.T) {
	require.Equal(t, "otlp", StreamName(streamArn))
	require.Equal(t, "not-an-arn", StreamName("not-an-arn"))
}

func TestHandler_Handle(t *testing.T) {
	t.Run("will report records which failed everywhere", func(t *testing.T) {
		var got forwarder.Batch
		fwd := transport.ForwarderFunc(func(_ context.Context, b forwarder.Batch) (forwarder.Report, error) {
			got = b
			return forwarder.Report{
				Outcomes: []forwarder.Outcome{
					forwarder.OutcomeDelivered,
					forwarder.OutcomeFailed,
					forwarder.OutcomeDecodeFailure,
					forwarder.OutcomeFailed,
				},
			}, nil
		})

		ev := events.KinesisEvent{
			Records: []events.KinesisEventRecord{
				kinesisRecord("1", "a"),
				kinesisRecord("2", "b\nc\n"),
				kinesisRecord("3", "d"),
			},
		}

		resp, err := NewHandler(fwd).Handle(context.Background(), ev)
		require.NoError(t, err)
		require.Equal(t, "otlp", got.Source)
		require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}, got.Records)
		require.Equal(t, []events.KinesisBatchItemFailure{
			{ItemIdentifier: "2"},
			{ItemIdentifier: "3"},
		}, resp.BatchItemFailures)
	})

	t.Run("will not report decode failures", func(t *testing.T) {
		fwd := transport.ForwarderFunc(func(_ context.Context, _ forwarder.Batch) (forwarder.Report, error) {
			return forwarder.Report{Outcomes: []forwarder.Outcome{forwarder.OutcomeDecodeFailure}}, nil
		})

		resp, err := NewHandler(fwd).Handle(context.Background(), events.KinesisEvent{
			Records: []events.KinesisEventRecord{kinesisRecord("1", "garbage")},
		})
		require.NoError(t, err)
		require.Empty(t, resp.BatchItemFailures)
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if destinations cannot be resolved", func(t *testing.T) {
			resolveErr := forwarder.ResolveError{Cause: errors.New("access denied")}
			fwd := transport.ForwarderFunc(func(_ context.Context, _ forwarder.Batch) (forwarder.Report, error) {
				return forwarder.Report{}, resolveErr
			})

			_, err := NewHandler(fwd).Handle(context.Background(), events.KinesisEvent{
				Records: []events.KinesisEventRecord{kinesisRecord("1", "x")},
			})
			if !assert.ErrorIs(t, err, resolveErr) {
				return
			}
		})
	})
}
