// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cloudwatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/z5labs/otlpstdout/envelope"
	"github.com/z5labs/otlpstdout/forwarder"
	"github.com/z5labs/otlpstdout/transport"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awslogsEvent(t *testing.T, data events.CloudwatchLogsData) events.CloudwatchLogsEvent {
	t.Helper()

	b, err := json.Marshal(data)
	require.NoError(t, err)

	gz, err := envelope.Compress(b, 6)
	require.NoError(t, err)

	return events.CloudwatchLogsEvent{
		AWSLogs: events.CloudwatchLogsRawData{
			Data: base64.StdEncoding.EncodeToString(gz),
		},
	}
}

func TestHandler_Handle(t *testing.T) {
	t.Run("will return an InvalidEventError", func(t *testing.T) {
		t.Run("if the awslogs data is not base64", func(t *testing.T) {
			fwd := transport.ForwarderFunc(func(_ context.Context, _ forwarder.Batch) (forwarder.Report, error) {
				t.Fatal("unexpected forward")
				return forwarder.Report{}, nil
			})

			err := NewHandler(fwd).Handle(context.Background(), events.CloudwatchLogsEvent{
				AWSLogs: events.CloudwatchLogsRawData{Data: "%%%"},
			})

			var ierr InvalidEventError
			if !assert.ErrorAs(t, err, &ierr) {
				return
			}
		})
	})

	t.Run("will forward each log event message", func(t *testing.T) {
		var got forwarder.Batch
		fwd := transport.ForwarderFunc(func(_ context.Context, b forwarder.Batch) (forwarder.Report, error) {
			got = b
			return forwarder.Report{}, nil
		})

		ev := awslogsEvent(t, events.CloudwatchLogsData{
			MessageType: "DATA_MESSAGE",
			LogGroup:    "/aws/lambda/checkout",
			LogStream:   "2025/01/01/[$LATEST]abc",
			LogEvents: []events.CloudwatchLogsLogEvent{
				{ID: "1", Message: `{"__otel_otlp_stdout":"otlpstdout@0.1.0"}`},
				{ID: "2", Message: "END RequestId: 1"},
			},
		})

		err := NewHandler(fwd).Handle(context.Background(), ev)
		require.NoError(t, err)
		require.Equal(t, "/aws/lambda/checkout", got.Source)
		require.Equal(t, [][]byte{
			[]byte(`{"__otel_otlp_stdout":"otlpstdout@0.1.0"}`),
			[]byte("END RequestId: 1"),
		}, got.Records)
	})

	t.Run("will ignore control messages", func(t *testing.T) {
		fwd := transport.ForwarderFunc(func(_ context.Context, _ forwarder.Batch) (forwarder.Report, error) {
			t.Fatal("unexpected forward")
			return forwarder.Report{}, nil
		})

		ev := awslogsEvent(t, events.CloudwatchLogsData{
			MessageType: MessageTypeControl,
			LogEvents:   []events.CloudwatchLogsLogEvent{{ID: "1", Message: "CWL CONTROL MESSAGE"}},
		})

		err := NewHandler(fwd).Handle(context.Background(), ev)
		require.NoError(t, err)
	})

	t.Run("will return the forwarder error", func(t *testing.T) {
		fwdErr := forwarder.ResolveError{Cause: errors.New("no destinations")}
		fwd := transport.ForwarderFunc(func(_ context.Context, _ forwarder.Batch) (forwarder.Report, error) {
			return forwarder.Report{}, fwdErr
		})

		ev := awslogsEvent(t, events.CloudwatchLogsData{
			LogGroup:  "/aws/lambda/checkout",
			LogEvents: []events.CloudwatchLogsLogEvent{{ID: "1", Message: "x"}},
		})

		err := NewHandler(fwd).Handle(context.Background(), ev)
		require.ErrorIs(t, err, fwdErr)
	})
}
