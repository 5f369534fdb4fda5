// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package sqs forwards envelopes sent as SQS message bodies.
package sqs

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"time"

	"github.com/z5labs/otlpstdout/forwarder"
	"github.com/z5labs/otlpstdout/internal/logging"
	"github.com/z5labs/otlpstdout/transport"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultSourceAttribute is the message attribute read as batch source.
const DefaultSourceAttribute = "source"

// Defaults for the wait between failed polls.
const (
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// ErrNoMessages is returned by [Poller.Poll] when the receive returned
// no messages.
var ErrNoMessages = errors.New("sqs: no messages")

type sqsClient interface {
	ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(context.Context, *sqs.DeleteMessageBatchInput, ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

type options struct {
	logHandler slog.Handler

	maxNumOfMessages  int32
	visibilityTimeout int32
	waitTimeSeconds   int32
	sourceAttribute   string
	source            string
	minBackoff        time.Duration
	maxBackoff        time.Duration
}

// Option configures a [Poller].
type Option func(*options)

// LogHandler configures the underlying [slog.Handler].
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// MaxNumOfMessages
func MaxNumOfMessages(n int32) Option {
	return func(o *options) {
		o.maxNumOfMessages = n
	}
}

// VisibilityTimeout
func VisibilityTimeout(n int32) Option {
	return func(o *options) {
		o.visibilityTimeout = n
	}
}

// WaitTimeSeconds
func WaitTimeSeconds(n int32) Option {
	return func(o *options) {
		o.waitTimeSeconds = n
	}
}

// SourceAttribute names the string message attribute used as the batch
// source. Messages without it use the queue name.
func SourceAttribute(name string) Option {
	return func(o *options) {
		o.sourceAttribute = name
	}
}

// Backoff sets the wait after a failed poll. It starts at min and doubles
// with every consecutive failure up to max.
func Backoff(min, max time.Duration) Option {
	return func(o *options) {
		o.minBackoff = min
		o.maxBackoff = max
	}
}

// Poller receives messages from a queue, forwards their bodies and
// deletes every message that should not be retried.
type Poller struct {
	log *slog.Logger
	sqs sqsClient

	queueUrl          string
	maxNumOfMessages  int32
	visibilityTimeout int32
	waitTimeSeconds   int32
	sourceAttribute   string
	source            string
	minBackoff        time.Duration
	maxBackoff        time.Duration

	fwd transport.Forwarder
}

// NewPoller returns a [Poller] for the queue at queueUrl.
func NewPoller(client sqsClient, queueUrl string, fwd transport.Forwarder, opts ...Option) *Poller {
	o := &options{
		logHandler:       logging.NoopHandler{},
		maxNumOfMessages: 10,
		waitTimeSeconds:  20,
		sourceAttribute:  DefaultSourceAttribute,
		source:           path.Base(queueUrl),
		minBackoff:       DefaultMinBackoff,
		maxBackoff:       DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Poller{
		log:               logging.New(o.logHandler),
		sqs:               client,
		queueUrl:          queueUrl,
		maxNumOfMessages:  o.maxNumOfMessages,
		visibilityTimeout: o.visibilityTimeout,
		waitTimeSeconds:   o.waitTimeSeconds,
		sourceAttribute:   o.sourceAttribute,
		source:            o.source,
		minBackoff:        o.minBackoff,
		maxBackoff:        o.maxBackoff,
		fwd:               fwd,
	}
}

// Run polls until ctx is cancelled. Failed polls are logged and retried
// after a backoff.
func (p *Poller) Run(ctx context.Context) error {
	tracer := otel.Tracer("sqs")
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		spanCtx, span := tracer.Start(ctx, "Poller.Run")
		err := p.Poll(spanCtx)
		span.End()
		if err == nil || errors.Is(err, ErrNoMessages) || ctx.Err() != nil {
			failures = 0
			continue
		}

		wait := retryablehttp.DefaultBackoff(p.minBackoff, p.maxBackoff, failures, nil)
		failures++
		p.log.ErrorContext(
			spanCtx,
			"failed to poll",
			logging.Error(err),
			slog.Int("consecutive_failures", failures),
			slog.Duration("backoff", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Poll receives one batch of messages, forwards them grouped by source
// and deletes those which were handled.
func (p *Poller) Poll(ctx context.Context) error {
	msgs, err := p.receive(ctx)
	if err != nil {
		return err
	}
	return p.process(ctx, msgs)
}

func (p *Poller) receive(ctx context.Context) ([]types.Message, error) {
	spanCtx, span := otel.Tracer("sqs").Start(ctx, "Poller.receive")
	defer span.End()

	resp, err := p.sqs.ReceiveMessage(spanCtx, &sqs.ReceiveMessageInput{
		QueueUrl:              &p.queueUrl,
		MaxNumberOfMessages:   p.maxNumOfMessages,
		VisibilityTimeout:     p.visibilityTimeout,
		WaitTimeSeconds:       p.waitTimeSeconds,
		MessageAttributeNames: []string{p.sourceAttribute},
	})
	if err != nil {
		p.log.ErrorContext(spanCtx, "failed to receive messages", logging.Error(err))
		return nil, err
	}

	p.log.DebugContext(spanCtx, "received messages", logging.Count("num_of_messages", len(resp.Messages)))
	if len(resp.Messages) == 0 {
		return nil, ErrNoMessages
	}
	return resp.Messages, nil
}

func (p *Poller) sourceOf(msg types.Message) string {
	attr, ok := msg.MessageAttributes[p.sourceAttribute]
	if !ok || aws.ToString(attr.StringValue) == "" {
		return p.source
	}
	return aws.ToString(attr.StringValue)
}

func (p *Poller) process(ctx context.Context, msgs []types.Message) error {
	spanCtx, span := otel.Tracer("sqs").Start(ctx, "Poller.process", trace.WithAttributes(
		attribute.Int("num_of_messages", len(msgs)),
	))
	defer span.End()

	var order []string
	groups := make(map[string][]types.Message)
	for _, msg := range msgs {
		source := p.sourceOf(msg)
		if _, ok := groups[source]; !ok {
			order = append(order, source)
		}
		groups[source] = append(groups[source], msg)
	}

	msgCh := make(chan types.Message)
	g, gctx := errgroup.WithContext(spanCtx)
	for _, source := range order {
		group := groups[source]
		g.Go(func() error {
			records := make([][]byte, len(group))
			for i, msg := range group {
				records[i] = []byte(aws.ToString(msg.Body))
			}

			report, err := p.fwd.Forward(gctx, forwarder.Batch{Source: source, Records: records})
			var rerr forwarder.ResolveError
			if errors.As(err, &rerr) {
				p.log.ErrorContext(gctx, "failed to forward messages", logging.Source(source), logging.Error(err))
				return nil
			}

			for i, outcome := range report.Outcomes {
				if outcome.Retryable() {
					continue
				}
				msgCh <- group[i]
			}
			return nil
		})
	}

	g2, _ := errgroup.WithContext(spanCtx)
	g2.Go(func() error {
		defer close(msgCh)
		return g.Wait()
	})

	deleteEntries := make([]types.DeleteMessageBatchRequestEntry, 0, len(msgs))
	g2.Go(func() error {
		for msg := range msgCh {
			deleteEntries = append(deleteEntries, types.DeleteMessageBatchRequestEntry{
				ReceiptHandle: msg.ReceiptHandle,
				Id:            msg.MessageId,
			})
		}
		return nil
	})

	// Handled messages are deleted even if ctx has been cancelled.
	_ = g2.Wait()
	if len(deleteEntries) == 0 {
		return nil
	}
	return p.delete(context.WithoutCancel(spanCtx), deleteEntries)
}

func (p *Poller) delete(ctx context.Context, entries []types.DeleteMessageBatchRequestEntry) error {
	resp, err := p.sqs.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: &p.queueUrl,
		Entries:  entries,
	})
	if err != nil {
		p.log.ErrorContext(
			ctx,
			"failed to batch delete messages",
			logging.Count("num_of_delete_entries", len(entries)),
			logging.Error(err),
		)
		return err
	}
	for _, entry := range resp.Failed {
		p.log.ErrorContext(
			ctx,
			"failed to delete message",
			slog.String("sqs_message_id", aws.ToString(entry.Id)),
			slog.String("sqs_error_code", aws.ToString(entry.Code)),
			slog.String("sqs_error_message", aws.ToString(entry.Message)),
			slog.Bool("sqs_sender_fault", entry.SenderFault),
		)
	}
	return nil
}
