// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package collector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/z5labs/otlpstdout/internal/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SecretError describes a secret which could not be used as a destination.
type SecretError struct {
	Name  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e SecretError) Error() string {
	return fmt.Sprintf("secret %q: %s", e.Name, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e SecretError) Unwrap() error {
	return e.Cause
}

type secretsClient interface {
	BatchGetSecretValue(context.Context, *secretsmanager.BatchGetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error)
}

type secretsManagerOptions struct {
	logHandler slog.Handler
}

// SecretsManagerOption configures a [SecretsManagerStore].
type SecretsManagerOption func(*secretsManagerOptions)

// LogHandler configures the underlying [slog.Handler].
func LogHandler(h slog.Handler) SecretsManagerOption {
	return func(o *secretsManagerOptions) {
		o.logHandler = h
	}
}

// SecretsManagerStore loads one destination per secret whose name starts
// with a prefix.
type SecretsManagerStore struct {
	log    *slog.Logger
	client secretsClient
	prefix string
}

// NewSecretsManagerStore returns a [SecretsManagerStore]. The client is
// usually a *secretsmanager.Client.
func NewSecretsManagerStore(client secretsClient, prefix string, opts ...SecretsManagerOption) *SecretsManagerStore {
	o := &secretsManagerOptions{
		logHandler: logging.NoopHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return &SecretsManagerStore{
		log:    logging.New(o.logHandler),
		client: client,
		prefix: prefix,
	}
}

// Load implements the [Store] interface. Secrets which cannot be read or
// parsed are logged and skipped; [ErrNoDestinations] is returned if none
// are left.
func (s *SecretsManagerStore) Load(ctx context.Context) ([]Destination, error) {
	spanCtx, span := otel.Tracer("collector").Start(ctx, "SecretsManagerStore.Load", trace.WithAttributes(
		attribute.String("collector.secrets.prefix", s.prefix),
	))
	defer span.End()

	input := &secretsmanager.BatchGetSecretValueInput{
		Filters: []types.Filter{
			{
				Key:    types.FilterNameStringTypeName,
				Values: []string{s.prefix},
			},
		},
	}

	var dests []Destination
	for {
		resp, err := s.client.BatchGetSecretValue(spanCtx, input)
		if err != nil {
			s.log.ErrorContext(spanCtx, "failed to get secret values", logging.Error(err))
			span.RecordError(err)
			return nil, err
		}

		for _, apiErr := range resp.Errors {
			s.log.ErrorContext(
				spanCtx,
				"failed to read secret",
				slog.String("secret_id", aws.ToString(apiErr.SecretId)),
				slog.String("error_code", aws.ToString(apiErr.ErrorCode)),
				slog.String("error_message", aws.ToString(apiErr.ErrorMessage)),
			)
		}

		for _, entry := range resp.SecretValues {
			d, err := s.parse(entry)
			if err != nil {
				s.log.ErrorContext(spanCtx, "skipping secret", logging.Error(err))
				continue
			}
			dests = append(dests, d)
		}

		if aws.ToString(resp.NextToken) == "" {
			break
		}
		input.NextToken = resp.NextToken
	}

	span.SetAttributes(attribute.Int("collector.destinations.count", len(dests)))
	if len(dests) == 0 {
		return nil, ErrNoDestinations
	}

	s.log.InfoContext(spanCtx, "loaded collector destinations", logging.Count("num_of_destinations", len(dests)))
	return dests, nil
}

func (s *SecretsManagerStore) parse(entry types.SecretValueEntry) (Destination, error) {
	name := aws.ToString(entry.Name)
	if entry.SecretString == nil {
		return Destination{}, SecretError{Name: name, Cause: fmt.Errorf("missing secret string")}
	}

	d, err := ParseDestination([]byte(*entry.SecretString))
	if err != nil {
		return Destination{}, SecretError{Name: name, Cause: err}
	}
	return d, nil
}
