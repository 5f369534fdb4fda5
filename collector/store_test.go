// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package collector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/z5labs/otlpstdout/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type secretsClientFunc func(context.Context, *secretsmanager.BatchGetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error)

func (f secretsClientFunc) BatchGetSecretValue(ctx context.Context, in *secretsmanager.BatchGetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error) {
	return f(ctx, in, opts...)
}

func secret(name, value string) types.SecretValueEntry {
	return types.SecretValueEntry{
		Name:         aws.String(name),
		SecretString: aws.String(value),
	}
}

func TestSecretsManagerStore_Load(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if secrets manager fails", func(t *testing.T) {
			getErr := errors.New("access denied")
			client := secretsClientFunc(func(_ context.Context, _ *secretsmanager.BatchGetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error) {
				return nil, getErr
			})

			_, err := NewSecretsManagerStore(client, "otlp/", LogHandler(slog.Default().Handler())).Load(context.Background())
			if !assert.ErrorIs(t, err, getErr) {
				return
			}
		})

		t.Run("if no secret is a valid destination", func(t *testing.T) {
			client := secretsClientFunc(func(_ context.Context, _ *secretsmanager.BatchGetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error) {
				return &secretsmanager.BatchGetSecretValueOutput{
					SecretValues: []types.SecretValueEntry{
						secret("otlp/broken", "{"),
						{Name: aws.String("otlp/binary")},
					},
				}, nil
			})

			_, err := NewSecretsManagerStore(client, "otlp/").Load(context.Background())
			if !assert.ErrorIs(t, err, ErrNoDestinations) {
				return
			}
		})
	})

	t.Run("will filter secrets by name prefix", func(t *testing.T) {
		var filters []types.Filter
		client := secretsClientFunc(func(_ context.Context, in *secretsmanager.BatchGetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error) {
			filters = in.Filters
			return &secretsmanager.BatchGetSecretValueOutput{
				SecretValues: []types.SecretValueEntry{
					secret("otlp/a", `{"name":"a","endpoint":"https://a.example.com"}`),
				},
			}, nil
		})

		_, err := NewSecretsManagerStore(client, "otlp/").Load(context.Background())
		require.NoError(t, err)
		require.Len(t, filters, 1)
		require.Equal(t, types.FilterNameStringTypeName, filters[0].Key)
		require.Equal(t, []string{"otlp/"}, filters[0].Values)
	})

	t.Run("will skip malformed secrets and follow pagination", func(t *testing.T) {
		calls := 0
		client := secretsClientFunc(func(_ context.Context, in *secretsmanager.BatchGetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error) {
			calls++
			if in.NextToken == nil {
				return &secretsmanager.BatchGetSecretValueOutput{
					SecretValues: []types.SecretValueEntry{
						secret("otlp/a", `{"name":"a","endpoint":"https://a.example.com"}`),
						secret("otlp/broken", `{"name":"broken"}`),
					},
					Errors: []types.APIErrorType{
						{SecretId: aws.String("otlp/denied"), ErrorCode: aws.String("AccessDeniedException")},
					},
					NextToken: aws.String("page-2"),
				}, nil
			}
			return &secretsmanager.BatchGetSecretValueOutput{
				SecretValues: []types.SecretValueEntry{
					secret("otlp/b", `{"name":"b","endpoint":"https://b.example.com","auth":"sigv4"}`),
				},
			}, nil
		})

		dests, err := NewSecretsManagerStore(client, "otlp/").Load(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, calls)
		require.Len(t, dests, 2)
		require.Equal(t, "a", dests[0].Name)
		require.Equal(t, "b", dests[1].Name)
		require.Equal(t, "sigv4", dests[1].Auth)
	})
}

func TestFileStore_Load(t *testing.T) {
	write := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), "collectors.yaml")
		err := os.WriteFile(path, []byte(content), 0o600)
		require.NoError(t, err)
		return path
	}

	t.Run("will load every destination", func(t *testing.T) {
		path := write(t, `
destinations:
  - name: primary
    endpoint: https://a.example.com
    auth: x-api-key=abc
  - name: secondary
    endpoint: https://b.example.com
    exclude: ^/aws/lambda/noisy
`)

		dests, err := NewFileStore(path).Load(context.Background())
		require.NoError(t, err)
		require.Len(t, dests, 2)
		require.Equal(t, "x-api-key=abc", dests[0].Auth)
		require.True(t, dests[1].Excludes("/aws/lambda/noisy-fn"))
	})

	t.Run("will return ErrValueNotSet if the file does not exist", func(t *testing.T) {
		_, err := NewFileStore(filepath.Join(t.TempDir(), "missing.yaml")).Load(context.Background())
		require.ErrorIs(t, err, config.ErrValueNotSet)
	})

	t.Run("will return ErrNoDestinations if the list is empty", func(t *testing.T) {
		path := write(t, "destinations: []\n")

		_, err := NewFileStore(path).Load(context.Background())
		require.ErrorIs(t, err, ErrNoDestinations)
	})

	t.Run("will fail on an invalid destination", func(t *testing.T) {
		path := write(t, "destinations:\n  - name: nope\n")

		_, err := NewFileStore(path).Load(context.Background())

		var ierr InvalidDestinationError
		require.ErrorAs(t, err, &ierr)
	})
}
