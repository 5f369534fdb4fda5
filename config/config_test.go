// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	testCases := []struct {
		name        string
		reader      Reader[string]
		expectedVal string
		expectErr   error
	}{
		{
			name:        "returns value when set",
			reader:      ReaderOf("test"),
			expectedVal: "test",
		},
		{
			name: "returns error when reader fails",
			reader: ReaderFunc[string](func(ctx context.Context) (Value[string], error) {
				return Value[string]{}, errors.New("read failed")
			}),
			expectErr: errors.New("read failed"),
		},
		{
			name:      "returns error when value not set",
			reader:    EmptyReader[string](),
			expectErr: ErrValueNotSet,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			val, err := Read(context.Background(), tc.reader)
			if tc.expectErr != nil {
				require.Error(t, err)
				if tc.expectErr == ErrValueNotSet {
					require.ErrorIs(t, err, ErrValueNotSet)
				}
				require.Zero(t, val)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expectedVal, val)
		})
	}
}

func TestMustOr(t *testing.T) {
	require.Equal(t, 42, MustOr(context.Background(), 99, ReaderOf(42)))
	require.Equal(t, 99, MustOr(context.Background(), 99, EmptyReader[int]()))
	require.Panics(t, func() {
		MustOr(context.Background(), 1, ReaderFunc[int](func(ctx context.Context) (Value[int], error) {
			return Value[int]{}, errors.New("failed")
		}))
	})
}

func TestOr(t *testing.T) {
	testCases := []struct {
		name        string
		readers     []Reader[int]
		expectedVal int
		expectSet   bool
		expectErr   bool
	}{
		{
			name:        "returns first set value",
			readers:     []Reader[int]{EmptyReader[int](), ReaderOf(42), ReaderOf(99)},
			expectedVal: 42,
			expectSet:   true,
		},
		{
			name:    "returns unset when no readers have value",
			readers: []Reader[int]{EmptyReader[int](), EmptyReader[int]()},
		},
		{
			name: "propagates error",
			readers: []Reader[int]{
				EmptyReader[int](),
				ReaderFunc[int](func(ctx context.Context) (Value[int], error) {
					return Value[int]{}, errors.New("read failed")
				}),
			},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			val, err := Or(tc.readers...).Read(context.Background())
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			v, ok := val.Value()
			require.Equal(t, tc.expectSet, ok)
			require.Equal(t, tc.expectedVal, v)
		})
	}
}

func TestBind(t *testing.T) {
	t.Run("will not call the binder if the value is unset", func(t *testing.T) {
		r := Bind(EmptyReader[string](), func(ctx context.Context, s string) Reader[int] {
			panic("should not be called")
		})

		val, err := r.Read(context.Background())
		require.NoError(t, err)
		_, ok := val.Value()
		require.False(t, ok)
	})

	t.Run("will read from the bound reader", func(t *testing.T) {
		r := Bind(ReaderOf("key"), func(ctx context.Context, s string) Reader[int] {
			return ReaderOf(len(s))
		})

		n, err := Read(context.Background(), r)
		require.NoError(t, err)
		require.Equal(t, 3, n)
	})
}

func TestEnv(t *testing.T) {
	testCases := []struct {
		name        string
		value       *string
		expectedVal string
		expectSet   bool
	}{
		{
			name:        "set",
			value:       ptr("value"),
			expectedVal: "value",
			expectSet:   true,
		},
		{
			name:  "blank",
			value: ptr("  "),
		},
		{
			name: "missing",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key := "OTLPSTDOUT_CONFIG_TEST_ENV"
			if tc.value != nil {
				t.Setenv(key, *tc.value)
			}

			val, err := Env(key).Read(context.Background())
			require.NoError(t, err)
			v, ok := val.Value()
			require.Equal(t, tc.expectSet, ok)
			require.Equal(t, tc.expectedVal, v)
		})
	}
}

func TestParsers(t *testing.T) {
	t.Run("IntFromString", func(t *testing.T) {
		n, err := Read(context.Background(), IntFromString(ReaderOf(" 7 ")))
		require.NoError(t, err)
		require.Equal(t, 7, n)

		_, err = Read(context.Background(), IntFromString(ReaderOf("seven")))
		require.Error(t, err)
	})

	t.Run("BoolFromString", func(t *testing.T) {
		b, err := Read(context.Background(), BoolFromString(ReaderOf("true")))
		require.NoError(t, err)
		require.True(t, b)
	})

	t.Run("DurationFromString", func(t *testing.T) {
		d, err := Read(context.Background(), DurationFromString(ReaderOf("1m30s")))
		require.NoError(t, err)
		require.Equal(t, 90*time.Second, d)
	})

	t.Run("SecondsFromString", func(t *testing.T) {
		d, err := Read(context.Background(), SecondsFromString(ReaderOf("300")))
		require.NoError(t, err)
		require.Equal(t, 5*time.Minute, d)
	})

	t.Run("unset stays unset", func(t *testing.T) {
		val, err := IntFromString(EmptyReader[string]()).Read(context.Background())
		require.NoError(t, err)
		_, ok := val.Value()
		require.False(t, ok)
	})
}

func TestReadFile(t *testing.T) {
	t.Run("returns unset for non-existent file", func(t *testing.T) {
		val, err := ReadFile(filepath.Join(t.TempDir(), "missing.yaml")).Read(context.Background())
		require.NoError(t, err)
		_, ok := val.Value()
		require.False(t, ok)
	})

	t.Run("opens existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "exists.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

		f, err := Read(context.Background(), ReadFile(path))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	})
}

func ptr[T any](v T) *T {
	return &v
}
