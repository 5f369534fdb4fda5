// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otlpstdout

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	testCases := []struct {
		name        string
		builder     Builder[int]
		mapper      func(int) (string, error)
		expectedVal string
		expectErr   bool
	}{
		{
			name:        "maps built value",
			builder:     BuilderOf(42),
			mapper:      func(i int) (string, error) { return strconv.Itoa(i), nil },
			expectedVal: "42",
		},
		{
			name: "skips mapper when builder fails",
			builder: BuilderFunc[int](func(ctx context.Context) (int, error) {
				return 7, errors.New("build failed")
			}),
			mapper: func(i int) (string, error) {
				panic("mapper should not be called")
			},
			expectErr: true,
		},
		{
			name:    "propagates mapper error",
			builder: BuilderOf(1),
			mapper: func(i int) (string, error) {
				return "ignored", errors.New("map failed")
			},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			val, err := Map(tc.builder, tc.mapper).Build(context.Background())
			if tc.expectErr {
				require.Error(t, err)
				require.Zero(t, val)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expectedVal, val)
		})
	}
}

func TestBind(t *testing.T) {
	t.Run("will chain the builders", func(t *testing.T) {
		b := Bind(BuilderOf("3"), func(s string) Builder[int] {
			return BuilderFunc[int](func(ctx context.Context) (int, error) {
				return strconv.Atoi(s)
			})
		})

		n, err := b.Build(context.Background())
		require.NoError(t, err)
		require.Equal(t, 3, n)
	})

	t.Run("will not call the binder if the first builder fails", func(t *testing.T) {
		buildErr := errors.New("failed")
		b := Bind(
			BuilderFunc[string](func(ctx context.Context) (string, error) {
				return "", buildErr
			}),
			func(s string) Builder[int] {
				panic("binder should not be called")
			},
		)

		_, err := b.Build(context.Background())
		require.ErrorIs(t, err, buildErr)
	})
}

func TestMemoizeBuilder(t *testing.T) {
	var calls atomic.Int32
	b := MemoizeBuilder(BuilderFunc[int](func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}))

	for range 3 {
		n, err := b.Build(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	require.Equal(t, int32(1), calls.Load())
}

func TestMustBuild(t *testing.T) {
	require.Equal(t, 5, MustBuild(context.Background(), BuilderOf(5)))
	require.Panics(t, func() {
		MustBuild(context.Background(), BuilderFunc[int](func(ctx context.Context) (int, error) {
			return 0, errors.New("failed")
		}))
	})
}
