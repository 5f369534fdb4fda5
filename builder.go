// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otlpstdout

import (
	"context"
	"sync"
)

// Builder represents anything which can construct a value of type T.
type Builder[T any] interface {
	Build(context.Context) (T, error)
}

// BuilderFunc is a functional implementation of the [Builder] interface.
type BuilderFunc[T any] func(context.Context) (T, error)

// Build implements the [Builder] interface.
func (f BuilderFunc[T]) Build(ctx context.Context) (T, error) {
	return f(ctx)
}

// BuilderOf returns a [Builder] which always returns v.
func BuilderOf[T any](v T) Builder[T] {
	return BuilderFunc[T](func(_ context.Context) (T, error) {
		return v, nil
	})
}

// MustBuild builds b and panics if it fails.
func MustBuild[T any](ctx context.Context, b Builder[T]) T {
	v, err := b.Build(ctx)
	if err != nil {
		panic(err)
	}
	return v
}

// Map transforms the output of b with f.
func Map[A, B any](b Builder[A], f func(A) (B, error)) Builder[B] {
	return BuilderFunc[B](func(ctx context.Context) (B, error) {
		var zero B
		a, err := b.Build(ctx)
		if err != nil {
			return zero, err
		}
		v, err := f(a)
		if err != nil {
			return zero, err
		}
		return v, nil
	})
}

// Bind uses the output of b to select the next [Builder].
func Bind[A, B any](b Builder[A], f func(A) Builder[B]) Builder[B] {
	return BuilderFunc[B](func(ctx context.Context) (B, error) {
		a, err := b.Build(ctx)
		if err != nil {
			var zero B
			return zero, err
		}
		return f(a).Build(ctx)
	})
}

// MemoizeBuilder returns a [Builder] which only calls b once. Every
// subsequent Build returns the first result, including its error.
func MemoizeBuilder[T any](b Builder[T]) Builder[T] {
	var (
		once sync.Once
		v    T
		err  error
	)
	return BuilderFunc[T](func(ctx context.Context) (T, error) {
		once.Do(func() {
			v, err = b.Build(ctx)
		})
		return v, err
	})
}
