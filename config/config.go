// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"context"
	"errors"
)

// Value is a configuration value which may or may not be set.
type Value[T any] struct {
	v   T
	set bool
}

// ValueOf returns a set [Value].
func ValueOf[T any](v T) Value[T] {
	return Value[T]{v: v, set: true}
}

// Value returns the underlying value and whether it was set.
func (v Value[T]) Value() (T, bool) {
	return v.v, v.set
}

// Reader reads a configuration value.
type Reader[T any] interface {
	Read(context.Context) (Value[T], error)
}

// ReaderFunc is a functional implementation of the [Reader] interface.
type ReaderFunc[T any] func(context.Context) (Value[T], error)

// Read implements the [Reader] interface.
func (f ReaderFunc[T]) Read(ctx context.Context) (Value[T], error) {
	return f(ctx)
}

// ReaderOf returns a [Reader] which always yields v.
func ReaderOf[T any](v T) Reader[T] {
	return ReaderFunc[T](func(_ context.Context) (Value[T], error) {
		return ValueOf(v), nil
	})
}

// EmptyReader returns a [Reader] which never has a value.
func EmptyReader[T any]() Reader[T] {
	return ReaderFunc[T](func(_ context.Context) (Value[T], error) {
		return Value[T]{}, nil
	})
}

// ErrValueNotSet is returned by [Read] when the [Reader] yields an unset [Value].
var ErrValueNotSet = errors.New("config: value not set")

// Read reads r and requires its value to be set.
func Read[T any](ctx context.Context, r Reader[T]) (T, error) {
	var zero T
	val, err := r.Read(ctx)
	if err != nil {
		return zero, err
	}
	v, ok := val.Value()
	if !ok {
		return zero, ErrValueNotSet
	}
	return v, nil
}

// Must is like [Read] but panics on error.
func Must[T any](ctx context.Context, r Reader[T]) T {
	v, err := Read(ctx, r)
	if err != nil {
		panic(err)
	}
	return v
}

// MustOr returns def if r is unset and panics if r fails.
func MustOr[T any](ctx context.Context, def T, r Reader[T]) T {
	return Must(ctx, Default(def, r))
}

// Default yields def whenever r is unset.
func Default[T any](def T, r Reader[T]) Reader[T] {
	return ReaderFunc[T](func(ctx context.Context) (Value[T], error) {
		val, err := r.Read(ctx)
		if err != nil {
			return Value[T]{}, err
		}
		if _, ok := val.Value(); ok {
			return val, nil
		}
		return ValueOf(def), nil
	})
}

// Or yields the first set value from rs, in order.
func Or[T any](rs ...Reader[T]) Reader[T] {
	return ReaderFunc[T](func(ctx context.Context) (Value[T], error) {
		for _, r := range rs {
			val, err := r.Read(ctx)
			if err != nil {
				return Value[T]{}, err
			}
			if _, ok := val.Value(); ok {
				return val, nil
			}
		}
		return Value[T]{}, nil
	})
}

// Map transforms a set value with f. Unset values stay unset.
func Map[A, B any](r Reader[A], f func(context.Context, A) (B, error)) Reader[B] {
	return ReaderFunc[B](func(ctx context.Context) (Value[B], error) {
		val, err := r.Read(ctx)
		if err != nil {
			return Value[B]{}, err
		}
		a, ok := val.Value()
		if !ok {
			return Value[B]{}, nil
		}
		b, err := f(ctx, a)
		if err != nil {
			return Value[B]{}, err
		}
		return ValueOf(b), nil
	})
}

// Bind uses a set value to choose the next [Reader].
func Bind[A, B any](r Reader[A], f func(context.Context, A) Reader[B]) Reader[B] {
	return ReaderFunc[B](func(ctx context.Context) (Value[B], error) {
		val, err := r.Read(ctx)
		if err != nil {
			return Value[B]{}, err
		}
		a, ok := val.Value()
		if !ok {
			return Value[B]{}, nil
		}
		return f(ctx, a).Read(ctx)
	})
}
