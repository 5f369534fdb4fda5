// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otlpstdout

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

// Runtime represents a long lived or one-shot unit of work, e.g. the
// Lambda handler loop or the SQS poller.
type Runtime interface {
	Run(context.Context) error
}

// RuntimeFunc is a functional implementation of the [Runtime] interface.
type RuntimeFunc func(context.Context) error

// Run implements the [Runtime] interface.
func (f RuntimeFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Runner builds and executes a T.
type Runner[T any] interface {
	Run(context.Context, Builder[T]) error
}

// RunnerFunc is a functional implementation of the [Runner] interface.
type RunnerFunc[T any] func(context.Context, Builder[T]) error

// Run implements the [Runner] interface.
func (f RunnerFunc[T]) Run(ctx context.Context, b Builder[T]) error {
	return f(ctx, b)
}

// BuildError is returned by [DefaultRunner] when the [Builder] fails.
type BuildError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e BuildError) Error() string {
	return fmt.Sprintf("failed to build runtime: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e BuildError) Unwrap() error {
	return e.Cause
}

// RunError is returned by [DefaultRunner] when the built [Runtime] fails.
type RunError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e RunError) Error() string {
	return fmt.Sprintf("failed to run: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e RunError) Unwrap() error {
	return e.Cause
}

// DefaultRunner builds the [Runtime] and then runs it.
func DefaultRunner[T Runtime]() Runner[T] {
	return RunnerFunc[T](func(ctx context.Context, b Builder[T]) error {
		rt, err := b.Build(ctx)
		if err != nil {
			return BuildError{Cause: err}
		}

		err = rt.Run(ctx)
		if err != nil {
			return RunError{Cause: err}
		}
		return nil
	})
}

// NotifyOnSignal cancels the context given to r when any of sigs are received.
func NotifyOnSignal[T any](r Runner[T], sigs ...os.Signal) Runner[T] {
	return RunnerFunc[T](func(ctx context.Context, b Builder[T]) error {
		sigCtx, stop := signal.NotifyContext(ctx, sigs...)
		defer stop()

		return r.Run(sigCtx, b)
	})
}

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value any
}

// Error implements the [builtin.error] interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("recovered from panic: %v", e.Value)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// RecoverPanics converts any panic raised while building or running into a [PanicError].
func RecoverPanics[T any](r Runner[T]) Runner[T] {
	return RunnerFunc[T](func(ctx context.Context, b Builder[T]) (err error) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			err = PanicError{Value: v}
		}()

		return r.Run(ctx, b)
	})
}
