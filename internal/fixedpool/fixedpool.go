// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fixedpool runs a set of independent tasks with bounded concurrency
// and collects one outcome per task.
package fixedpool

import (
	"context"
	"sync"

	"github.com/z5labs/otlpstdout/internal/try"
)

// Task produces a single value.
type Task[T any] func(context.Context) (T, error)

// Outcome is the result of a single Task.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Wait runs every task, at most size at a time, and blocks until all of them
// have returned. A size less than one runs every task at once. Outcomes are
// returned in the same order as tasks. A failing or panicking task never
// cancels its siblings.
func Wait[T any](ctx context.Context, size int, tasks ...Task[T]) []Outcome[T] {
	outcomes := make([]Outcome[T], len(tasks))
	if len(tasks) == 0 {
		return outcomes
	}
	if size < 1 || size > len(tasks) {
		size = len(tasks)
	}

	sem := make(chan struct{}, size)
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			v, err := run(ctx, task)
			outcomes[i] = Outcome[T]{Value: v, Err: err}
		}()
	}
	wg.Wait()
	return outcomes
}

func run[T any](ctx context.Context, task Task[T]) (v T, err error) {
	defer try.Recover(&err)
	return task(ctx)
}
