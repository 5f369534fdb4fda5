// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package collector

import (
	"context"
	"errors"
)

// ErrNoDestinations is returned when no usable destination could be loaded.
var ErrNoDestinations = errors.New("no collector destinations")

// Store loads every configured destination.
type Store interface {
	Load(context.Context) ([]Destination, error)
}

// StoreFunc is a func implementation of [Store].
type StoreFunc func(context.Context) ([]Destination, error)

// Load implements the [Store] interface.
func (f StoreFunc) Load(ctx context.Context) ([]Destination, error) {
	return f(ctx)
}

// StaticStore always loads dests.
func StaticStore(dests ...Destination) Store {
	return StoreFunc(func(_ context.Context) ([]Destination, error) {
		if len(dests) == 0 {
			return nil, ErrNoDestinations
		}
		return dests, nil
	})
}
