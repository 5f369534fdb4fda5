// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

// Env reads the environment variable key. A missing or empty variable is unset.
func Env(key string) Reader[string] {
	return ReaderFunc[string](func(_ context.Context) (Value[string], error) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return Value[string]{}, nil
		}
		return ValueOf(v), nil
	})
}

// BoolFromString parses the value of r with [strconv.ParseBool].
func BoolFromString(r Reader[string]) Reader[bool] {
	return Map(r, func(_ context.Context, s string) (bool, error) {
		return strconv.ParseBool(strings.TrimSpace(s))
	})
}

// IntFromString parses the value of r with [strconv.Atoi].
func IntFromString(r Reader[string]) Reader[int] {
	return Map(r, func(_ context.Context, s string) (int, error) {
		return strconv.Atoi(strings.TrimSpace(s))
	})
}

// DurationFromString parses the value of r with [time.ParseDuration].
func DurationFromString(r Reader[string]) Reader[time.Duration] {
	return Map(r, func(_ context.Context, s string) (time.Duration, error) {
		return time.ParseDuration(strings.TrimSpace(s))
	})
}

// SecondsFromString parses the value of r as a whole number of seconds.
func SecondsFromString(r Reader[string]) Reader[time.Duration] {
	return Map(IntFromString(r), func(_ context.Context, n int) (time.Duration, error) {
		return time.Duration(n) * time.Second, nil
	})
}

// ReadFile opens the file at path. A file which does not exist is unset.
func ReadFile(path string) Reader[*os.File] {
	return ReaderFunc[*os.File](func(_ context.Context) (Value[*os.File], error) {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			return Value[*os.File]{}, nil
		}
		if err != nil {
			return Value[*os.File]{}, err
		}
		return ValueOf(f), nil
	})
}
