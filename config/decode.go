// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Decode copies a generic document, e.g. the result of unmarshalling JSON
// or YAML into a map, onto v. Struct fields are matched with the "config" tag.
func Decode(input any, v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		Result:           v,
		ErrorUnused:      false,
		ZeroFields:       true,
		WeaklyTypedInput: false,
		DecodeHook: composeDecodeHooks(
			textUnmarshalerHookFunc(),
			timeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// InvalidYAMLError occurs when a YAML document cannot be parsed.
type InvalidYAMLError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e InvalidYAMLError) Error() string {
	return fmt.Sprintf("invalid yaml: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidYAMLError) Unwrap() error {
	return e.Cause
}

// YAML parses the file yielded by r and decodes it into a T. The file is
// always closed.
func YAML[T any](r Reader[*os.File]) Reader[T] {
	return Map(r, func(_ context.Context, f *os.File) (v T, err error) {
		defer func() {
			cerr := f.Close()
			if cerr != nil {
				err = errors.Join(err, cerr)
			}
		}()

		b, err := io.ReadAll(f)
		if err != nil {
			return v, err
		}

		var doc any
		err = yaml.Unmarshal(b, &doc)
		if err != nil {
			return v, InvalidYAMLError{Cause: err}
		}

		err = Decode(doc, &v)
		return v, err
	})
}

var errInvalidDecodeCondition = errors.New("invalid decode condition")

// TypeCoercionError occurs when a document value cannot be converted
// to the type of the struct field it is decoded into.
type TypeCoercionError struct {
	From  reflect.Type
	To    reflect.Type
	Cause error
}

// Error implements the [builtin.error] interface.
func (e TypeCoercionError) Error() string {
	return fmt.Sprintf("failed to coerce value from %s to %s: %s", e.From, e.To, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e TypeCoercionError) Unwrap() error {
	return e.Cause
}

func composeDecodeHooks(hs ...mapstructure.DecodeHookFunc) mapstructure.DecodeHookFuncValue {
	return func(f, t reflect.Value) (any, error) {
		for _, h := range hs {
			v, err := mapstructure.DecodeHookExec(h, f, t)
			if err == nil {
				return v, nil
			}
			if errors.Is(err, errInvalidDecodeCondition) {
				continue
			}
			return nil, TypeCoercionError{
				From:  f.Type(),
				To:    t.Type(),
				Cause: err,
			}
		}
		return f.Interface(), nil
	}
}

func textUnmarshalerHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return nil, errInvalidDecodeCondition
		}
		result := reflect.New(t).Interface()
		u, ok := result.(encoding.TextUnmarshaler)
		if !ok {
			return nil, errInvalidDecodeCondition
		}
		err := u.UnmarshalText([]byte(data.(string)))
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func timeDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return nil, errInvalidDecodeCondition
		}

		switch f.Kind() {
		case reflect.String:
			return time.ParseDuration(data.(string))
		case reflect.Int:
			return time.Duration(data.(int)) * time.Second, nil
		default:
			return nil, errInvalidDecodeCondition
		}
	}
}
