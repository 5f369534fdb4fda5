// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config provides composable readers for configuration values.
//
// A [Reader] yields a [Value] which is either set or unset, letting callers
// express precedence between sources without confusing "not set" with
// "set to the zero value":
//
//	endpoint, err := config.Read(ctx,
//	    config.Default(
//	        "http://localhost:4318/v1/traces",
//	        config.Or(
//	            config.Env("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"),
//	            config.Env("OTEL_EXPORTER_OTLP_ENDPOINT"),
//	        ),
//	    ),
//	)
//
// Structured documents (YAML files, JSON secrets) are decoded into Go types
// with [Decode], which uses the "config" struct tag.
package config
