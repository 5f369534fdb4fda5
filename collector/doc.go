// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package collector resolves the set of OTLP collectors a forwarder relays
// envelopes to.
//
// Destinations are loaded from a [Store], e.g. AWS Secrets Manager or a
// YAML file, and held by a [Cache] for a configurable TTL so that the store
// is only consulted once per TTL window.
package collector
