// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command otlpstdout wraps OTLP export requests in envelopes and unwraps
// them again.
package main

import (
	"context"
	"os"
)

func main() {
	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		os.Exit(1)
	}
}
