// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package envelope

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// DefaultCompressionLevel is used when compression is enabled without a level.
const DefaultCompressionLevel = 6

// DecompressError is returned when gzip content cannot be read.
type DecompressError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e DecompressError) Error() string {
	return fmt.Sprintf("failed to decompress payload: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e DecompressError) Unwrap() error {
	return e.Cause
}

// Compress gzips b at the given level, 0 through 9.
func Compress(b []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	_, err = zw.Write(b)
	if err != nil {
		return nil, err
	}
	err = zw.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress gunzips b.
func Decompress(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, DecompressError{Cause: err}
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, DecompressError{Cause: err}
	}
	return out, nil
}

// IsGzip reports whether b starts with the gzip magic number.
func IsGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}
