// Package httputil provides helpers for reading telemetry payloads safely.
package httputil

import (
	"bytes"
	"errors"
	"io"
)

const (
	// DefaultMaxResponseBodyBytes caps telemetry response bodies to 10MB.
	DefaultMaxResponseBodyBytes int64 = 10 * 1024 * 1024
)

var ErrResponseBodyTooLarge = errors.New("response body too large")

// ReadLimitedBody reads up to maxBytes from reader and returns ErrResponseBodyTooLarge when exceeded.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	limited := io.LimitReader(reader, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		body = body[:int(maxBytes)]
		return body, ErrResponseBodyTooLarge
	}
	return body, nil
}

// ReadTail returns the last maxBytes of reader, starting at a line boundary.
// Log sources can return more history than is worth parsing each poll; only
// the most recent complete lines are kept.
func ReadTail(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	buf := make([]byte, 0, maxBytes)
	chunk := make([]byte, 32*1024)
	truncated := false
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if over := int64(len(buf)) - maxBytes; over > 0 {
				buf = append(buf[:0], buf[over:]...)
				truncated = true
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if truncated {
		buf = DropPartialLine(buf)
	}
	return buf, nil
}

// DropPartialLine removes everything up to and including the first newline.
// It is applied to data read from the middle of a line-oriented stream.
func DropPartialLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b[:0]
}
