// Package capture drains a process output pipe into a durable capture
// file, enforcing a configurable size cap so a noisy job cannot grow its
// captures without bound. Output beyond the cap is discarded and the
// truncation recorded.
package capture

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

const (
	// readBufferSize is the temporary buffer size for reading from the
	// source pipe. 4KB aligns with typical pipe buffer sizes.
	readBufferSize = 4096
)

// Writer appends to a capture file up to a byte limit. Writes past the
// limit are accepted and discarded so the draining side keeps the pipe
// empty and the wrapped process never blocks on a full capture.
type Writer struct {
	f         *os.File
	limit     int64
	written   int64
	truncated atomic.Bool
}

// NewWriter creates a Writer appending to f with the given byte limit. A
// limit of zero or less means unbounded.
func NewWriter(f *os.File, limit int64) *Writer {
	return &Writer{f: f, limit: limit}
}

// Write implements io.Writer. It always reports the full length as
// written; data beyond the limit is dropped.
func (w *Writer) Write(p []byte) (int, error) {
	keep := int64(len(p))

	if w.limit > 0 && w.written+keep > w.limit {
		keep = w.limit - w.written
		w.truncated.Store(true)
	}

	if keep > 0 {
		n, err := w.f.Write(p[:keep])
		w.written += int64(n)
		if err != nil {
			return n, err
		}
	}

	return len(p), nil
}

// Truncated reports whether any output was discarded because the limit
// was reached.
func (w *Writer) Truncated() bool {
	return w.truncated.Load()
}

// Close flushes and closes the underlying capture file.
func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}

	return w.f.Close()
}

// Drain copies from source into w until source reaches end-of-stream,
// which happens when every write end of the pipe has been closed, i.e. on
// termination of the wrapped process.
func Drain(source io.Reader, w *Writer) error {
	buffer := make([]byte, readBufferSize)

	for {
		n, err := source.Read(buffer)
		if n > 0 {
			if _, werr := w.Write(buffer[:n]); werr != nil {
				return fmt.Errorf("failed to write capture: %w", werr)
			}
		}

		if err != nil {
			if err == io.EOF {
				return nil
			}

			return fmt.Errorf("failed to read output pipe: %w", err)
		}
	}
}
