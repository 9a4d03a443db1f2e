package logging

import (
	"bytes"
	"io"
	"sync"
)

// BufferedWriter passes writes through until Buffer is called; from then on
// lines are held until Flush writes them to the underlying writer in one
// call.
type BufferedWriter struct {
	mu        sync.Mutex
	out       io.Writer
	buffering bool
	buf       bytes.Buffer
}

// NewBufferedWriter wraps out.
func NewBufferedWriter(out io.Writer) *BufferedWriter {
	return &BufferedWriter{out: out}
}

// Write implements io.Writer.
func (w *BufferedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buffering {
		return w.buf.Write(p)
	}
	return w.out.Write(p)
}

// Buffer starts holding writes. It is a no-op while already buffering.
func (w *BufferedWriter) Buffer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffering = true
}

// Buffering reports whether writes are currently held.
func (w *BufferedWriter) Buffering() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buffering
}

// Flush writes everything held and resumes pass-through writes.
func (w *BufferedWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffering = false
	if w.buf.Len() == 0 {
		return nil
	}
	_, err := w.out.Write(w.buf.Bytes())
	w.buf.Reset()
	return err
}
