package iolimit

import (
	"context"
	"io"
)

// WriterAt wraps an io.WriterAt with rate limiting.
type WriterAt struct {
	w   io.WriterAt
	l   *Limiter
	ctx context.Context
}

// NewWriterAt creates a rate limited io.WriterAt.
func NewWriterAt(ctx context.Context, w io.WriterAt, l *Limiter) *WriterAt {
	return &WriterAt{w: w, l: l, ctx: ctx}
}

func (w *WriterAt) WriteAt(p []byte, off int64) (int, error) {
	if err := w.l.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.WriteAt(p, off)
}

// Writer wraps an io.Writer with rate limiting.
type Writer struct {
	w   io.Writer
	l   *Limiter
	ctx context.Context
}

// NewWriter creates a rate limited io.Writer.
func NewWriter(ctx context.Context, w io.Writer, l *Limiter) *Writer {
	return &Writer{w: w, l: l, ctx: ctx}
}

func (w *Writer) Write(p []byte) (int, error) {
	if err := w.l.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}
