package stream

import (
	"context"
	"io"
)

// ChainReader exposes the consumer side of a chain as an io.Reader.
type ChainReader struct {
	ctx  context.Context
	c    *Chain
	cur  *Block
	off  int
	done bool
}

func NewChainReader(ctx context.Context, c *Chain) *ChainReader {
	return &ChainReader{ctx: ctx, c: c}
}

func (r *ChainReader) Read(p []byte) (int, error) {
	for r.cur == nil {
		if r.done {
			return 0, io.EOF
		}
		b, ok, err := r.c.Receive(r.ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			r.done = true
			return 0, io.EOF
		}
		if b.n == 0 {
			r.c.Recycle(b)
			continue
		}
		r.cur, r.off = b, 0
	}
	n := copy(p, r.cur.data[r.off:r.cur.n])
	r.off += n
	if r.off == r.cur.n {
		r.c.Recycle(r.cur)
		r.cur = nil
	}
	return n, nil
}

// Close discards whatever the producer still sends so it can run to
// completion.
func (r *ChainReader) Close() error {
	if r.cur != nil {
		r.c.Recycle(r.cur)
		r.cur = nil
	}
	for !r.done {
		b, ok, err := r.c.Receive(r.ctx)
		if err != nil {
			return err
		}
		if !ok {
			r.done = true
			break
		}
		r.c.Recycle(b)
	}
	return nil
}

// ChainWriter exposes the producer side of a chain as an io.Writer. Close
// flushes the last partial block and ends the stream.
type ChainWriter struct {
	ctx context.Context
	c   *Chain
	cur *Block
}

func NewChainWriter(ctx context.Context, c *Chain) *ChainWriter {
	return &ChainWriter{ctx: ctx, c: c}
}

func (w *ChainWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if w.cur == nil {
			b, err := w.c.Acquire(w.ctx)
			if err != nil {
				return written, err
			}
			w.cur = b
		}
		n := copy(w.cur.data[w.cur.n:], p)
		w.cur.n += n
		p = p[n:]
		written += n
		if w.cur.n == len(w.cur.data) {
			if err := w.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *ChainWriter) flush() error {
	b := w.cur
	w.cur = nil
	return w.c.Send(w.ctx, b)
}

func (w *ChainWriter) Close() error {
	defer w.c.Close()
	if w.cur == nil {
		return nil
	}
	if w.cur.n == 0 {
		w.c.Recycle(w.cur)
		w.cur = nil
		return nil
	}
	return w.flush()
}
