package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
)

// ErrReadSize reports that a positioned read returned fewer bytes than the
// range it was asked for. The input is truncated or corrupt; callers should
// not retry.
var ErrReadSize = apperrors.ErrShortRead

// Read fills blocks from r sequentially until EOF. It relies on r's implicit
// position, so one Read per reader.
type Read struct {
	r io.Reader
}

func NewRead(r io.Reader) Read {
	return Read{r: r}
}

func (rd Read) Run(ctx context.Context, c *Chain) error {
	defer c.Close()
	for {
		b, err := c.Acquire(ctx)
		if err != nil {
			return err
		}
		n, err := io.ReadFull(rd.r, b.data)
		b.n = n
		if n > 0 {
			if sendErr := c.Send(ctx, b); sendErr != nil {
				return sendErr
			}
		} else {
			c.Recycle(b)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("stream read: %w", err)
		}
	}
}

// PRead reads exactly size bytes starting at offset. It never touches a
// shared file position, so any number of PReads may run against one file
// concurrently.
type PRead struct {
	r      io.ReaderAt
	offset int64
	size   int64
}

func NewPRead(r io.ReaderAt, offset, size int64) PRead {
	return PRead{r: r, offset: offset, size: size}
}

func (p PRead) Run(ctx context.Context, c *Chain) error {
	defer c.Close()
	off, remaining := p.offset, p.size
	for remaining > 0 {
		b, err := c.Acquire(ctx)
		if err != nil {
			return err
		}
		want := int64(len(b.data))
		if remaining < want {
			want = remaining
		}
		n, err := p.r.ReadAt(b.data[:want], off)
		if int64(n) < want {
			c.Recycle(b)
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("stream pread at offset %d: %w", off, err)
			}
			return fmt.Errorf("stream pread at offset %d: wanted %d bytes, got %d: %w", off, want, n, ErrReadSize)
		}
		b.n = n
		if err := c.Send(ctx, b); err != nil {
			return err
		}
		off += int64(n)
		remaining -= int64(n)
	}
	return nil
}

// Write drains the chain into w, recycling each block once written.
type Write struct {
	w io.Writer
}

func NewWrite(w io.Writer) Write {
	return Write{w: w}
}

func (wr Write) Run(ctx context.Context, c *Chain) error {
	for {
		b, ok, err := c.Receive(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		_, err = wr.w.Write(b.Bytes())
		c.Recycle(b)
		if err != nil {
			return fmt.Errorf("stream write: %w", err)
		}
	}
}

// ReadAll collects everything a PRead delivers into one buffer.
func ReadAll(ctx context.Context, p PRead, cfg ChainConfig) ([]byte, error) {
	if p.size < 0 {
		return nil, fmt.Errorf("stream pread of negative size %d: %w", p.size, ErrReadSize)
	}
	c := NewChain(cfg)
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx, c) }()

	buf := make([]byte, 0, p.size)
	for {
		b, ok, err := c.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		buf = append(buf, b.Bytes()...)
		c.Recycle(b)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return buf, nil
}
