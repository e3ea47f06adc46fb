package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestReadWriteRoundTrip(t *testing.T) {
	input := strings.Repeat("the quick brown fox\n", 1000)
	var out bytes.Buffer

	c := NewChain(ChainConfig{BlockSize: 37, Blocks: 3})
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return NewRead(strings.NewReader(input)).Run(ctx, c) })
	g.Go(func() error { return NewWrite(&out).Run(ctx, c) })
	require.NoError(t, g.Wait())
	require.Equal(t, input, out.String())
}

func TestReadEmptyInput(t *testing.T) {
	var out bytes.Buffer
	c := NewChain(ChainConfig{BlockSize: 8, Blocks: 2})
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return NewRead(strings.NewReader("")).Run(ctx, c) })
	g.Go(func() error { return NewWrite(&out).Run(ctx, c) })
	require.NoError(t, g.Wait())
	require.Zero(t, out.Len())
}

func TestPReadExactRange(t *testing.T) {
	data := []byte("0123456789abcdefghij")
	got, err := ReadAll(context.Background(), NewPRead(bytes.NewReader(data), 5, 12), ChainConfig{BlockSize: 5, Blocks: 2})
	require.NoError(t, err)
	require.Equal(t, data[5:17], got)
}

func TestPReadShortRangeIsFatal(t *testing.T) {
	data := []byte("0123456789")
	_, err := ReadAll(context.Background(), NewPRead(bytes.NewReader(data), 4, 20), ChainConfig{BlockSize: 4, Blocks: 2})
	require.ErrorIs(t, err, ErrReadSize)
}

func TestReadAllRejectsNegativeSize(t *testing.T) {
	_, err := ReadAll(context.Background(), NewPRead(bytes.NewReader([]byte("abc")), 0, -1), ChainConfig{})
	require.ErrorIs(t, err, ErrReadSize)
}

func TestPReadConcurrentOnSharedReader(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 512)
	shared := bytes.NewReader(data)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		off := int64(i * 512)
		g.Go(func() error {
			got, err := ReadAll(context.Background(), NewPRead(shared, off, 512), ChainConfig{BlockSize: 64, Blocks: 2})
			if err != nil {
				return err
			}
			if !bytes.Equal(got, data[off:off+512]) {
				return errors.New("mismatched range")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestChainReaderWriter(t *testing.T) {
	c := NewChain(ChainConfig{BlockSize: 4, Blocks: 2})
	ctx := context.Background()
	var got []byte
	var g errgroup.Group
	g.Go(func() error {
		w := NewChainWriter(ctx, c)
		if _, err := io.WriteString(w, "hello, "); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "chained world"); err != nil {
			return err
		}
		return w.Close()
	})
	g.Go(func() error {
		r := NewChainReader(ctx, c)
		b, err := io.ReadAll(r)
		got = b
		return err
	})
	require.NoError(t, g.Wait())
	require.Equal(t, "hello, chained world", string(got))
}

func TestChainReaderCloseDrainsProducer(t *testing.T) {
	c := NewChain(ChainConfig{BlockSize: 2, Blocks: 1})
	ctx := context.Background()
	var g errgroup.Group
	g.Go(func() error { return NewRead(strings.NewReader(strings.Repeat("x", 100))).Run(ctx, c) })

	r := NewChainReader(ctx, c)
	buf := make([]byte, 1)
	_, err := r.Read(buf)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, g.Wait())
}

func TestAcquireHonoursCancellation(t *testing.T) {
	c := NewChain(ChainConfig{BlockSize: 1, Blocks: 1})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Acquire(ctx)
	require.NoError(t, err)
	cancel()
	_, err = c.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
