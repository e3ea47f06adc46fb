// Package stream moves bytes between pipeline stages in fixed-size blocks.
// A Chain owns a bounded set of blocks that cycle from a producer (Read,
// PRead, ChainWriter) to a consumer (Write, ChainReader) and back, so a
// pipeline runs in constant memory however large its input is.
package stream

import (
	"context"
	"sync"
)

const (
	defaultBlockSize = 1 << 20
	defaultBlocks    = 4
)

type ChainConfig struct {
	BlockSize int
	Blocks    int
}

type Block struct {
	data []byte
	n    int
}

// Bytes returns the valid part of the block.
func (b *Block) Bytes() []byte {
	return b.data[:b.n]
}

func (b *Block) Len() int {
	return b.n
}

// Chain connects exactly one producer with one consumer.
type Chain struct {
	free      chan *Block
	full      chan *Block
	closeOnce sync.Once
}

func NewChain(cfg ChainConfig) *Chain {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = defaultBlockSize
	}
	if cfg.Blocks <= 0 {
		cfg.Blocks = defaultBlocks
	}
	c := &Chain{
		free: make(chan *Block, cfg.Blocks),
		full: make(chan *Block, cfg.Blocks),
	}
	for i := 0; i < cfg.Blocks; i++ {
		c.free <- &Block{data: make([]byte, cfg.BlockSize)}
	}
	return c
}

// Acquire hands an empty block to the producer, waiting for the consumer to
// recycle one if none is free.
func (c *Chain) Acquire(ctx context.Context) (*Block, error) {
	select {
	case b := <-c.free:
		b.n = 0
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send passes a filled block to the consumer.
func (c *Chain) Send(ctx context.Context, b *Block) error {
	select {
	case c.full <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the stream. Only the producer calls it.
func (c *Chain) Close() {
	c.closeOnce.Do(func() { close(c.full) })
}

// Receive returns the next filled block, or ok == false once the producer
// has closed the chain and every block has been delivered.
func (c *Chain) Receive(ctx context.Context) (b *Block, ok bool, err error) {
	select {
	case b, ok = <-c.full:
		return b, ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Recycle returns a consumed block to the producer side.
func (c *Chain) Recycle(b *Block) {
	b.n = 0
	select {
	case c.free <- b:
	default:
	}
}
