// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jpegmeta

import (
	"encoding/binary"
	"fmt"
)

// cursor is a bounds checked reader over an in-memory byte view.
// Note that this is not thread safe.
type cursor struct {
	b   []byte
	pos int64
}

func newCursor(b []byte) *cursor {
	return &cursor{b: b}
}

func (c *cursor) len() int64 {
	return int64(len(c.b))
}

// seek moves to the absolute position pos.
// Seeking past the end is allowed; the next read will fail.
func (c *cursor) seek(pos int64) {
	c.pos = pos
}

// remaining returns the number of bytes left in the view, 0 if the cursor is past the end.
func (c *cursor) remaining() int64 {
	if c.pos >= c.len() || c.pos < 0 {
		return 0
	}
	return c.len() - c.pos
}

func (c *cursor) check(off, n int64) error {
	if off < 0 || n < 0 || off > c.len() || n > c.len()-off {
		return fmt.Errorf("%w: %d bytes at offset %d (length %d)", ErrOutOfBounds, n, off, c.len())
	}
	return nil
}

// slice returns a view of n bytes at the absolute offset off.
// It does not move the cursor.
func (c *cursor) slice(off, n int64) ([]byte, error) {
	if err := c.check(off, n); err != nil {
		return nil, err
	}
	return c.b[off : off+n : off+n], nil
}

func (c *cursor) readN(n int64) ([]byte, error) {
	b, err := c.slice(c.pos, n)
	if err != nil {
		return nil, err
	}
	c.pos += n
	return b, nil
}

func (c *cursor) read1() (uint8, error) {
	b, err := c.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) read2(order binary.ByteOrder) (uint16, error) {
	b, err := c.readN(2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(b), nil
}

func (c *cursor) read4(order binary.ByteOrder) (uint32, error) {
	b, err := c.readN(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

// preservePos runs f and restores the position afterwards.
func (c *cursor) preservePos(f func() error) error {
	pos := c.pos
	err := f()
	c.seek(pos)
	return err
}
