package colmap

import (
	"bytes"
	"encoding/binary"
	"math"
)

// cursor is a little-endian reader over an in-memory byte buffer. Every read
// that would cross the end of the buffer fails with a DecodeError carrying
// the current offset.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) read(n int) ([]byte, error) {
	if n < 0 || n > len(c.buf)-c.off {
		return nil, &DecodeError{Offset: c.off, Want: n, Got: len(c.buf) - c.off}
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) skip(n int) error {
	_, err := c.read(n)
	return err
}

func (c *cursor) int32() (int32, error) {
	b, err := c.read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (c *cursor) uint64() (uint64, error) {
	b, err := c.read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) float64() (float64, error) {
	b, err := c.read(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (c *cursor) float64s(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		v, err := c.float64()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// cstring reads bytes up to and including a NUL terminator.
func (c *cursor) cstring() (string, error) {
	i := bytes.IndexByte(c.buf[c.off:], 0)
	if i < 0 {
		return "", &DecodeError{Offset: c.off, Reason: "unterminated string"}
	}
	s := string(c.buf[c.off : c.off+i])
	c.off += i + 1
	return s, nil
}
