package pgoutput

import (
	"bytes"
	"encoding/binary"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// postgresEpoch is the instant all pgoutput timestamps are measured from.
var postgresEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// cursor is a forward-only reader over one complete message buffer. Any
// read which would pass the end of the buffer fails with ErrUnexpectedEOF
// instead of returning a short result, since a single short read would
// silently desynchronize every field decoded after it.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor { return &cursor{buf: buf} }

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

// readBytes consumes exactly n bytes. The returned slice aliases the
// message buffer and must be copied if retained past the decode call.
func (c *cursor) readBytes(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, errors.Wrapf(ErrUnexpectedEOF, "reading %d bytes at offset %d of %d", n, c.pos, len(c.buf))
	}
	var bs = c.buf[c.pos : c.pos+n]
	c.pos += n
	return bs, nil
}

func (c *cursor) readByte() (byte, error) {
	bs, err := c.readBytes(1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

func (c *cursor) readInt8() (int8, error) {
	b, err := c.readByte()
	return int8(b), err
}

func (c *cursor) readInt16() (int16, error) {
	bs, err := c.readBytes(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(bs)), nil
}

func (c *cursor) readInt32() (int32, error) {
	bs, err := c.readBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(bs)), nil
}

func (c *cursor) readInt64() (int64, error) {
	bs, err := c.readBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(bs)), nil
}

// readText consumes exactly n bytes and decodes them as UTF-8 text.
func (c *cursor) readText(n int) (string, error) {
	bs, err := c.readBytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(bs) {
		return "", errors.Wrapf(ErrInvalidEncoding, "%d-byte text value at offset %d", n, c.pos-n)
	}
	return string(bs), nil
}

// readCString consumes bytes up to and including the next NUL terminator
// and returns the bytes before it as UTF-8 text. The scan is bounded by the
// remaining buffer length, so an unterminated identifier in a malformed
// buffer fails instead of consuming without limit.
func (c *cursor) readCString() (string, error) {
	var idx = bytes.IndexByte(c.buf[c.pos:], 0x00)
	if idx < 0 {
		return "", errors.Wrapf(ErrUnexpectedEOF, "unterminated string at offset %d", c.pos)
	}
	var bs = c.buf[c.pos : c.pos+idx]
	c.pos += idx + 1
	if !utf8.Valid(bs) {
		return "", errors.Wrapf(ErrInvalidEncoding, "string at offset %d", c.pos-idx-1)
	}
	return string(bs), nil
}

// readTimestamp reads an int64 microsecond offset from the PostgreSQL
// epoch (2000-01-01T00:00:00Z).
func (c *cursor) readTimestamp() (time.Time, error) {
	micros, err := c.readInt64()
	if err != nil {
		return time.Time{}, err
	}
	return postgresEpoch.Add(time.Duration(micros) * time.Microsecond), nil
}
