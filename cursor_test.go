package pgoutput

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCursorIntegerReads(t *testing.T) {
	var buf []byte
	buf = append(buf, 0x7F, 0x80)
	buf = appendInt16(buf, -2)
	buf = appendInt32(buf, 123456789)
	buf = appendInt64(buf, -987654321012345678)

	var c = newCursor(buf)

	v8, err := c.readInt8()
	require.NoError(t, err)
	require.Equal(t, int8(127), v8)

	v8, err = c.readInt8()
	require.NoError(t, err)
	require.Equal(t, int8(-128), v8)

	v16, err := c.readInt16()
	require.NoError(t, err)
	require.Equal(t, int16(-2), v16)

	v32, err := c.readInt32()
	require.NoError(t, err)
	require.Equal(t, int32(123456789), v32)

	v64, err := c.readInt64()
	require.NoError(t, err)
	require.Equal(t, int64(-987654321012345678), v64)

	require.Equal(t, 0, c.remaining())
}

func TestCursorShortReads(t *testing.T) {
	var testCases = []struct {
		name string
		buf  []byte
		read func(c *cursor) error
	}{
		{"int16", []byte{0x01}, func(c *cursor) error { _, err := c.readInt16(); return err }},
		{"int32", []byte{0x01, 0x02, 0x03}, func(c *cursor) error { _, err := c.readInt32(); return err }},
		{"int64", []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, func(c *cursor) error { _, err := c.readInt64(); return err }},
		{"byte", nil, func(c *cursor) error { _, err := c.readByte(); return err }},
		{"text", []byte("ab"), func(c *cursor) error { _, err := c.readText(3); return err }},
		{"timestamp", []byte{0x00}, func(c *cursor) error { _, err := c.readTimestamp(); return err }},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			var err = test.read(newCursor(test.buf))
			require.Error(t, err)
			require.Equal(t, ErrUnexpectedEOF, errors.Cause(err))
		})
	}
}

func TestCursorCString(t *testing.T) {
	var buf = appendCString(nil, "public")
	buf = appendCString(buf, "")
	buf = appendCString(buf, "naïve")

	var c = newCursor(buf)
	for _, expected := range []string{"public", "", "naïve"} {
		var s, err = c.readCString()
		require.NoError(t, err)
		require.Equal(t, expected, s)
	}
	require.Equal(t, 0, c.remaining())
}

func TestCursorCStringUnterminated(t *testing.T) {
	// No terminator anywhere in the remaining buffer. The scan must stop
	// at the end of the buffer rather than running away.
	var _, err = newCursor([]byte("no terminator here")).readCString()
	require.Error(t, err)
	require.Equal(t, ErrUnexpectedEOF, errors.Cause(err))
}

func TestCursorInvalidUTF8(t *testing.T) {
	var _, err = newCursor([]byte{0xFF, 0xFE, 0xFD}).readText(3)
	require.Error(t, err)
	require.Equal(t, ErrInvalidEncoding, errors.Cause(err))

	_, err = newCursor([]byte{0xFF, 0xFE, 0x00}).readCString()
	require.Error(t, err)
	require.Equal(t, ErrInvalidEncoding, errors.Cause(err))
}

func TestCursorTimestamp(t *testing.T) {
	var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	var testCases = []struct {
		micros   int64
		expected time.Time
	}{
		{0, epoch},
		{1, epoch.Add(time.Microsecond)},
		{-1000000, epoch.Add(-time.Second)},
		{86400000000, time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, test := range testCases {
		var ts, err = newCursor(appendInt64(nil, test.micros)).readTimestamp()
		require.NoError(t, err)
		require.True(t, ts.Equal(test.expected), "expected %v, got %v", test.expected, ts)
	}
}
