package pgoutput

import "encoding/binary"

// Buffer-building helpers for constructing wire messages by hand in tests.

func appendInt16(bs []byte, v int16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return append(bs, b[:]...)
}

func appendInt32(bs []byte, v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(bs, b[:]...)
}

func appendInt64(bs []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(bs, b[:]...)
}

// appendCString appends a NUL-terminated identifier.
func appendCString(bs []byte, s string) []byte {
	bs = append(bs, s...)
	return append(bs, 0x00)
}

// appendTextColumn appends a 't' tuple column with its length prefix.
func appendTextColumn(bs []byte, s string) []byte {
	bs = append(bs, 't')
	bs = appendInt32(bs, int32(len(s)))
	return append(bs, s...)
}
