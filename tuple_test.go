package pgoutput

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestTupleDataDecoding(t *testing.T) {
	var buf = appendInt16(nil, 4)
	buf = appendTextColumn(buf, "1")
	buf = append(buf, 'n')
	buf = append(buf, 'u')
	buf = appendTextColumn(buf, "hello world")

	var tuple, err = decodeTupleData(newCursor(buf))
	require.NoError(t, err)
	require.Equal(t, int16(4), tuple.NumColumns)
	require.Len(t, tuple.Columns, 4)

	require.Equal(t, ColumnText, tuple.Columns[0].Category)
	require.Equal(t, int32(1), tuple.Columns[0].Length)
	require.Equal(t, "1", tuple.Columns[0].Value)

	require.True(t, tuple.Columns[1].IsNull())
	require.Zero(t, tuple.Columns[1].Length)
	require.Zero(t, tuple.Columns[1].Value)

	require.True(t, tuple.Columns[2].IsUnchangedToast())

	require.Equal(t, int32(11), tuple.Columns[3].Length)
	require.Equal(t, "hello world", tuple.Columns[3].Value)
	require.Equal(t, int(tuple.Columns[3].Length), len(tuple.Columns[3].Value))
}

func TestTupleDataEmpty(t *testing.T) {
	var tuple, err = decodeTupleData(newCursor(appendInt16(nil, 0)))
	require.NoError(t, err)
	require.Equal(t, int16(0), tuple.NumColumns)
	require.Empty(t, tuple.Columns)
}

func TestTupleDataInvalidCategory(t *testing.T) {
	var buf = appendInt16(nil, 1)
	buf = append(buf, 'x')

	var _, err = decodeTupleData(newCursor(buf))
	require.Error(t, err)
	require.Equal(t, ErrInvalidColumnCategory, errors.Cause(err))
}

func TestTupleDataTruncated(t *testing.T) {
	var complete = appendInt16(nil, 2)
	complete = appendTextColumn(complete, "abc")
	complete = append(complete, 'n')

	// Every proper prefix must fail with a buffer-exhaustion error, never
	// decode to a shorter-but-valid tuple.
	for n := 0; n < len(complete); n++ {
		var _, err = decodeTupleData(newCursor(complete[:n]))
		require.Error(t, err, "prefix of %d bytes", n)
		require.Equal(t, ErrUnexpectedEOF, errors.Cause(err), "prefix of %d bytes", n)
	}
}

func TestTupleDataColumnCountMismatch(t *testing.T) {
	// Declares three columns but only carries two.
	var buf = appendInt16(nil, 3)
	buf = append(buf, 'n')
	buf = append(buf, 'n')

	var _, err = decodeTupleData(newCursor(buf))
	require.Error(t, err)
	require.Equal(t, ErrUnexpectedEOF, errors.Cause(err))
}
