package pgoutput

import "github.com/pkg/errors"

// Column data categories within a TupleData submessage.
const (
	ColumnNull           byte = 'n' // value is SQL NULL
	ColumnUnchangedToast byte = 'u' // unchanged TOASTed value, not re-sent
	ColumnText           byte = 't' // value sent in text format
)

// TupleColumn is one column of a replicated row. Length and Value are
// meaningful only when Category is ColumnText.
type TupleColumn struct {
	Category byte
	Length   int32
	Value    string
}

// IsNull reports whether the column value is SQL NULL.
func (c TupleColumn) IsNull() bool { return c.Category == ColumnNull }

// IsUnchangedToast reports whether the source withheld the value because
// it is an unchanged out-of-line (TOASTed) datum.
func (c TupleColumn) IsUnchangedToast() bool { return c.Category == ColumnUnchangedToast }

// TupleData is the row payload of an Insert, Update or Delete message.
// Columns holds exactly NumColumns entries in wire order, which is the
// row's column order as announced by the table's Relation message.
type TupleData struct {
	NumColumns int16
	Columns    []TupleColumn
}

func decodeTupleData(c *cursor) (*TupleData, error) {
	n, err := c.readInt16()
	if err != nil {
		return nil, err
	}
	var tuple = &TupleData{NumColumns: n}
	for i := int16(0); i < n; i++ {
		category, err := c.readByte()
		if err != nil {
			return nil, err
		}
		switch category {
		case ColumnNull, ColumnUnchangedToast:
			tuple.Columns = append(tuple.Columns, TupleColumn{Category: category})
		case ColumnText:
			length, err := c.readInt32()
			if err != nil {
				return nil, err
			}
			value, err := c.readText(int(length))
			if err != nil {
				return nil, err
			}
			tuple.Columns = append(tuple.Columns, TupleColumn{
				Category: category,
				Length:   length,
				Value:    value,
			})
		default:
			return nil, errors.Wrapf(ErrInvalidColumnCategory, "column %d has category %q", i, category)
		}
	}
	return tuple, nil
}
