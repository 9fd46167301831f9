package replication

import (
	"github.com/estuary/pgoutput"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgtype"
	"github.com/pkg/errors"
)

// ChangeOp identifies the kind of a change event.
type ChangeOp string

// Change event operations.
const (
	OpInsert   ChangeOp = "Insert"
	OpUpdate   ChangeOp = "Update"
	OpDelete   ChangeOp = "Delete"
	OpTruncate ChangeOp = "Truncate"
	// OpCommit marks the end of a transaction: every event since the
	// previous commit is now at a consistent point which can safely be
	// acknowledged back to the server.
	OpCommit ChangeOp = "Commit"
)

// A ChangeEvent is one row-level change (or transaction commit) with its
// column values decoded from the wire's text representation.
type ChangeEvent struct {
	Operation ChangeOp      `json:"op"`
	LSN       pglogrepl.LSN `json:"lsn"`
	XID       uint32        `json:"xid"`
	Namespace string        `json:"namespace,omitempty"`
	Table     string        `json:"table,omitempty"`

	// KeyOnly is set on Update/Delete events whose Before fields hold
	// only the replica identity key rather than the full old row.
	KeyOnly bool `json:"keyOnly,omitempty"`

	// Before holds the old row for Update/Delete events when the source
	// sent one, and After the new row for Insert/Update events. Columns
	// whose values were withheld as unchanged TOASTed data are absent.
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`

	// Truncate-only metadata.
	Cascade         bool `json:"cascade,omitempty"`
	RestartIdentity bool `json:"restartIdentity,omitempty"`
}

// tupleFields maps a row tuple into named column values using the schema
// announced for its relation. A nil tuple yields a nil map.
func (s *Stream) tupleFields(rel *pgoutput.RelationMessage, tuple *pgoutput.TupleData) (map[string]interface{}, error) {
	if tuple == nil {
		return nil, nil
	}
	if len(tuple.Columns) > len(rel.Columns) {
		return nil, errors.Errorf("tuple has %d columns but relation %q announced %d",
			len(tuple.Columns), rel.RelationName, len(rel.Columns))
	}
	var fields = make(map[string]interface{})
	for idx, col := range tuple.Columns {
		var name = rel.Columns[idx].Name
		switch {
		case col.IsNull():
			fields[name] = nil
		case col.IsUnchangedToast():
			// The value exists but wasn't re-sent; elide it rather than
			// report a misleading null.
		default:
			val, err := s.decodeTextColumnData([]byte(col.Value), uint32(rel.Columns[idx].DataType))
			if err != nil {
				return nil, errors.Wrapf(err, "error decoding column %q", name)
			}
			fields[name] = val
		}
	}
	return fields, nil
}

// decodeTextColumnData turns a text-format column value into a Go value
// according to its type OID, falling back to generic text for types the
// pgtype registry doesn't know.
func (s *Stream) decodeTextColumnData(data []byte, dataType uint32) (interface{}, error) {
	var decoder pgtype.TextDecoder
	if dt, ok := s.connInfo.DataTypeForOID(dataType); ok {
		decoder, ok = dt.Value.(pgtype.TextDecoder)
		if !ok {
			decoder = &pgtype.GenericText{}
		}
	} else {
		decoder = &pgtype.GenericText{}
	}
	if err := decoder.DecodeText(s.connInfo, data); err != nil {
		return nil, err
	}
	return decoder.(pgtype.Value).Get(), nil
}
