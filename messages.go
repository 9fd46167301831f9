package pgoutput

import (
	"time"

	"github.com/pkg/errors"
)

// MessageType is the leading tag byte of a logical replication message.
type MessageType byte

// Top-level message tags implemented by this package.
const (
	MessageTypeBegin    MessageType = 'B'
	MessageTypeCommit   MessageType = 'C'
	MessageTypeRelation MessageType = 'R'
	MessageTypeInsert   MessageType = 'I'
	MessageTypeUpdate   MessageType = 'U'
	MessageTypeDelete   MessageType = 'D'
	MessageTypeTruncate MessageType = 'T'
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeBegin:
		return "Begin"
	case MessageTypeCommit:
		return "Commit"
	case MessageTypeRelation:
		return "Relation"
	case MessageTypeInsert:
		return "Insert"
	case MessageTypeUpdate:
		return "Update"
	case MessageTypeDelete:
		return "Delete"
	case MessageTypeTruncate:
		return "Truncate"
	}
	return "Unknown"
}

// Message is one decoded logical replication message. The concrete type is
// always one of BeginMessage, CommitMessage, RelationMessage, InsertMessage,
// UpdateMessage, DeleteMessage or TruncateMessage.
type Message interface {
	Type() MessageType
}

// expectTag consumes the leading tag byte and checks it against the decoder
// being run, so a mis-dispatched or corrupted buffer fails immediately.
func expectTag(c *cursor, want MessageType) error {
	tag, err := c.readByte()
	if err != nil {
		return err
	}
	if MessageType(tag) != want {
		return errors.Wrapf(ErrTagMismatch, "expected %q, got %q", byte(want), tag)
	}
	return nil
}

// BeginMessage opens a transaction. Every change message up to the matching
// CommitMessage belongs to the transaction it names.
type BeginMessage struct {
	// FinalLSN is the final LSN of the transaction.
	FinalLSN int64
	// CommitTime is the commit timestamp of the transaction.
	CommitTime time.Time
	// Xid is the transaction ID. Subsequent change messages don't repeat
	// it; it is implicit until the Commit.
	Xid int64
}

// Type implements the Message interface.
func (*BeginMessage) Type() MessageType { return MessageTypeBegin }

func (m *BeginMessage) decode(c *cursor) (err error) {
	if err = expectTag(c, MessageTypeBegin); err != nil {
		return err
	}
	if m.FinalLSN, err = c.readInt64(); err != nil {
		return err
	}
	if m.CommitTime, err = c.readTimestamp(); err != nil {
		return err
	}
	if m.Xid, err = c.readInt64(); err != nil {
		return err
	}
	return nil
}

// CommitMessage closes the transaction opened by the preceding BeginMessage.
type CommitMessage struct {
	// Flags is currently unused and must be zero.
	Flags int8
	// CommitLSN is the LSN of the commit record.
	CommitLSN int64
	// TransactionEndLSN is the end LSN of the transaction.
	TransactionEndLSN int64
	// CommitTime is the commit timestamp of the transaction.
	CommitTime time.Time
}

// Type implements the Message interface.
func (*CommitMessage) Type() MessageType { return MessageTypeCommit }

func (m *CommitMessage) decode(c *cursor) (err error) {
	if err = expectTag(c, MessageTypeCommit); err != nil {
		return err
	}
	if m.Flags, err = c.readInt8(); err != nil {
		return err
	}
	if m.CommitLSN, err = c.readInt64(); err != nil {
		return err
	}
	if m.TransactionEndLSN, err = c.readInt64(); err != nil {
		return err
	}
	if m.CommitTime, err = c.readTimestamp(); err != nil {
		return err
	}
	return nil
}

// RelationColumn describes one column of a replicated table.
type RelationColumn struct {
	// Flags is either 0 or 1, where 1 marks the column as part of the
	// replica identity key.
	Flags int8
	// Name is the column name.
	Name string
	// DataType is the OID of the column's type in pg_type.
	DataType int32
	// TypeModifier is the column's atttypmod.
	TypeModifier int32
}

// PartOfKey reports whether the column is part of the replica identity key.
func (c RelationColumn) PartOfKey() bool { return c.Flags&1 != 0 }

// RelationMessage announces the schema of a table before the first change
// message referencing it. Change messages carry only the RelationID, so the
// consumer must retain these to interpret later tuples.
type RelationMessage struct {
	// RelationID identifies the relation in subsequent change messages.
	RelationID int32
	// Namespace is the table's schema. Empty means pg_catalog.
	Namespace string
	// RelationName is the table name.
	RelationName string
	// ReplicaIdentity is the relation's replica identity setting, the
	// same one-character code as relreplident in pg_class.
	ReplicaIdentity byte
	// NumColumns is the number of columns announced. Generated columns
	// are never sent, so this can be fewer than the table has.
	NumColumns int16
	// Columns holds one descriptor per column, in the order tuple data
	// for this relation will arrive.
	Columns []RelationColumn
}

// Type implements the Message interface.
func (*RelationMessage) Type() MessageType { return MessageTypeRelation }

func (m *RelationMessage) decode(c *cursor) (err error) {
	if err = expectTag(c, MessageTypeRelation); err != nil {
		return err
	}
	if m.RelationID, err = c.readInt32(); err != nil {
		return err
	}
	if m.Namespace, err = c.readCString(); err != nil {
		return err
	}
	if m.RelationName, err = c.readCString(); err != nil {
		return err
	}
	if m.ReplicaIdentity, err = c.readByte(); err != nil {
		return err
	}
	if m.NumColumns, err = c.readInt16(); err != nil {
		return err
	}
	for i := int16(0); i < m.NumColumns; i++ {
		var col RelationColumn
		if col.Flags, err = c.readInt8(); err != nil {
			return err
		}
		if col.Name, err = c.readCString(); err != nil {
			return err
		}
		if col.DataType, err = c.readInt32(); err != nil {
			return err
		}
		if col.TypeModifier, err = c.readInt32(); err != nil {
			return err
		}
		m.Columns = append(m.Columns, col)
	}
	return nil
}

// InsertMessage reports a newly inserted row.
type InsertMessage struct {
	// RelationID refers to a previously announced RelationMessage.
	RelationID int32
	// NewTuple is the inserted row.
	NewTuple *TupleData
}

// Type implements the Message interface.
func (*InsertMessage) Type() MessageType { return MessageTypeInsert }

func (m *InsertMessage) decode(c *cursor) (err error) {
	if err = expectTag(c, MessageTypeInsert); err != nil {
		return err
	}
	if m.RelationID, err = c.readInt32(); err != nil {
		return err
	}
	tag, err := c.readByte()
	if err != nil {
		return err
	}
	if tag != 'N' {
		return errors.Wrapf(ErrExpectedNewTuple, "got %q", tag)
	}
	m.NewTuple, err = decodeTupleData(c)
	return err
}

// Old-tuple markers within Update and Delete messages.
const (
	// TupleTypeKey marks an old tuple holding only the replica identity
	// key columns.
	TupleTypeKey byte = 'K'
	// TupleTypeOld marks a full old row, sent when the table's replica
	// identity is FULL.
	TupleTypeOld byte = 'O'
)

// UpdateMessage reports an updated row. The old tuple is present only when
// the source sent one: OldTupleType is TupleTypeKey when replica-identity
// key columns changed and TupleTypeOld under REPLICA IDENTITY FULL. It is
// zero, with OldTuple nil, when no old tuple was sent. The two markers are
// mutually exclusive; only one tuple marker precedes the new tuple.
type UpdateMessage struct {
	// RelationID refers to a previously announced RelationMessage.
	RelationID int32
	// OldTupleType is TupleTypeKey, TupleTypeOld, or 0 when absent.
	OldTupleType byte
	// OldTuple is the old row or key, nil when absent.
	OldTuple *TupleData
	// NewTuple is the updated row. Always present.
	NewTuple *TupleData
}

// Type implements the Message interface.
func (*UpdateMessage) Type() MessageType { return MessageTypeUpdate }

func (m *UpdateMessage) decode(c *cursor) (err error) {
	if err = expectTag(c, MessageTypeUpdate); err != nil {
		return err
	}
	if m.RelationID, err = c.readInt32(); err != nil {
		return err
	}
	tag, err := c.readByte()
	if err != nil {
		return err
	}
	if tag == TupleTypeKey || tag == TupleTypeOld {
		m.OldTupleType = tag
		if m.OldTuple, err = decodeTupleData(c); err != nil {
			return err
		}
		if tag, err = c.readByte(); err != nil {
			return err
		}
	}
	if tag != 'N' {
		return errors.Wrapf(ErrExpectedNewTuple, "got %q", tag)
	}
	m.NewTuple, err = decodeTupleData(c)
	return err
}

// DeleteMessage reports a deleted row, identified by either its replica
// identity key (TupleTypeKey) or the full old row (TupleTypeOld).
type DeleteMessage struct {
	// RelationID refers to a previously announced RelationMessage.
	RelationID int32
	// OldTupleType is TupleTypeKey or TupleTypeOld.
	OldTupleType byte
	// OldTuple is the deleted row or its key, per OldTupleType.
	OldTuple *TupleData
}

// Type implements the Message interface.
func (*DeleteMessage) Type() MessageType { return MessageTypeDelete }

func (m *DeleteMessage) decode(c *cursor) (err error) {
	if err = expectTag(c, MessageTypeDelete); err != nil {
		return err
	}
	if m.RelationID, err = c.readInt32(); err != nil {
		return err
	}
	tag, err := c.readByte()
	if err != nil {
		return err
	}
	if tag != TupleTypeKey && tag != TupleTypeOld {
		return errors.Wrapf(ErrInvalidIdentityTag, "got %q", tag)
	}
	m.OldTupleType = tag
	m.OldTuple, err = decodeTupleData(c)
	return err
}

// Truncate option bits.
const (
	TruncateCascade         int8 = 1
	TruncateRestartIdentity int8 = 2
)

// TruncateMessage reports truncation of one or more tables.
type TruncateMessage struct {
	// NumRelations is the number of truncated relations.
	NumRelations int32
	// Options is a bitmask of TruncateCascade and TruncateRestartIdentity.
	Options int8
	// RelationIDs refers to previously announced RelationMessages, one
	// per truncated relation.
	RelationIDs []int32
}

// Type implements the Message interface.
func (*TruncateMessage) Type() MessageType { return MessageTypeTruncate }

// Cascade reports whether the truncation was run with CASCADE.
func (m *TruncateMessage) Cascade() bool { return m.Options&TruncateCascade != 0 }

// RestartIdentity reports whether the truncation restarted owned sequences.
func (m *TruncateMessage) RestartIdentity() bool { return m.Options&TruncateRestartIdentity != 0 }

func (m *TruncateMessage) decode(c *cursor) (err error) {
	if err = expectTag(c, MessageTypeTruncate); err != nil {
		return err
	}
	if m.NumRelations, err = c.readInt32(); err != nil {
		return err
	}
	if m.Options, err = c.readInt8(); err != nil {
		return err
	}
	for i := int32(0); i < m.NumRelations; i++ {
		id, err := c.readInt32()
		if err != nil {
			return err
		}
		m.RelationIDs = append(m.RelationIDs, id)
	}
	return nil
}
