// Package pgoutput decodes the logical replication messages emitted by the
// PostgreSQL "pgoutput" output plugin. Each message is a self-contained
// byte buffer whose leading ASCII tag selects one of seven layouts:
// transaction Begin/Commit, Relation schema announcements, row
// Insert/Update/Delete changes, and table Truncate. Multi-byte integers
// are big-endian two's-complement, identifiers are NUL-terminated strings,
// and timestamps are microsecond offsets from 2000-01-01T00:00:00Z.
//
// Decoding is all-or-nothing per buffer: either the complete typed message
// is returned, or the first malformed field fails the whole decode. Calls
// share no state, so concurrent use requires no coordination.
package pgoutput

import "github.com/pkg/errors"

type decodable interface {
	Message
	decode(*cursor) error
}

// messageDecoders maps a leading tag byte to a constructor for the message
// kind it announces. Tags absent from this table, notably Origin ('O') and
// Type ('Y'), are reported as unsupported rather than skipped.
var messageDecoders = map[MessageType]func() decodable{
	MessageTypeBegin:    func() decodable { return new(BeginMessage) },
	MessageTypeCommit:   func() decodable { return new(CommitMessage) },
	MessageTypeRelation: func() decodable { return new(RelationMessage) },
	MessageTypeInsert:   func() decodable { return new(InsertMessage) },
	MessageTypeUpdate:   func() decodable { return new(UpdateMessage) },
	MessageTypeDelete:   func() decodable { return new(DeleteMessage) },
	MessageTypeTruncate: func() decodable { return new(TruncateMessage) },
}

// Parse decodes one complete logical replication message. The buffer must
// hold the entire message body; partially buffered input fails with
// ErrUnexpectedEOF and partially decoded messages are never returned.
func Parse(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrUnexpectedEOF, "empty message buffer")
	}
	newMessage, ok := messageDecoders[MessageType(data[0])]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedMessage, "tag %q", data[0])
	}
	var msg = newMessage()
	if err := msg.decode(newCursor(data)); err != nil {
		return nil, err
	}
	return msg, nil
}
