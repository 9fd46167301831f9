package pgoutput

import "github.com/pkg/errors"

// Decode failures are classified by these sentinel causes. Context such as
// the offending byte or offset is attached by wrapping, so callers should
// use errors.Cause to recover the category.
var (
	// ErrTagMismatch reports a message body whose leading tag byte does not
	// match the decoder invoked for it.
	ErrTagMismatch = errors.New("message tag mismatch")

	// ErrUnsupportedMessage reports a top-level tag with no registered
	// decoder. This includes the protocol's Origin ('O') and Type ('Y')
	// messages, which we deliberately refuse rather than silently drop.
	ErrUnsupportedMessage = errors.New("unsupported message type")

	// ErrUnexpectedEOF reports a read which required more bytes than remain
	// in the message buffer. It is always terminal for that message.
	ErrUnexpectedEOF = errors.New("unexpected end of buffer")

	// ErrInvalidEncoding reports bytes which were declared as text but are
	// not valid UTF-8.
	ErrInvalidEncoding = errors.New("invalid UTF-8 encoding")

	// ErrInvalidColumnCategory reports a tuple column whose category byte
	// is not one of 'n', 'u' or 't'.
	ErrInvalidColumnCategory = errors.New("invalid column data category")

	// ErrExpectedNewTuple reports an Insert or Update message which did not
	// carry the mandatory 'N' marker ahead of its new tuple.
	ErrExpectedNewTuple = errors.New("expected new tuple marker")

	// ErrInvalidIdentityTag reports a Delete message whose tuple marker is
	// neither 'K' (replica identity key) nor 'O' (full old row).
	ErrInvalidIdentityTag = errors.New("invalid replica identity or message tag")
)
