// Package replication drives a PostgreSQL logical replication session and
// turns the raw pgoutput messages decoded by the parent package into
// per-row change events. It owns the pieces the decoder itself does not:
// the replication connection, keepalive and standby status traffic, the
// relation-id to schema cache, and text-format value decoding.
package replication

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/estuary/pgoutput"
	"github.com/jackc/pgconn"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgtype"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// standbyStatusInterval is how often we report progress to the server.
// Without these reports the server eventually terminates the walsender.
const standbyStatusInterval = 10 * time.Second

// ChangeEventHandler receives decoded change events in commit order.
// Returning an error stops the stream.
type ChangeEventHandler func(evt *ChangeEvent) error

// A Stream represents one logical replication session: it receives WAL
// data over a replication connection, decodes each pgoutput message, and
// maintains the schema cache needed to interpret row tuples.
type Stream struct {
	conn        *pgconn.PgConn
	slot        string
	publication string

	// currentLSN tracks the position just past the last received WAL data.
	currentLSN pglogrepl.LSN
	// ackedLSN is reported to the server in standby status updates. The
	// server is free to discard WAL older than this. Accessed atomically
	// since AcknowledgeLSN may be called from the handler's goroutine.
	ackedLSN uint64

	standbyStatusDeadline time.Time

	connInfo  *pgtype.ConnInfo
	relations map[int32]*pgoutput.RelationMessage

	inTransaction  bool
	transactionXID uint32
}

// Start begins logical replication on an already-established replication
// connection (one opened with the "replication=database" parameter). The
// slot must exist and the publication determines which tables are sent.
func Start(ctx context.Context, conn *pgconn.PgConn, slot, publication string, startLSN pglogrepl.LSN) (*Stream, error) {
	var stream = &Stream{
		conn:        conn,
		slot:        slot,
		publication: publication,
		currentLSN:  startLSN,
		ackedLSN:    uint64(startLSN),
		connInfo:    pgtype.NewConnInfo(),
		relations:   make(map[int32]*pgoutput.RelationMessage),
	}

	logrus.WithFields(logrus.Fields{
		"startLSN":    stream.currentLSN,
		"publication": stream.publication,
		"slot":        stream.slot,
	}).Info("starting replication")

	if err := pglogrepl.StartReplication(ctx, stream.conn, stream.slot, stream.currentLSN, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			`"proto_version" '1'`,
			`"publication_names" '` + stream.publication + `'`,
		},
	}); err != nil {
		conn.Close(ctx)
		return nil, errors.Wrap(err, "unable to start replication")
	}

	// Send one status update immediately on startup.
	stream.standbyStatusDeadline = time.Now()
	return stream, nil
}

// AcknowledgeLSN advances the position reported to the server, permitting
// it to discard WAL segments up to that point. Call it only once events at
// or below the given LSN are durably processed; after a restart the stream
// can never resume from an older position.
func (s *Stream) AcknowledgeLSN(lsn pglogrepl.LSN) {
	atomic.StoreUint64(&s.ackedLSN, uint64(lsn))
}

// Process runs the receive loop until the context is cancelled or an error
// occurs, invoking the handler for every change event. The pgoutput stream
// is re-ordered by the server into commit order, so each transaction
// arrives as Begin, changes, Commit; only the Begin carries the XID and it
// is implicit in every event up to the Commit.
func (s *Stream) Process(ctx context.Context, handler ChangeEventHandler) error {
	for {
		xld, err := s.receiveXLogData(ctx)
		if err != nil {
			return err
		}
		msg, err := pgoutput.Parse(xld.WALData)
		if err != nil {
			return errors.Wrap(err, "error decoding logical replication message")
		}
		if err := s.handleMessage(msg, xld.WALStart, handler); err != nil {
			return err
		}
	}
}

// handleMessage updates stream state for one decoded message and emits any
// change events it implies.
func (s *Stream) handleMessage(msg pgoutput.Message, lsn pglogrepl.LSN, emit ChangeEventHandler) error {
	switch msg := msg.(type) {
	case *pgoutput.RelationMessage:
		// Relations are announced once per session (or again after a
		// schema change) and referenced by ID ever after, so entries are
		// never removed.
		logrus.WithFields(logrus.Fields{
			"relationID": msg.RelationID,
			"namespace":  msg.Namespace,
			"table":      msg.RelationName,
		}).Debug("relation announced")
		s.relations[msg.RelationID] = msg
		return nil
	case *pgoutput.BeginMessage:
		if s.inTransaction {
			return errors.New("got Begin message while another transaction in progress")
		}
		s.inTransaction = true
		s.transactionXID = uint32(msg.Xid)
		return nil
	case *pgoutput.CommitMessage:
		if !s.inTransaction {
			return errors.New("got Commit message without a transaction in progress")
		}
		var evt = &ChangeEvent{
			Operation: OpCommit,
			LSN:       pglogrepl.LSN(msg.TransactionEndLSN),
		}
		evt.XID = s.transactionXID
		s.inTransaction = false
		s.transactionXID = 0
		return emit(evt)
	case *pgoutput.InsertMessage:
		return s.emitRowChange(OpInsert, lsn, msg.RelationID, nil, 0, msg.NewTuple, emit)
	case *pgoutput.UpdateMessage:
		return s.emitRowChange(OpUpdate, lsn, msg.RelationID, msg.OldTuple, msg.OldTupleType, msg.NewTuple, emit)
	case *pgoutput.DeleteMessage:
		return s.emitRowChange(OpDelete, lsn, msg.RelationID, msg.OldTuple, msg.OldTupleType, nil, emit)
	case *pgoutput.TruncateMessage:
		return s.emitTruncate(msg, lsn, emit)
	}
	return errors.Errorf("unhandled message type %v", msg.Type())
}

func (s *Stream) emitRowChange(op ChangeOp, lsn pglogrepl.LSN, relID int32, oldTuple *pgoutput.TupleData, oldTupleType byte, newTuple *pgoutput.TupleData, emit ChangeEventHandler) error {
	if !s.inTransaction {
		return errors.Errorf("got %s message without a transaction in progress", op)
	}
	rel, ok := s.relations[relID]
	if !ok {
		return errors.Errorf("unknown relation ID %d", relID)
	}

	before, err := s.tupleFields(rel, oldTuple)
	if err != nil {
		return errors.Wrapf(err, "error decoding old tuple of %q", rel.RelationName)
	}
	after, err := s.tupleFields(rel, newTuple)
	if err != nil {
		return errors.Wrapf(err, "error decoding new tuple of %q", rel.RelationName)
	}

	var evt = &ChangeEvent{
		Operation: op,
		LSN:       lsn,
		Namespace: rel.Namespace,
		Table:     rel.RelationName,
		KeyOnly:   oldTupleType == pgoutput.TupleTypeKey,
		Before:    before,
		After:     after,
	}
	evt.XID = s.transactionXID
	return emit(evt)
}

func (s *Stream) emitTruncate(msg *pgoutput.TruncateMessage, lsn pglogrepl.LSN, emit ChangeEventHandler) error {
	if !s.inTransaction {
		return errors.New("got Truncate message without a transaction in progress")
	}
	for _, relID := range msg.RelationIDs {
		rel, ok := s.relations[relID]
		if !ok {
			return errors.Errorf("unknown relation ID %d", relID)
		}
		var evt = &ChangeEvent{
			Operation:       OpTruncate,
			LSN:             lsn,
			Namespace:       rel.Namespace,
			Table:           rel.RelationName,
			Cascade:         msg.Cascade(),
			RestartIdentity: msg.RestartIdentity(),
		}
		evt.XID = s.transactionXID
		if err := emit(evt); err != nil {
			return err
		}
	}
	return nil
}

// receiveXLogData returns the next WAL data frame from the server,
// blocking until one arrives, the context is cancelled, or an error
// occurs. Along the way it answers keepalives and sends standby status
// updates, so it must be called regularly for the session to stay alive.
func (s *Stream) receiveXLogData(ctx context.Context) (pglogrepl.XLogData, error) {
	for {
		select {
		case <-ctx.Done():
			return pglogrepl.XLogData{}, ctx.Err()
		default:
		}

		if time.Now().After(s.standbyStatusDeadline) {
			if err := s.sendStandbyStatusUpdate(ctx); err != nil {
				return pglogrepl.XLogData{}, errors.Wrap(err, "failed to send status update")
			}
			s.standbyStatusDeadline = time.Now().Add(standbyStatusInterval)
		}

		receiveCtx, cancelReceiveCtx := context.WithDeadline(ctx, s.standbyStatusDeadline)
		msg, err := s.conn.ReceiveMessage(receiveCtx)
		cancelReceiveCtx()
		if pgconn.Timeout(err) {
			continue
		}
		if err != nil {
			return pglogrepl.XLogData{}, err
		}

		switch msg := msg.(type) {
		case *pgproto3.CopyData:
			switch msg.Data[0] {
			case pglogrepl.PrimaryKeepaliveMessageByteID:
				pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
				if err != nil {
					return pglogrepl.XLogData{}, errors.Wrap(err, "error parsing keepalive")
				}
				if pkm.ReplyRequested {
					s.standbyStatusDeadline = time.Now()
				}
			case pglogrepl.XLogDataByteID:
				xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
				if err != nil {
					return xld, errors.Wrap(err, "error parsing XLogData")
				}
				s.currentLSN = xld.WALStart + pglogrepl.LSN(len(xld.WALData))
				return xld, nil
			default:
				logrus.WithField("message", msg).Warn("unknown CopyData message")
			}
		default:
			logrus.WithField("message", msg).Warn("unexpected message")
		}
	}
}

func (s *Stream) sendStandbyStatusUpdate(ctx context.Context) error {
	var ackedLSN = pglogrepl.LSN(atomic.LoadUint64(&s.ackedLSN))
	return pglogrepl.SendStandbyStatusUpdate(ctx, s.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: ackedLSN,
	})
}

// CurrentLSN returns the position just past the last received WAL data.
func (s *Stream) CurrentLSN() pglogrepl.LSN { return s.currentLSN }

// Close terminates the replication connection.
func (s *Stream) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
