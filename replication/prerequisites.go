package replication

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// VerifyPrerequisites checks over a normal SQL connection that the server
// is configured for logical replication and that the named slot and
// publication exist, creating them when createMissing is set. Run this
// before opening the replication connection; the errors are far clearer
// than the ones a failed START_REPLICATION produces.
func VerifyPrerequisites(ctx context.Context, conn *pgx.Conn, slot, publication string, createMissing bool) error {
	var level string
	if err := conn.QueryRow(ctx, `SHOW wal_level;`).Scan(&level); err != nil {
		return errors.Wrap(err, "unable to query 'wal_level' system variable")
	} else if level != "logical" {
		return errors.Errorf("logical replication isn't enabled: current wal_level = %q", level)
	}

	if err := verifyReplicationSlot(ctx, conn, slot, createMissing); err != nil {
		return err
	}
	return verifyPublication(ctx, conn, publication, createMissing)
}

func verifyReplicationSlot(ctx context.Context, conn *pgx.Conn, slot string, createMissing bool) error {
	var logEntry = logrus.WithField("slot", slot)
	var count int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM pg_catalog.pg_replication_slots WHERE slot_name = $1 AND slot_type = 'logical';`, slot).Scan(&count); err != nil {
		return errors.Wrap(err, "error querying replication slots")
	}
	if count == 1 {
		logEntry.Debug("replication slot exists")
		return nil
	}
	if !createMissing {
		return errors.Errorf("replication slot %q doesn't exist", slot)
	}

	logEntry.Info("attempting to create replication slot")
	if _, err := conn.Exec(ctx, fmt.Sprintf(`SELECT pg_create_logical_replication_slot('%s', 'pgoutput');`, slot)); err != nil {
		return errors.Wrapf(err, "replication slot %q doesn't exist and couldn't be created", slot)
	}
	logEntry.Info("created replication slot")
	return nil
}

func verifyPublication(ctx context.Context, conn *pgx.Conn, publication string, createMissing bool) error {
	var logEntry = logrus.WithField("publication", publication)
	var count int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM pg_catalog.pg_publication WHERE pubname = $1;`, publication).Scan(&count); err != nil {
		return errors.Wrap(err, "error querying publications")
	}
	if count == 1 {
		logEntry.Debug("publication exists")
		return nil
	}
	if !createMissing {
		return errors.Errorf("publication %q doesn't exist", publication)
	}

	logEntry.Info("attempting to create publication")
	if _, err := conn.Exec(ctx, fmt.Sprintf(`CREATE PUBLICATION %q FOR ALL TABLES;`, publication)); err != nil {
		return errors.Wrapf(err, "publication %q doesn't exist and couldn't be created", publication)
	}
	logEntry.Info("created publication")
	return nil
}
