// pgoutput-tail connects to a PostgreSQL database, streams a logical
// replication slot, and prints every decoded change event as one JSON
// document per line on stdout. Diagnostics go to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/estuary/pgoutput/replication"
	"github.com/jackc/pgconn"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config holds the streaming session parameters. It can be provided as a
// JSON file via -config, with individual flags overriding its fields.
type Config struct {
	ConnectionURI   string `json:"connectionURI"`
	SlotName        string `json:"slotName"`
	PublicationName string `json:"publicationName"`
	CreateMissing   bool   `json:"createMissing"`
}

// Validate checks the required configuration fields.
func (c *Config) Validate() error {
	if c.ConnectionURI == "" {
		return errors.New("connectionURI is required")
	}
	if c.SlotName == "" {
		return errors.New("slotName is required")
	}
	if c.PublicationName == "" {
		return errors.New("publicationName is required")
	}
	return nil
}

var (
	configFile  = flag.String("config", "", "Path to a JSON configuration file")
	connectURI  = flag.String("uri", "", "Database connection URI, as a libpq-compatible connection string")
	slotName    = flag.String("slot", "", "Replication slot to stream from")
	publication = flag.String("publication", "", "Publication determining which tables are streamed")
	createFlag  = flag.Bool("create-missing", false, "Create the slot and publication if they don't exist")
	verbose     = flag.Bool("v", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	logrus.SetOutput(os.Stderr)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	config, err := loadConfig()
	if err != nil {
		logrus.WithField("err", err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := streamChanges(ctx, config); err != nil && errors.Cause(err) != context.Canceled {
		logrus.WithField("err", err).Fatal("streaming terminated")
	}
}

func loadConfig() (*Config, error) {
	var config Config
	if *configFile != "" {
		bs, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read config file")
		}
		if err := json.Unmarshal(bs, &config); err != nil {
			return nil, errors.Wrap(err, "unable to parse config file")
		}
	}
	if *connectURI != "" {
		config.ConnectionURI = *connectURI
	}
	if *slotName != "" {
		config.SlotName = *slotName
	}
	if *publication != "" {
		config.PublicationName = *publication
	}
	if *createFlag {
		config.CreateMissing = true
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func streamChanges(ctx context.Context, config *Config) error {
	// Verify the server setup over an ordinary SQL connection first, so
	// misconfiguration surfaces as a clear error rather than an obscure
	// START_REPLICATION failure.
	conn, err := pgx.Connect(ctx, config.ConnectionURI)
	if err != nil {
		return errors.Wrap(err, "unable to connect to database")
	}
	if err := replication.VerifyPrerequisites(ctx, conn, config.SlotName, config.PublicationName, config.CreateMissing); err != nil {
		conn.Close(ctx)
		return err
	}
	conn.Close(ctx)

	// Replication commands require a connection opened in replication mode.
	replConnConfig, err := pgconn.ParseConfig(config.ConnectionURI)
	if err != nil {
		return errors.Wrap(err, "unable to parse connection URI")
	}
	replConnConfig.RuntimeParams["replication"] = "database"
	replConn, err := pgconn.ConnectConfig(ctx, replConnConfig)
	if err != nil {
		return errors.Wrap(err, "unable to connect to database for replication")
	}

	sysident, err := pglogrepl.IdentifySystem(ctx, replConn)
	if err != nil {
		replConn.Close(ctx)
		return errors.Wrap(err, "unable to identify system")
	}
	logrus.WithFields(logrus.Fields{
		"systemID": sysident.SystemID,
		"timeline": sysident.Timeline,
		"xlogpos":  sysident.XLogPos,
	}).Info("connected for replication")

	stream, err := replication.Start(ctx, replConn, config.SlotName, config.PublicationName, sysident.XLogPos)
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	var enc = json.NewEncoder(os.Stdout)
	return stream.Process(ctx, func(evt *replication.ChangeEvent) error {
		if err := enc.Encode(evt); err != nil {
			return errors.Wrap(err, "error writing change event")
		}
		if evt.Operation == replication.OpCommit {
			// Commit events mark a consistent point; everything up to
			// them has been written out, so the server may discard the
			// WAL behind it.
			stream.AcknowledgeLSN(evt.LSN)
		}
		return nil
	})
}
