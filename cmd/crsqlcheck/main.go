// crsqlcheck opens a cr-sqlite session the way the correctness harness does
// and reports what the extension sees.
//
// With sync disabled it opens the database, applies the schema fixtures,
// logs the db_version and site id, and shuts the session down with
// crsql_finalize. With sync enabled it also relays changes to the other
// sites on the same db_id over MQTT until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/crsql-harness/migrations"

	"github.com/nerrad567/crsql-harness/internal/changeset"
	"github.com/nerrad567/crsql-harness/internal/infrastructure/config"
	"github.com/nerrad567/crsql-harness/internal/infrastructure/database"
	"github.com/nerrad567/crsql-harness/internal/infrastructure/influxdb"
	"github.com/nerrad567/crsql-harness/internal/infrastructure/logging"
	"github.com/nerrad567/crsql-harness/internal/infrastructure/mqtt"
	"github.com/nerrad567/crsql-harness/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure; a failed
//     finalize or close is reported when nothing else failed first
func run(ctx context.Context) (err error) {
	log := logging.Default()
	log.Info("starting crsqlcheck",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	provisioner := database.NewProvisioner(database.Extension{
		Path:         cfg.Extension.Path,
		EntryPoint:   cfg.Extension.EntryPoint,
		MinDBVersion: cfg.Extension.MinDBVersion,
	})

	db, err := provisioner.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		URI:         cfg.Database.URI,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
			if err == nil {
				err = fmt.Errorf("closing database: %w", closeErr)
			}
		}
	}()
	db.OnClose(func() {
		log.Info("finalizing extension", "path", db.Path())
	})
	log.Info("database connected",
		"path", cfg.Database.Path,
		"uri", cfg.Database.URI,
		"extension", cfg.Extension.Path,
	)

	if err := prepare(ctx, db, provisioner.MinDBVersion(), log); err != nil {
		return err
	}

	if !cfg.Sync.Enabled {
		log.Info("sync disabled, shutting down")
		return nil
	}

	return runRelay(ctx, cfg, db, log)
}

// prepare applies the schema fixtures and reports the session's identity.
func prepare(ctx context.Context, db *database.DB, minDBVersion int64, log *logging.Logger) error {
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if err := changeset.EnsurePeersTable(ctx, db); err != nil {
		return err
	}

	dbVersion, err := db.DBVersion(ctx)
	if err != nil {
		return err
	}
	if dbVersion < minDBVersion {
		return fmt.Errorf("db_version %d is below minimum %d", dbVersion, minDBVersion)
	}
	siteID, err := db.SiteID(ctx)
	if err != nil {
		return err
	}
	tables, err := db.CRRTables(ctx)
	if err != nil {
		return err
	}

	log.Info("session ready",
		"db_version", dbVersion,
		"site_id", siteID.String(),
		"crr_tables", tables,
	)
	return nil
}

// runRelay connects the transport and telemetry and relays until ctx ends.
func runRelay(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) error {
	mode, err := changeset.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return err
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Sync.DBID)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"presence", mqttClient.PresenceTopic(),
	)

	opts := relay.Options{
		DBID:         cfg.Sync.DBID,
		Mode:         mode,
		PollInterval: cfg.GetPollInterval(),
		BatchSize:    cfg.Sync.BatchSize,
		QoS:          byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		Logger:       log.With("component", "relay"),
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			influxClient.WriteSessionEvent(cfg.Sync.DBID, "close", currentDBVersion(db))
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.WriteSessionEvent(cfg.Sync.DBID, "open", currentDBVersion(db))
		opts.Recorder = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	r, err := relay.New(relay.NewSessionStore(db), mqttClient, opts)
	if err != nil {
		return err
	}

	if err := r.Run(ctx); err != nil && !isShutdown(err) {
		return fmt.Errorf("relay: %w", err)
	}
	log.Info("shutdown signal received")
	return nil
}

// isShutdown reports whether err only signals that ctx ended.
func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// currentDBVersion returns the session's db_version, or -1 if it cannot be read.
func currentDBVersion(db *database.DB) int64 {
	v, err := db.DBVersion(context.Background())
	if err != nil {
		return -1
	}
	return v
}

// getConfigPath returns the configuration file path.
// Uses CRSQL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CRSQL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
