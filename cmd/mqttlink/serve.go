package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqttlink/internal/api"
	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/database"
	"github.com/nerrad567/mqttlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqttlink/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlink/internal/journal"
	"github.com/nerrad567/mqttlink/migrations"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the broker and run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, mqtt.PahoTransport())
		},
	}
}

// run is the service logic, separated from the command for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
//
// Components start in dependency order and the deferred teardown runs in
// reverse: API, metrics, MQTT then journal, InfluxDB, database.
func run(ctx context.Context, cfg *config.Config, transport mqtt.Transport) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting mqttlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Open database (optional)
	var db *database.DB
	var repo journal.Repository
	if cfg.Database.Enabled {
		var err error
		db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		repo = journal.NewSQLiteRepository(db.DB)
		log.Info("message journal ready", "path", db.Path())
	} else {
		log.Info("message journal disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		var err error
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
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
	} else {
		log.Info("InfluxDB disabled")
	}

	mqttLog := log.With("component", "mqtt")
	client := mqtt.New(cfg.MQTT, mqtt.WithTransport(transport), mqtt.WithLogger(mqttLog))

	// The recorder stops after the client closes so the final disconnect
	// transitions, which Close delivers before returning, are journaled.
	var recorder *journal.Recorder
	defer func() {
		log.Info("closing MQTT client")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
		if recorder != nil {
			recorder.Stop()
			if dropped := recorder.Dropped(); dropped > 0 {
				log.Warn("journal entries dropped", "count", dropped)
			}
		}
	}()

	client.Events().OnDisconnected(func(err error) {
		if err != nil {
			mqttLog.Warn("broker connection lost, not reconnecting automatically", "error", err)
		}
	})

	// Listeners attach before Connect so the first transitions are captured.
	if repo != nil {
		recorder = journal.NewRecorder(repo, client, log.With("component", "journal"), 0)
		recorder.Start()
	}
	if influxClient != nil {
		detach := attachMetrics(client, influxClient)
		defer detach()
	}

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Client:  client,
			Journal: repo,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// With the API up a failed first connect is not fatal: it can be
	// retried with POST /api/v1/connection/connect.
	connected := client
	if err := client.Connect(ctx); err != nil {
		if !cfg.API.Enabled {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		log.Warn("initial MQTT connect failed, waiting for a connect request", "error", err)
		connected = nil
	}

	if err := healthCheck(ctx, db, connected, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck verifies every enabled component. A nil db or influxClient
// means the component is disabled; a nil client was never connected.
func healthCheck(ctx context.Context, db *database.DB, client *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if client != nil {
		if err := client.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
