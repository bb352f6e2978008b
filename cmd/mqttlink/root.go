package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package globals.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "mqttlink",
		Short: "MQTT client connection manager",
		Long: `mqttlink keeps one supervised connection to an MQTT broker.

After every successful connect it subscribes to a catch-all filter and
delivers each inbound message to its listeners. Traffic can be journaled
to SQLite, counted in InfluxDB, and driven over HTTP and WebSocket.

Examples:
  # Run the long-lived service
  mqttlink serve --config configs/config.yaml

  # Publish one message and exit
  mqttlink publish --topic sensors/kitchen --qos 1 21.5

  # Show the most recent journaled messages
  mqttlink history --limit 20

  # Inspect the journal schema
  mqttlink migrate status`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", getConfigPath(),
		"config file (env MQTTLINK_CONFIG)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newPublishCmd(load, mqtt.PahoTransport()),
		newHistoryCmd(load),
		newMigrateCmd(load),
		newVersionCmd(),
	)

	return root
}

// configLoader defers config loading until a command runs, so `version`
// works without a config file.
type configLoader func() (*config.Config, error)

// getConfigPath returns the configuration file path.
// Uses MQTTLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MQTTLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
