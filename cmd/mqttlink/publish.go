package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

// publishOptions are the flags of the publish command.
type publishOptions struct {
	topic      string
	qos        int
	defaultQoS bool // --qos not given; use mqtt.qos from config
}

func newPublishCmd(load configLoader, transport mqtt.Transport) *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish --topic TOPIC TEXT",
		Short: "Connect, publish one message, and disconnect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			opts.defaultQoS = !cmd.Flags().Changed("qos")
			return publishOnce(cmd.Context(), cfg, transport, opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.topic, "topic", "t", "", "topic to publish to")
	cmd.Flags().IntVarP(&opts.qos, "qos", "q", 0, "QoS level 0, 1 or 2; other values publish at 0 (default: mqtt.qos from config)")
	//nolint:errcheck // Flag is defined above
	cmd.MarkFlagRequired("topic")

	return cmd
}

// publishOnce runs one connect, publish, disconnect cycle.
func publishOnce(ctx context.Context, cfg *config.Config, transport mqtt.Transport, opts publishOptions, text string, out io.Writer) error {
	log := logging.New(cfg.Logging, version).With("component", "mqtt")

	client := mqtt.New(cfg.MQTT, mqtt.WithTransport(transport), mqtt.WithLogger(log))
	defer client.Close() //nolint:errcheck // Disconnect below reports teardown errors

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}

	var err error
	if opts.defaultQoS {
		err = client.PublishDefault(ctx, text, opts.topic)
	} else {
		err = client.Publish(ctx, text, opts.topic, opts.qos)
	}
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", opts.topic, err)
	}

	if err := client.Disconnect(); err != nil {
		return fmt.Errorf("disconnecting: %w", err)
	}

	fmt.Fprintf(out, "published %d bytes to %s\n", len(text), opts.topic)
	return nil
}
