package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/journal"
	"github.com/nerrad567/mqttlink/migrations"
)

// errJournalDisabled is returned when history is asked for without a database.
var errJournalDisabled = errors.New("message journal is disabled (set database.enabled)")

// historyOptions are the flags of the history command.
type historyOptions struct {
	filter      journal.Filter
	connections bool
	asJSON      bool
}

func newHistoryCmd(load configLoader) *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent journaled messages or connection events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return printHistory(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.filter.Limit, "limit", "n", 20, "number of rows (max 200)")
	cmd.Flags().StringVar(&opts.filter.Direction, "direction", "", `only "in" or "out" messages`)
	cmd.Flags().StringVar(&opts.filter.Topic, "topic", "", "only messages on this exact topic")
	cmd.Flags().BoolVar(&opts.connections, "connections", false, "show connection events instead of messages")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "output as JSON")

	return cmd
}

func printHistory(ctx context.Context, cfg *config.Config, opts historyOptions, out io.Writer) error {
	db, err := openJournalDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Read-only use

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	repo := journal.NewSQLiteRepository(db.DB)

	if opts.connections {
		events, err := repo.ConnectionHistory(ctx, opts.filter.Limit)
		if err != nil {
			return fmt.Errorf("reading connection history: %w", err)
		}
		if opts.asJSON {
			return json.NewEncoder(out).Encode(events)
		}
		return writeConnectionTable(out, events)
	}

	entries, err := repo.Recent(ctx, opts.filter)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	if opts.asJSON {
		return json.NewEncoder(out).Encode(entries)
	}
	return writeMessageTable(out, entries)
}

func writeMessageTable(out io.Writer, entries []journal.Entry) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tDIR\tQOS\tTOPIC\tPAYLOAD")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			e.RecordedAt.Local().Format(time.DateTime), e.Direction, e.QoS, e.Topic, truncate(strings.ReplaceAll(e.Payload, "\n", `\n`), 60))
	}
	return tw.Flush()
}

func writeConnectionTable(out io.Writer, events []journal.ConnectionEvent) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFROM\tTO\tCLIENT\tERROR")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ev.RecordedAt.Local().Format(time.DateTime), ev.From, ev.To, ev.ClientID, ev.Error)
	}
	return tw.Flush()
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
