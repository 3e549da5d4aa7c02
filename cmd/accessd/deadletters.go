package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/dispatch"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/retry"
)

func deadLettersCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "Inspect failed commands awaiting retry",
	}
	cmd.AddCommand(deadLettersListCmd(load))
	return cmd
}

func deadLettersListCmd(load configLoader) *cobra.Command {
	var (
		abandoned bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered commands",
		Long: `List the head of the retry queue. With --abandoned, list commands that
exhausted their retry budget instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			key := listKey(cfg, abandoned)

			return withDatabase(cmd.Context(), func() (*config.Config, error) { return cfg, nil },
				func(ctx context.Context, db *database.DB) error {
					items, err := retry.NewSQLiteStore(db).List(ctx, key, limit)
					if err != nil {
						return err
					}
					printDeadLetters(cmd.OutOrStdout(), key, items)
					return nil
				})
		},
	}

	cmd.Flags().BoolVar(&abandoned, "abandoned", false, "list abandoned commands")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of entries")
	return cmd
}

func listKey(cfg *config.Config, abandoned bool) string {
	if abandoned {
		return cfg.Retry.AbandonedKey
	}
	return cfg.Retry.QueueKey
}

func printDeadLetters(out io.Writer, key string, items []retry.Item) {
	if len(items) == 0 {
		fmt.Fprintf(out, "%s is empty\n", key)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tQUEUED\tDEVICE\tKIND\tSTATUS\tATTEMPT\tERROR")
	for _, it := range items {
		rec := it.Record
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			it.ID,
			it.CreatedAt.Format(time.DateTime),
			rec.Command.DeviceID,
			rec.Command.Kind,
			colorStatus(rec.Status),
			rec.Command.Attempt,
			rec.LastError,
		)
	}
	w.Flush() //nolint:errcheck // Output to terminal
	fmt.Fprintf(out, "\n%d entries on %s\n", len(items), key)
}

func colorStatus(s dispatch.Status) string {
	switch s {
	case dispatch.StatusTimeout:
		return color.New(color.FgYellow).Sprint(s)
	case dispatch.StatusDeviceOffline:
		return color.New(color.FgCyan).Sprint(s)
	default:
		return color.New(color.FgRed).Sprint(s)
	}
}
