package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/eventstore"
)

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored run history, or show one run as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := eventstore.Open(ctx, a.cfg.EventStore, a.logger)
			if err != nil {
				return a.fail("failed to open event store", err)
			}
			defer store.Close()
			w := cmd.OutOrStdout()

			if len(args) == 1 {
				detail, err := store.GetRun(ctx, args[0])
				if errors.Is(err, eventstore.ErrNotFound) {
					return fmt.Errorf("run %s not found", args[0])
				}
				if err != nil {
					return a.fail("failed to load run", err)
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(detail)
			}

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return a.fail("failed to list runs", err)
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tPROVIDER\tUNITS\tSCORED\tFAILED\tSTATUS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Provider, r.Units, r.Scored, r.Failed, r.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}
