package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the migration log of the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer b.close()

			entries, err := b.history.History(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, paintDim("no migrations applied"))
				return nil
			}
			for _, h := range entries {
				sum := h.Checksum
				if len(sum) > 12 {
					sum = sum[:12]
				}
				fmt.Fprintf(out, "%-10s %s  %s  %d change(s)\n",
					h.Version, h.AppliedAt.Format(time.RFC3339), paintDim(sum), len(h.Changes))
			}
			return nil
		},
	}
}
