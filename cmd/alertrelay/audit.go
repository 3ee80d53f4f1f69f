package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newAuditCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the delivery audit log",
	}

	var (
		n      int
		asJSON bool
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n < 0 {
				return withCode(exitValidation, fmt.Errorf("-n must not be negative"))
			}
			a, err := newApp(g.cfg, g.log, true, nil)
			if err != nil {
				return withCode(exitValidation, err)
			}
			defer a.Close()
			recs, err := a.store.RecentAudit(cmd.Context(), n)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, r := range recs {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}
			for _, r := range recs {
				line := fmt.Sprintf("%s %-10s %-8s %-9s %-6s %s",
					r.At.UTC().Format(time.RFC3339), r.Status, r.Channel, r.Type, r.Priority, r.EntryID)
				if r.Context != "" {
					line += " context=" + r.Context
				}
				if r.Error != "" {
					line += " error=" + r.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "number of records (0 for all retained)")
	tail.Flags().BoolVar(&asJSON, "json", false, "print one JSON record per line")
	cmd.AddCommand(tail)
	return cmd
}
