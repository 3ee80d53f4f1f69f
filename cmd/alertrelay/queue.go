package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newQueueCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the alert queue",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "peek",
			Short: "Print pending entries in delivery order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(g.cfg, g.log, true, nil)
				if err != nil {
					return withCode(exitValidation, err)
				}
				defer a.Close()
				pending, err := a.queue.PeekPending(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range pending {
					meta, _ := json.Marshal(e.Metadata)
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%s\n",
						e.ID, e.Priority, e.Type,
						time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339),
						e.Message, meta)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "size",
			Short: "Print the number of pending entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(g.cfg, g.log, true, nil)
				if err != nil {
					return withCode(exitValidation, err)
				}
				defer a.Close()
				n, err := a.queue.Size(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			},
		},
		newQueueScanCmd(g),
	)
	return cmd
}

func newQueueScanCmd(g *globals) *cobra.Command {
	var (
		deliver bool
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Promote aged low entries, optionally delivering everything pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g.cfg, g.log, dryRun, nil)
			if err != nil {
				return withCode(exitValidation, err)
			}
			defer a.Close()
			n, err := a.queue.Scan(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promoted: %d\n", n)
			if !deliver {
				return nil
			}
			res, err := a.manager.Deliver(cmd.Context(), "scan")
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			return manageExit(err)
		},
	}
	cmd.Flags().BoolVar(&deliver, "deliver", false, "drain and deliver the queue after scanning")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "with --deliver, render messages without sending")
	return cmd
}
