package main

import (
	"fmt"

	"alertrelay/internal/collector"
	"alertrelay/internal/config"
	logx "alertrelay/pkg/logx"

	"github.com/spf13/cobra"
)

func newCollectCmd(g *globals) *cobra.Command {
	var (
		serverID string
		mounts   string
		manage   bool
		dryRun   bool
		label    string
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Build an event from this host's CPU, memory and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := collector.New(collector.Config{
				ServerID: serverID,
				Mounts:   config.List(mounts),
			}, g.log.With(logx.Component("collector")))
			raw, err := c.CollectJSON(cmd.Context())
			if err != nil {
				return withCode(exitValidation, err)
			}
			if !manage {
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return nil
			}

			a, err := newApp(g.cfg, g.log, dryRun, nil)
			if err != nil {
				return withCode(exitValidation, err)
			}
			defer a.Close()
			res, err := a.manager.Manage(cmd.Context(), raw, label)
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			return manageExit(err)
		},
	}
	cmd.Flags().StringVar(&serverID, "server-id", "", "server id (default: hostname)")
	cmd.Flags().StringVar(&mounts, "mounts", "", "comma separated mount points (default: all physical partitions)")
	cmd.Flags().BoolVar(&manage, "manage", false, "run the collected event through the pipeline instead of printing it")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "with --manage, render messages without sending")
	cmd.Flags().StringVar(&label, "context", "collect", "context label recorded in the audit log")
	return cmd
}
