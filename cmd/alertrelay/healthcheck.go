package main

import (
	"fmt"
	"time"

	"alertrelay/internal/config"
	"alertrelay/internal/health"

	"github.com/spf13/cobra"
)

func newHealthcheckCmd(g *globals) *cobra.Command {
	var (
		channels string
		dryRun   bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Send a test message on each channel and report its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := config.Names(channels)
			a, err := newApp(g.cfg, g.log, dryRun, names)
			if err != nil {
				return withCode(exitValidation, err)
			}
			defer a.Close()

			if len(names) == 0 {
				names = a.manager.Channels()
			}
			if len(names) == 0 {
				return withCode(exitValidation, fmt.Errorf("no channels to check"))
			}
			reps := a.health(timeout).Check(cmd.Context(), names)
			out := cmd.OutOrStdout()
			for _, r := range reps {
				if r.Error != "" {
					fmt.Fprintf(out, "%s: %s (%s)\n", r.Channel, r.Status, r.Error)
				} else {
					fmt.Fprintf(out, "%s: %s\n", r.Channel, r.Status)
				}
			}
			if !health.Healthy(reps) {
				return withCode(exitValidation, nil)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channels, "channels", "", "comma separated channels (default: ALERT_CHANNELS)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "render test messages without sending")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per channel timeout")
	return cmd
}
