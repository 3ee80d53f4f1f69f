package main

import (
	"strings"

	"alertrelay/internal/config"
	logx "alertrelay/pkg/logx"

	"github.com/spf13/cobra"
)

// globals holds persistent flags and the resources PersistentPreRunE
// creates for the subcommand.
type globals struct {
	envFile  string
	logLevel string

	cfg    *config.Config
	logSvc *logx.Service
	log    logx.Logger
}

func newRootCmd() (*cobra.Command, *globals) {
	g := &globals{}
	root := &cobra.Command{
		Use:           "alertrelay",
		Short:         "Host monitoring alert pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.init()
		},
	}
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the process environment")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override LOG_LEVEL (trace, debug, info, warn, error)")

	root.AddCommand(
		newManageCmd(g),
		newHealthcheckCmd(g),
		newServeCmd(g),
		newCollectCmd(g),
		newQueueCmd(g),
		newAuditCmd(g),
	)
	return root, g
}

func (g *globals) close() {
	if g.logSvc != nil {
		_ = g.logSvc.Close()
	}
}

func (g *globals) init() error {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return withCode(exitValidation, err)
	}
	if lvl := strings.TrimSpace(g.logLevel); lvl != "" {
		cfg.Log.Level = lvl
	}
	g.cfg = cfg
	g.logSvc, g.log = logx.New(cfg.Log)
	return nil
}
