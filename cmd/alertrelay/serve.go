package main

import (
	"context"
	"fmt"
	"time"

	"alertrelay/internal/config"
	"alertrelay/internal/ingest"
	"alertrelay/internal/runtime/supervisor"
	"alertrelay/internal/server"
	logx "alertrelay/pkg/logx"
	"alertrelay/pkg/systemd"

	"github.com/spf13/cobra"
)

// maintenanceGrace bounds how long shutdown waits for a running tick.
const maintenanceGrace = 5 * time.Second

func newServeCmd(g *globals) *cobra.Command {
	var (
		addr   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, queue maintenance and optional MQTT ingest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				g.cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), g.cfg, g.log, dryRun)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: HTTP_ADDR)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "render messages without sending")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log logx.Logger, dryRun bool) error {
	a, err := newApp(cfg, log, dryRun, nil)
	if err != nil {
		return withCode(exitValidation, err)
	}
	defer a.Close()

	sup := supervisor.New(ctx, supervisor.WithLogger(log.With(logx.Component("supervisor"))), supervisor.WithCancelOnError(true))

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.Deps{
		Manager: a.manager,
		Queue:   a.queue,
		Store:   a.store,
		Health:  a.health(0),
		Metrics: a.metrics,
	}, log.With(logx.Component("http")))
	sup.Go("http", srv.Run)

	mt := server.NewMaintenance(a.queue, a.manager, a.metrics, log)
	if err := mt.Start(cfg.Server.ScanSchedule); err != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
		return withCode(exitValidation, err)
	}

	if cfg.MQTT.Enabled() {
		sub := ingest.New(ingest.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
		}, a.manager, log)
		sup.GoRestart("mqtt", sub.Run)
	}

	if cfg.RulesFile != "" {
		w := config.NewRulesWatcher(cfg.RulesFile, log)
		if _, err := w.Load(); err != nil {
			mt.Stop(context.Background())
			sup.Cancel()
			_ = sup.Wait(context.Background())
			return withCode(exitValidation, fmt.Errorf("rules: %w", err))
		}
		updates := w.Subscribe(1)
		sup.GoRestart("rules-watch", w.Watch)
		sup.Go("rules-apply", func(ctx context.Context) error {
			defer w.Unsubscribe(updates)
			for {
				select {
				case <-ctx.Done():
					return nil
				case r := <-updates:
					systemd.Reloading()
					a.applyRules(r)
					systemd.Ready()
					log.Info("rules applied", logx.String("path", cfg.RulesFile))
				}
			}
		})
	}

	if cfg.Server.PprofAddr != "" {
		sup.Go("pprof", func(ctx context.Context) error {
			return server.RunDebug(ctx, cfg.Server.PprofAddr, log.With(logx.Component("pprof")))
		})
	}

	sup.Go("watchdog", func(ctx context.Context) error { return systemd.Watchdog(ctx, log) })

	systemd.Ready()
	log.Info("alertrelay serving",
		logx.String("addr", cfg.Server.Addr),
		logx.Strs("channels", a.manager.Channels()),
		logx.Bool("mqtt", cfg.MQTT.Enabled()),
	)

	<-sup.Context().Done()
	systemd.Stopping()
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+maintenanceGrace)
	defer cancel()
	mt.Stop(sctx)
	if err := sup.Wait(sctx); err != nil {
		log.Warn("shutdown timed out", logx.Err(err))
	}
	if err := sup.Err(); err != nil {
		return withCode(exitDelivery, err)
	}
	return nil
}
