package main

import (
	"fmt"
	"strings"
	"time"

	"alertrelay/internal/channel"
	"alertrelay/internal/config"
	"alertrelay/internal/debounce"
	"alertrelay/internal/event"
	"alertrelay/internal/health"
	"alertrelay/internal/manager"
	"alertrelay/internal/metrics"
	"alertrelay/internal/processor"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"
)

// app is the wired pipeline shared by every subcommand.
type app struct {
	cfg   *config.Config
	rules *config.Rules
	log   logx.Logger

	store    storage.Store
	queue    *queue.Queue
	registry *channel.Registry
	exec     *channel.Executor
	eval     *processor.Swappable
	manager  *manager.Manager
	metrics  *metrics.Metrics
}

// newApp opens storage and builds the pipeline. channels overrides the
// configured delivery list when non-empty.
func newApp(cfg *config.Config, log logx.Logger, dryRun bool, channels []string) (*app, error) {
	for _, w := range cfg.Warnings {
		log.Warn("config value ignored", logx.String("detail", w))
	}

	var rules *config.Rules
	if cfg.RulesFile != "" {
		r, err := config.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("rules: %w", err)
		}
		rules = r
	}

	st, err := storage.Open(cfg.Store, log.With(logx.Component("storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	backups := queue.Backups(queue.NewMemBackups(cfg.Pipeline.BackupKeep))
	if dir := strings.TrimSpace(cfg.Pipeline.BackupDir); dir != "" {
		d, err := queue.NewDirBackups(dir, cfg.Pipeline.BackupKeep)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("queue backups: %w", err)
		}
		backups = d
	}
	q := queue.New(st, queue.Config{PromoteAfter: cfg.Pipeline.PromoteAfter, Backups: backups}, log.With(logx.Component("queue")))

	if len(channels) == 0 {
		channels = cfg.Pipeline.Channels
	}
	reg, errs := channel.Build(channels, cfg.ChannelSettings(rules))
	for _, e := range errs {
		log.Warn("channel skipped", logx.Err(e))
	}

	met := metrics.New()
	exec := channel.NewExecutor(reg,
		channel.NewBreaker(st, channel.BreakerConfig{
			Threshold: cfg.Pipeline.BreakerThreshold,
			Cooldown:  cfg.Pipeline.BreakerCooldown,
		}),
		channel.ExecutorConfig{
			DryRun:     dryRun || cfg.Pipeline.DryRun,
			RatePerSec: cfg.Pipeline.RatePerSec,
			Observer:   met.ObserveOutcome,
		},
		log.With(logx.Component("channel")),
	)

	eval := processor.NewSwappable(cfg.Evaluator(rules))
	mgr := manager.New(manager.Deps{
		Store:      st,
		Queue:      q,
		Processors: processor.Defaults(eval),
		Debounce: debounce.New(st, debounce.Config{
			Window:  cfg.Pipeline.DebounceWindow,
			KeyMode: cfg.Pipeline.DebounceKey,
		}, log.With(logx.Component("debounce"))),
		Executor: exec,
		Recorder: met,
	}, manager.Config{
		Domains:  cfg.Pipeline.Domains,
		Channels: registered(reg, channels),
		Validate: event.Options{Require: cfg.Pipeline.Require},
	}, log)

	return &app{
		cfg:      cfg,
		rules:    rules,
		log:      log,
		store:    st,
		queue:    q,
		registry: reg,
		exec:     exec,
		eval:     eval,
		manager:  mgr,
		metrics:  met,
	}, nil
}

// registered keeps the names reg knows, in configured order.
func registered(reg *channel.Registry, names []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if _, ok := reg.Get(n); ok && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (a *app) health(timeout time.Duration) *health.Harness {
	return health.New(a.exec, timeout, a.log.With(logx.Component("health")))
}

// applyRules swaps thresholds and rebuilds channels with the new templates.
func (a *app) applyRules(r *config.Rules) {
	a.rules = r
	a.eval.Set(a.cfg.Evaluator(r))
	for _, err := range channel.Rebuild(a.registry, a.cfg.ChannelSettings(r)) {
		a.log.Warn("channel rebuild failed", logx.Err(err))
	}
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
