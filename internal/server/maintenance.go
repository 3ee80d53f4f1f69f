package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"alertrelay/internal/manager"
	"alertrelay/internal/metrics"
	"alertrelay/internal/queue"
	logx "alertrelay/pkg/logx"

	"github.com/robfig/cron/v3"
)

const maintenanceLabel = "scan"

// Maintenance periodically promotes aged queue entries and drains whatever
// is pending, so alerts left behind by a failed run are retried.
type Maintenance struct {
	q   *queue.Queue
	m   *manager.Manager
	met *metrics.Metrics
	log logx.Logger

	// Deliver drains the queue after each scan; off means scan only.
	Deliver bool
	Timeout time.Duration

	mu sync.Mutex
	c  *cron.Cron
}

func NewMaintenance(q *queue.Queue, m *manager.Manager, met *metrics.Metrics, log logx.Logger) *Maintenance {
	return &Maintenance{
		q:       q,
		m:       m,
		met:     met,
		log:     log.With(logx.Component("maintenance")),
		Deliver: true,
		Timeout: time.Minute,
	}
}

// Start schedules the tick on schedule (cron syntax with optional seconds, or a
// descriptor such as "@every 1m"). Overlapping ticks are skipped.
func (mt *Maintenance) Start(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return fmt.Errorf("maintenance schedule is empty")
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger{mt.log}), cron.SkipIfStillRunning(cronLogger{mt.log})),
	)
	if _, err := c.AddFunc(schedule, func() { mt.Tick(context.Background()) }); err != nil {
		return fmt.Errorf("maintenance schedule %q: %w", schedule, err)
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.c != nil {
		<-mt.c.Stop().Done()
	}
	mt.c = c
	c.Start()
	mt.log.Info("maintenance scheduled", logx.String("schedule", schedule))
	return nil
}

// Stop waits for a running tick to finish or ctx.
func (mt *Maintenance) Stop(ctx context.Context) {
	mt.mu.Lock()
	c := mt.c
	mt.c = nil
	mt.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Tick runs one scan and, when enabled, one drain.
func (mt *Maintenance) Tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, mt.Timeout)
	defer cancel()

	n, err := mt.q.Scan(ctx)
	if err != nil {
		mt.log.Warn("queue scan failed", logx.Err(err))
		return
	}
	if mt.met != nil {
		mt.met.AddPromoted(n)
	}
	size, err := mt.q.Size(ctx)
	if err != nil {
		mt.log.Warn("queue size failed", logx.Err(err))
		return
	}
	if mt.met != nil {
		mt.met.SetQueueSize(size)
	}
	if n > 0 {
		mt.log.Info("queue entries promoted", logx.Int("promoted", n), logx.Int("pending", size))
	}
	if !mt.Deliver || size == 0 || mt.m == nil {
		return
	}

	res, err := mt.m.Deliver(ctx, maintenanceLabel)
	if err != nil {
		mt.log.Warn("queue drain incomplete", logx.Err(err))
	} else if res != nil {
		mt.log.Info("queue drained", logx.Int("entries", len(res.Entries)))
	}
	if mt.met != nil {
		if left, err := mt.q.Size(ctx); err == nil {
			mt.met.SetQueueSize(left)
		}
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
