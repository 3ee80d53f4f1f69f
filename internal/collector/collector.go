// Package collector builds an event from the local host's CPU, memory and
// disk usage.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"alertrelay/internal/event"
	logx "alertrelay/pkg/logx"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Source reads raw usage percentages.
type Source interface {
	CPU(ctx context.Context, sample time.Duration) (float64, error)
	Memory(ctx context.Context) (float64, error)
	Disk(ctx context.Context, mount string) (float64, error)
	Mounts(ctx context.Context) ([]string, error)
}

type Config struct {
	// ServerID defaults to the hostname.
	ServerID string
	// Mounts to read; empty means every physical partition.
	Mounts []string
	// Sample is the CPU sampling window. 0 means 500ms.
	Sample time.Duration
	Now    func() time.Time
}

type Collector struct {
	cfg Config
	src Source
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Collector {
	return NewWithSource(cfg, HostSource{}, log)
}

func NewWithSource(cfg Config, src Source, log logx.Logger) *Collector {
	if cfg.Sample <= 0 {
		cfg.Sample = 500 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Collector{cfg: cfg, src: src, log: log}
}

// Collect reads every metric. A metric that cannot be read is left out and
// logged; the error is returned only when nothing could be read.
func (c *Collector) Collect(ctx context.Context) (*event.Event, error) {
	id := strings.TrimSpace(c.cfg.ServerID)
	if id == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("hostname: %w", err)
		}
		id = h
	}
	ev := &event.Event{Timestamp: c.cfg.Now().UTC(), ServerID: id}

	var errs []error
	if v, err := c.src.CPU(ctx, c.cfg.Sample); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else {
		ev.CPU = &event.Usage{Usage: round(v)}
	}
	if v, err := c.src.Memory(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		ev.Memory = &event.Usage{Usage: round(v)}
	}

	mounts := c.cfg.Mounts
	if len(mounts) == 0 {
		m, err := c.src.Mounts(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("partitions: %w", err))
		}
		mounts = m
	}
	for _, m := range mounts {
		v, err := c.src.Disk(ctx, m)
		if err != nil {
			errs = append(errs, fmt.Errorf("disk %s: %w", m, err))
			continue
		}
		ev.Disks = append(ev.Disks, event.Disk{Mount: m, Usage: round(v)})
	}

	for _, err := range errs {
		c.log.Warn("metric read failed", logx.Err(err))
	}
	if ev.CPU == nil && ev.Memory == nil && len(ev.Disks) == 0 {
		return nil, errors.Join(errs...)
	}
	return ev, nil
}

// CollectJSON returns the event in the inbound wire format.
func (c *Collector) CollectJSON(ctx context.Context) ([]byte, error) {
	ev, err := c.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}

func round(v float64) float64 {
	return math.Min(100, math.Max(0, math.Round(v*100)/100))
}

// HostSource reads the local machine through gopsutil.
type HostSource struct{}

func (HostSource) CPU(ctx context.Context, sample time.Duration) (float64, error) {
	p, err := cpu.PercentWithContext(ctx, sample, false)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, errors.New("no cpu reading")
	}
	return p[0], nil
}

func (HostSource) Memory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (HostSource) Disk(ctx context.Context, mount string) (float64, error) {
	u, err := disk.UsageWithContext(ctx, mount)
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}

func (HostSource) Mounts(ctx context.Context) ([]string, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range parts {
		if p.Mountpoint == "" || seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true
		out = append(out, p.Mountpoint)
	}
	return out, nil
}
