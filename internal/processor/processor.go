// Package processor turns a validated event into queued alerts, one
// concurrent processor per metric domain.
package processor

import (
	"context"
	"fmt"
	"time"

	"alertrelay/internal/event"
	"alertrelay/internal/queue"
)

// Domain names.
const (
	DomainCPU    = "cpu"
	DomainMemory = "memory"
	DomainDisk   = "disk"
)

// Enqueuer is the producer side of the alert queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Priority, alertType, message string, metadata map[string]any) (queue.Entry, error)
}

// Processor evaluates its slice of an event and enqueues any alerts.
type Processor interface {
	Domain() string
	Process(ctx context.Context, ev *event.Event, ts time.Time, enq Enqueuer) (int, error)
}

// usageProcessor covers the single-reading domains (cpu, memory).
type usageProcessor struct {
	domain string
	label  string
	pick   func(*event.Event) *event.Usage
	eval   Evaluator
}

func NewCPU(eval Evaluator) Processor {
	return &usageProcessor{domain: DomainCPU, label: "CPU", pick: func(ev *event.Event) *event.Usage { return ev.CPU }, eval: eval}
}

func NewMemory(eval Evaluator) Processor {
	return &usageProcessor{domain: DomainMemory, label: "Memory", pick: func(ev *event.Event) *event.Usage { return ev.Memory }, eval: eval}
}

func (p *usageProcessor) Domain() string { return p.domain }

func (p *usageProcessor) Process(ctx context.Context, ev *event.Event, _ time.Time, enq Enqueuer) (int, error) {
	u := p.pick(ev)
	if u == nil {
		return 0, nil
	}
	v, breach := p.eval.Evaluate(p.domain, u.Usage)
	if !breach {
		return 0, nil
	}
	msg := fmt.Sprintf("%s usage on %s is %.1f%% (threshold %.0f%%)", p.label, ev.ServerID, u.Usage, v.Limit)
	meta := map[string]any{"host": ev.ServerID, "usage": u.Usage}
	if _, err := enq.Enqueue(ctx, v.Priority, p.domain, msg, meta); err != nil {
		return 0, err
	}
	return 1, nil
}

type diskProcessor struct {
	eval Evaluator
}

func NewDisk(eval Evaluator) Processor { return &diskProcessor{eval: eval} }

func (p *diskProcessor) Domain() string { return DomainDisk }

// Process enqueues one alert per breaching mount. It stops at the first
// enqueue failure and reports how many made it in.
func (p *diskProcessor) Process(ctx context.Context, ev *event.Event, _ time.Time, enq Enqueuer) (int, error) {
	n := 0
	for _, d := range ev.Disks {
		v, breach := p.eval.Evaluate(DomainDisk, d.Usage)
		if !breach {
			continue
		}
		msg := fmt.Sprintf("Disk %s on %s is %.1f%% full (threshold %.0f%%)", d.Mount, ev.ServerID, d.Usage, v.Limit)
		meta := map[string]any{"host": ev.ServerID, "usage": d.Usage, "mount": d.Mount}
		if _, err := enq.Enqueue(ctx, v.Priority, DomainDisk, msg, meta); err != nil {
			return n, fmt.Errorf("mount %s: %w", d.Mount, err)
		}
		n++
	}
	return n, nil
}
