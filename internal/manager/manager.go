// Package manager runs one event through the whole pipeline: validate,
// process, enqueue, drain, debounce, deliver and audit.
package manager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"alertrelay/internal/channel"
	"alertrelay/internal/debounce"
	"alertrelay/internal/event"
	"alertrelay/internal/processor"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"
)

// Hook runs around the processor fan-out. Errors are logged, never fatal.
type Hook func(ctx context.Context, ev *event.Event, label string) error

// Recorder receives pipeline counters; metrics implements it.
type Recorder interface {
	EventHandled(label string, err error)
	AlertQueued(domain string, n int)
	AlertDebounced(alertType string)
}

// Deps wires a Manager. Store is used for the audit log.
type Deps struct {
	Store      storage.Store
	Queue      *queue.Queue
	Processors *processor.Registry
	Debounce   *debounce.Controller
	Executor   *channel.Executor
	Recorder   Recorder
}

type Config struct {
	// Domains to run per event; default cpu, memory, disk.
	Domains []string
	// Channels to deliver on, in order; default every registered channel.
	Channels []string
	Validate event.Options
	Before   []Hook
	After    []Hook
}

type Manager struct {
	d   Deps
	cfg Config
	log logx.Logger
}

func New(d Deps, cfg Config, log logx.Logger) *Manager {
	if len(cfg.Domains) == 0 {
		cfg.Domains = []string{processor.DomainCPU, processor.DomainMemory, processor.DomainDisk}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{d: d, cfg: cfg, log: log.With(logx.Component("manager"))}
}

// Channels returns the delivery list.
func (m *Manager) Channels() []string {
	if len(m.cfg.Channels) > 0 {
		return append([]string(nil), m.cfg.Channels...)
	}
	return m.d.Executor.Registry().Names()
}

// Manage validates raw, runs the processors and delivers everything in the
// queue. The error is nil, *event.ValidationError or *PartialDeliveryError.
// For a validation failure the result is nil.
func (m *Manager) Manage(ctx context.Context, raw []byte, label string) (*Result, error) {
	label = strings.TrimSpace(label)
	ev, err := event.Validate(raw, m.cfg.Validate)
	if err != nil {
		m.log.Warn("event rejected", logx.String("context", label), logx.Err(err))
		m.record(label, err)
		return nil, err
	}
	log := m.log.With(logx.String("server_id", ev.ServerID), logx.String("context", label))

	res := &Result{Label: label, ServerID: ev.ServerID}

	m.runHooks(ctx, "before", m.cfg.Before, ev, label)
	res.Processors = processor.RunAll(ctx, m.d.Processors, m.cfg.Domains, ev, ev.Timestamp, m.d.Queue, log)
	for _, pr := range res.Processors {
		if m.d.Recorder != nil && pr.Enqueued > 0 {
			m.d.Recorder.AlertQueued(pr.Domain, pr.Enqueued)
		}
	}
	m.runHooks(ctx, "after", m.cfg.After, ev, label)

	err = m.deliver(ctx, label, res)
	m.record(label, err)
	return res, err
}

// Deliver drains the queue and delivers whatever is pending, without a new
// event. Used by periodic maintenance.
func (m *Manager) Deliver(ctx context.Context, label string) (*Result, error) {
	res := &Result{Label: label}
	err := m.deliver(ctx, label, res)
	return res, err
}

func (m *Manager) deliver(ctx context.Context, label string, res *Result) error {
	entries, err := m.d.Queue.Drain(ctx)
	if err != nil {
		// Nothing was removed; the entries stay queued for the next run.
		m.log.Error("queue drain failed", logx.Err(err))
		return fmt.Errorf("drain queue: %w", err)
	}

	channels := m.Channels()
	var pde PartialDeliveryError
	for _, e := range entries {
		er := m.deliverEntry(ctx, label, e, channels)
		res.Entries = append(res.Entries, er)
		if er.Debounced {
			continue
		}
		if len(er.Outcomes) == 0 {
			pde.Failures = append(pde.Failures, Failure{EntryID: e.ID, Type: e.Type, Status: storage.AuditFailed, Err: ErrNoChannels})
			continue
		}
		for _, o := range er.Outcomes {
			if o.OK() {
				pde.Delivered++
				continue
			}
			pde.Failures = append(pde.Failures, Failure{EntryID: e.ID, Type: e.Type, Channel: o.Channel, Status: o.Status, Err: o.Err})
		}
	}
	if len(pde.Failures) > 0 {
		return &pde
	}
	return nil
}

// deliverEntry gates one entry through debounce once, then fans it out to
// every channel in order. One channel's failure never stops the next.
func (m *Manager) deliverEntry(ctx context.Context, label string, e queue.Entry, channels []string) EntryResult {
	er := EntryResult{Entry: e}
	base := storage.AuditEntry{EntryID: e.ID, Type: e.Type, Priority: string(e.Priority), ServerID: e.ServerID(), Context: label}

	if m.d.Debounce != nil {
		d := m.d.Debounce.CanSend(ctx, m.d.Debounce.Key(e.Type, e.ServerID()))
		if !d.Allowed {
			er.Debounced = true
			er.Remaining = d.Remaining
			m.log.Info("alert debounced", logx.String("type", e.Type), logx.String("id", e.ID), logx.Duration("remaining", d.Remaining))
			if m.d.Recorder != nil {
				m.d.Recorder.AlertDebounced(e.Type)
			}
			a := base
			a.Status = storage.AuditDebounced
			m.audit(ctx, a)
			return er
		}
	}

	if len(channels) == 0 {
		m.log.Warn("no channels configured, alert dropped", logx.String("type", e.Type), logx.String("id", e.ID))
		a := base
		a.Status = storage.AuditFailed
		a.Error = ErrNoChannels.Error()
		m.audit(ctx, a)
		return er
	}

	msg := channel.Message{
		EntryID:  e.ID,
		Type:     e.Type,
		Priority: string(e.Priority),
		ServerID: e.ServerID(),
		Text:     e.Message,
		At:       time.Unix(e.Timestamp, 0),
		Metadata: e.Metadata,
	}
	for _, name := range channels {
		o := m.d.Executor.Send(ctx, name, msg)
		er.Outcomes = append(er.Outcomes, o)

		a := base
		a.Channel = name
		a.Status = o.Status
		a.Attempts = o.Attempts
		a.Error = o.Error
		a.TookMS = o.Took.Milliseconds()
		m.audit(ctx, a)
	}
	return er
}

func (m *Manager) audit(ctx context.Context, a storage.AuditEntry) {
	if m.d.Store == nil {
		return
	}
	if err := m.d.Store.AppendAudit(ctx, a); err != nil {
		m.log.Warn("audit append failed", logx.String("id", a.EntryID), logx.Err(err))
	}
}

func (m *Manager) runHooks(ctx context.Context, stage string, hooks []Hook, ev *event.Event, label string) {
	for i, h := range hooks {
		if h == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("hook panic",
						logx.String("stage", stage),
						logx.Int("index", i),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			if err := h(ctx, ev, label); err != nil {
				m.log.Warn("hook failed", logx.String("stage", stage), logx.Int("index", i), logx.Err(err))
			}
		}()
	}
}

func (m *Manager) record(label string, err error) {
	if m.d.Recorder != nil {
		m.d.Recorder.EventHandled(label, err)
	}
}

// IsValidation reports whether err is a rejected event.
func IsValidation(err error) bool {
	var ve *event.ValidationError
	return errors.As(err, &ve)
}
