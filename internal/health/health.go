// Package health probes delivery channels concurrently.
package health

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"alertrelay/internal/channel"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"
)

type Status string

const (
	StatusOK          Status = "OK"
	StatusFail        Status = "FAIL"
	StatusTimeout     Status = "TIMEOUT"
	StatusUnavailable Status = "UNAVAILABLE"
)

// Report is one channel's probe result.
type Report struct {
	Channel string        `json:"channel"`
	Status  Status        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Took    time.Duration `json:"took"`
}

// Healthy reports whether every report is OK.
func Healthy(reps []Report) bool {
	for _, r := range reps {
		if r.Status != StatusOK {
			return false
		}
	}
	return true
}

// Harness sends a test message on each channel through the executor, so a
// successful probe also resets that channel's breaker.
type Harness struct {
	exec    *channel.Executor
	timeout time.Duration
	log     logx.Logger
	// grace is how long past the timeout a probe may take to return before
	// it is abandoned.
	grace time.Duration
}

// New returns a harness. timeout <= 0 uses 10s per channel.
func New(exec *channel.Executor, timeout time.Duration, log logx.Logger) *Harness {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Harness{exec: exec, timeout: timeout, log: log.With(logx.Component("health")), grace: time.Second}
}

func testMessage() channel.Message {
	return channel.Message{
		EntryID:  "healthcheck",
		Type:     "healthcheck",
		Priority: "low",
		ServerID: "alertrelay",
		Text:     "alertrelay channel health check",
		At:       time.Now(),
	}
}

// Check probes names (all registered channels when empty) concurrently and
// returns reports in input order.
func (h *Harness) Check(ctx context.Context, names []string) []Report {
	if len(names) == 0 {
		names = h.exec.Registry().Names()
	}
	out := make([]Report, len(names))
	var wg sync.WaitGroup
	for i, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		out[i].Channel = n

		ch, ok := h.exec.Registry().Get(n)
		if !ok {
			out[i].Status = StatusUnavailable
			out[i].Error = "channel not configured"
			continue
		}
		if !h.exec.DryRun() {
			if err := ch.Validate(); err != nil {
				out[i].Status = StatusUnavailable
				out[i].Error = err.Error()
				continue
			}
		}

		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			out[i] = h.probe(ctx, name)
		}(i, n)
	}
	wg.Wait()
	return out
}

func (h *Harness) probe(ctx context.Context, name string) Report {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan channel.Outcome, 1)
	go func() { done <- h.exec.Probe(cctx, name, testMessage()) }()

	var o channel.Outcome
	select {
	case o = <-done:
	case <-time.After(h.timeout + h.grace):
		h.log.Warn("probe abandoned", logx.String("channel", name))
		return Report{Channel: name, Status: StatusTimeout, Error: "no response within " + h.timeout.String(), Took: time.Since(start)}
	}

	r := Report{Channel: name, Took: time.Since(start), Error: o.Error}
	switch {
	case o.OK():
		r.Status = StatusOK
	case o.Status == storage.AuditConfigError:
		r.Status = StatusUnavailable
	case errors.Is(o.Err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded):
		r.Status = StatusTimeout
	default:
		r.Status = StatusFail
	}
	h.log.Debug("probe finished", logx.String("channel", name), logx.String("status", string(r.Status)), logx.Duration("took", r.Took))
	return r
}
