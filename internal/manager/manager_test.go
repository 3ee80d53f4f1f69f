package manager

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"alertrelay/internal/channel"
	"alertrelay/internal/debounce"
	"alertrelay/internal/event"
	"alertrelay/internal/processor"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"
)

const diskEvent = `{"timestamp":"2025-01-01T00:00:00Z","server_id":"svr01","disks":[{"mount":"/var","usage":98}]}`

type pipeline struct {
	m  *Manager
	st storage.Store
	q  *queue.Queue
}

func newPipeline(t *testing.T, names []string, s channel.Settings, dry bool, cfg Config) pipeline {
	t.Helper()
	return newPipelineWith(t, names, s, dry, cfg, processor.Defaults(processor.NewThresholdEvaluator(map[string]processor.Threshold{"disk": {Critical: 90}})))
}

func newPipelineWith(t *testing.T, names []string, s channel.Settings, dry bool, cfg Config, procs *processor.Registry) pipeline {
	t.Helper()
	st := storage.NewMemory(storage.Config{})
	q := queue.New(st, queue.Config{}, logx.Nop())
	reg, errs := channel.Build(names, s)
	if len(errs) > 0 {
		t.Fatalf("Build: %v", errs)
	}
	x := channel.NewExecutor(reg, channel.NewBreaker(st, channel.BreakerConfig{}), channel.ExecutorConfig{DryRun: dry}, logx.Nop())
	m := New(Deps{
		Store:      st,
		Queue:      q,
		Processors: procs,
		Debounce:   debounce.New(st, debounce.Config{}, logx.Nop()),
		Executor:   x,
	}, cfg, logx.Nop())
	return pipeline{m: m, st: st, q: q}
}

func TestManageDryRunEndToEnd(t *testing.T) {
	t.Parallel()
	names := []string{"email", "slack", "webhook"}
	p := newPipeline(t, names, channel.Settings{}, true, Config{})
	ctx := context.Background()

	res, err := p.m.Manage(ctx, []byte(diskEvent), "ci")
	if err != nil {
		t.Fatalf("Manage: %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(res.Entries))
	}
	e := res.Entries[0]
	if e.Entry.Priority != queue.High || e.Entry.Type != "disk" {
		t.Fatalf("entry = %+v", e.Entry)
	}
	if len(e.Outcomes) != len(names) {
		t.Fatalf("outcomes = %d, want %d", len(e.Outcomes), len(names))
	}
	for _, o := range e.Outcomes {
		if o.Status != storage.AuditDryRun {
			t.Fatalf("outcome = %+v", o)
		}
	}

	audit, _ := p.st.RecentAudit(ctx, 0)
	if len(audit) != len(names) {
		t.Fatalf("audit records = %d, want %d", len(audit), len(names))
	}
	for _, a := range audit {
		if a.Status != storage.AuditDryRun || a.Context != "ci" || a.ServerID != "svr01" {
			t.Fatalf("audit = %+v", a)
		}
	}
	if n, _ := p.q.Size(ctx); n != 0 {
		t.Fatalf("queue not drained: %d", n)
	}
}

func TestManageValidationFailure(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, []string{"slack"}, channel.Settings{}, true, Config{})

	res, err := p.m.Manage(context.Background(), []byte(`{"server_id":"svr01","disks":[]}`), "")
	if res != nil {
		t.Fatalf("result should be nil on validation failure: %+v", res)
	}
	var ve *event.ValidationError
	if !errors.As(err, &ve) || ve.Field != "timestamp" {
		t.Fatalf("err = %v", err)
	}
	if !IsValidation(err) {
		t.Fatal("IsValidation = false")
	}
}

func TestManagePartialDelivery(t *testing.T) {
	t.Parallel()
	var okCalls atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer good.Close()

	s := channel.Settings{
		Slack:   channel.SlackConfig{WebhookURL: bad.URL},
		Webhook: channel.WebhookConfig{URL: good.URL},
	}
	p := newPipeline(t, []string{"slack", "webhook"}, s, false, Config{})

	raw := `{"timestamp":"2025-01-01T00:00:00Z","server_id":"svr01","cpu":{"usage":99},"disks":[{"mount":"/var","usage":98}]}`
	res, err := p.m.Manage(context.Background(), []byte(raw), "")
	var pde *PartialDeliveryError
	if !errors.As(err, &pde) {
		t.Fatalf("err = %v, want PartialDeliveryError", err)
	}
	if len(pde.Failures) != 2 || pde.Delivered != 2 {
		t.Fatalf("failures=%d delivered=%d, want 2/2", len(pde.Failures), pde.Delivered)
	}
	if okCalls.Load() != 2 {
		t.Fatalf("webhook calls = %d, want 2", okCalls.Load())
	}
	succeeded, failed := res.ChannelSummary()
	if len(succeeded) != 1 || succeeded[0] != "webhook" || len(failed) != 1 || failed[0] != "slack" {
		t.Fatalf("summary = %v / %v", succeeded, failed)
	}
	var te *channel.TransportError
	if !errors.As(err, &te) {
		t.Fatal("per-channel cause should be reachable with errors.As")
	}
}

func TestManageDebouncesRepeat(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, []string{"slack"}, channel.Settings{}, true, Config{})
	ctx := context.Background()

	if _, err := p.m.Manage(ctx, []byte(diskEvent), ""); err != nil {
		t.Fatalf("first Manage: %v", err)
	}
	res, err := p.m.Manage(ctx, []byte(diskEvent), "")
	if err != nil {
		t.Fatalf("second Manage: %v", err)
	}
	if len(res.Entries) != 1 || !res.Entries[0].Debounced || len(res.Entries[0].Outcomes) != 0 {
		t.Fatalf("second run = %+v", res.Entries)
	}
	audit, _ := p.st.RecentAudit(ctx, 1)
	if len(audit) != 1 || audit[0].Status != storage.AuditDebounced {
		t.Fatalf("last audit = %+v", audit)
	}
}

func TestHooksAreBestEffort(t *testing.T) {
	t.Parallel()
	var after atomic.Int32
	cfg := Config{
		Before: []Hook{
			func(context.Context, *event.Event, string) error { return errors.New("before failed") },
			func(context.Context, *event.Event, string) error { panic("hook exploded") },
		},
		After: []Hook{func(context.Context, *event.Event, string) error { after.Add(1); return nil }},
	}
	p := newPipeline(t, []string{"slack"}, channel.Settings{}, true, cfg)

	if _, err := p.m.Manage(context.Background(), []byte(diskEvent), ""); err != nil {
		t.Fatalf("Manage: %v", err)
	}
	if after.Load() != 1 {
		t.Fatal("after hook did not run")
	}
}

func TestNoChannelsIsFailure(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, nil, channel.Settings{}, true, Config{})
	_, err := p.m.Manage(context.Background(), []byte(diskEvent), "")
	if !errors.Is(err, ErrNoChannels) {
		t.Fatalf("err = %v, want ErrNoChannels", err)
	}
}

type brokenProcessor struct{ panic bool }

func (brokenProcessor) Domain() string { return processor.DomainMemory }

func (b brokenProcessor) Process(context.Context, *event.Event, time.Time, processor.Enqueuer) (int, error) {
	if b.panic {
		panic("memory reader exploded")
	}
	return 0, errors.New("memory reader broke")
}

func TestManageFailingProcessorDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()
	names := []string{"email", "slack", "webhook"}
	raw := `{"timestamp":"2025-01-01T00:00:00Z","server_id":"svr01","cpu":{"usage":99},"memory":{"usage":99},"disks":[{"mount":"/var","usage":98}]}`

	for _, panics := range []bool{false, true} {
		eval := processor.NewThresholdEvaluator(nil)
		procs := processor.NewRegistry(processor.NewCPU(eval), brokenProcessor{panic: panics}, processor.NewDisk(eval))
		p := newPipelineWith(t, names, channel.Settings{}, true, Config{}, procs)

		res, err := p.m.Manage(context.Background(), []byte(raw), "")
		if err != nil {
			t.Fatalf("Manage (panic=%v): %v", panics, err)
		}
		var memFailed bool
		for _, pr := range res.Processors {
			if pr.Domain == processor.DomainMemory {
				memFailed = pr.Err != nil
			}
		}
		if !memFailed {
			t.Fatalf("memory result should carry the failure (panic=%v): %+v", panics, res.Processors)
		}

		types := map[string]bool{}
		for _, e := range res.Entries {
			types[e.Entry.Type] = true
			if len(e.Outcomes) != len(names) {
				t.Fatalf("%s outcomes = %d, want %d", e.Entry.Type, len(e.Outcomes), len(names))
			}
			for _, o := range e.Outcomes {
				if o.Status != storage.AuditDryRun {
					t.Fatalf("%s outcome = %+v", e.Entry.Type, o)
				}
			}
		}
		if len(res.Entries) != 2 || !types["cpu"] || !types["disk"] {
			t.Fatalf("entries = %+v, want one cpu and one disk", res.Entries)
		}
	}
}
