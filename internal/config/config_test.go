package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alertrelay/internal/processor"
	logx "alertrelay/pkg/logx"
)

func TestFromMapDefaults(t *testing.T) {
	t.Parallel()
	cfg := FromMap(nil)

	p := cfg.Pipeline
	if len(p.Channels) != 0 {
		t.Fatalf("Channels = %v, want none", p.Channels)
	}
	if strings.Join(p.Domains, ",") != "cpu,memory,disk" {
		t.Fatalf("Domains = %v", p.Domains)
	}
	if p.Require != nil {
		t.Fatalf("Require = %v, want nil (validator default)", p.Require)
	}
	if p.DebounceWindow != 300*time.Second || p.DebounceKey != "type" {
		t.Fatalf("debounce = %v %q", p.DebounceWindow, p.DebounceKey)
	}
	if p.BreakerThreshold != 3 || p.PromoteAfter != time.Hour || p.BackupKeep != 7 {
		t.Fatalf("pipeline = %+v", p)
	}
	if cfg.Store.Driver != "file" || cfg.Store.LockTimeout != 5*time.Second || cfg.Store.AuditMax != 100 || cfg.Store.AuditKeep != 50 {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Thresholds["disk"].Critical != 90 || cfg.Thresholds["cpu"].Warning != 0 {
		t.Fatalf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Channels.SMS.Retries != 2 || cfg.Channels.SMS.Backoff != 2*time.Second {
		t.Fatalf("sms = %+v", cfg.Channels.SMS)
	}
	if cfg.Server.ScanSchedule != "@every 1m" || cfg.MQTT.Enabled() {
		t.Fatalf("server/mqtt = %+v %+v", cfg.Server, cfg.MQTT)
	}
	if len(cfg.Warnings) != 0 {
		t.Fatalf("warnings = %v", cfg.Warnings)
	}
}

func TestFromMapValues(t *testing.T) {
	t.Parallel()
	cfg := FromMap(map[string]string{
		"ALERT_CHANNELS":          "Email, slack ,",
		"ALERT_REQUIRE":           "",
		"DRY_RUN":                 "true",
		"DEBOUNCE_WINDOW_SECONDS": "60",
		"DEBOUNCE_KEY":            "TYPE_SERVER",
		"QUEUE_PROMOTE_AFTER":     "30m",
		"DISK_THRESHOLD":          "80",
		"DISK_WARN":               "70",
		"ALERT_EMAIL_TO":          "Ops@Example.com,oncall@example.com",
		"STORE_DRIVER":            "SQLite",
	})
	p := cfg.Pipeline
	if strings.Join(p.Channels, ",") != "email,slack" {
		t.Fatalf("Channels = %v", p.Channels)
	}
	if p.Require == nil || len(p.Require) != 0 {
		t.Fatalf("Require = %#v, want empty non-nil", p.Require)
	}
	if !p.DryRun || p.DebounceWindow != time.Minute || p.DebounceKey != "type_server" || p.PromoteAfter != 30*time.Minute {
		t.Fatalf("pipeline = %+v", p)
	}
	if got := cfg.Thresholds["disk"]; got != (processor.Threshold{Critical: 80, Warning: 70}) {
		t.Fatalf("disk = %+v", got)
	}
	if cfg.Channels.Email.To[0] != "Ops@Example.com" {
		t.Fatalf("email to = %v", cfg.Channels.Email.To)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Store.Driver)
	}
}

func TestInvalidValuesFallBackWithWarning(t *testing.T) {
	t.Parallel()
	cfg := FromMap(map[string]string{
		"DEBOUNCE_WINDOW_SECONDS":   "soon",
		"CIRCUIT_BREAKER_THRESHOLD": "three",
		"CPU_THRESHOLD":             "150",
		"DEBOUNCE_KEY":              "host",
		"ALERT_CHANNELS":            "pager",
		"MQTT_QOS":                  "7",
	})
	if cfg.Pipeline.DebounceWindow != 300*time.Second {
		t.Fatalf("window = %v", cfg.Pipeline.DebounceWindow)
	}
	if cfg.Pipeline.BreakerThreshold != 3 || cfg.Thresholds["cpu"].Critical != 90 || cfg.MQTT.QoS != 1 {
		t.Fatalf("fallbacks not applied: %+v %+v", cfg.Pipeline, cfg.Thresholds)
	}
	if cfg.Pipeline.DebounceKey != "type" {
		t.Fatalf("key = %q", cfg.Pipeline.DebounceKey)
	}
	if len(cfg.Warnings) != 6 {
		t.Fatalf("warnings = %d %v, want 6", len(cfg.Warnings), cfg.Warnings)
	}
}

func TestLoadEnvFileDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("ALERTRELAY_TEST_A=file\nALERTRELAY_TEST_B=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ALERTRELAY_TEST_A", "process")
	t.Cleanup(func() { _ = os.Unsetenv("ALERTRELAY_TEST_B") })

	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("ALERTRELAY_TEST_A"); got != "process" {
		t.Fatalf("A = %q, want process", got)
	}
	if got := os.Getenv("ALERTRELAY_TEST_B"); got != "file" {
		t.Fatalf("B = %q, want file", got)
	}

	if _, err := Load(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestParseRulesYAMLStrict(t *testing.T) {
	t.Parallel()
	r, err := ParseRules("rules.yaml", []byte(`
thresholds:
  cpu: {critical: 95, warning: 80}
templates:
  slack: "*{priority}* {message}"
  email.subject: "{type} on {server}"
`))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if r.Thresholds["cpu"].Critical != 95 || r.Templates["email.subject"] == "" {
		t.Fatalf("rules = %+v", r)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if _, err := ParseRules("rules.yaml", []byte("thresold:\n  cpu: {critical: 95}\n")); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := ParseRules("rules.json", []byte(`{"templates":{}} {}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
	if r, err := ParseRules("empty.yaml", nil); err != nil || r == nil {
		t.Fatalf("empty file = %v %v", r, err)
	}
}

func TestRulesValidate(t *testing.T) {
	t.Parallel()
	bad := &Rules{
		Thresholds: map[string]processor.Threshold{
			"cpu":  {Critical: 120},
			"disk": {Critical: 80, Warning: 85},
		},
		Templates: map[string]string{"pager": "x", "slack": "{unclosed"},
	}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"thresholds.cpu", "thresholds.disk", "templates.pager", "templates.slack"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %s", err, want)
		}
	}
}

func TestRulesMergeAndSettings(t *testing.T) {
	t.Parallel()
	cfg := FromMap(map[string]string{"CPU_WARN": "70"})
	r := &Rules{
		Thresholds: map[string]processor.Threshold{"CPU": {Critical: 95}, "disk": {Warning: 75}},
		Templates:  map[string]string{"slack": "custom {message}"},
	}
	merged := r.Merge(cfg.Thresholds)
	if merged["cpu"] != (processor.Threshold{Critical: 95, Warning: 70}) {
		t.Fatalf("cpu = %+v", merged["cpu"])
	}
	if merged["disk"] != (processor.Threshold{Critical: 90, Warning: 75}) {
		t.Fatalf("disk = %+v", merged["disk"])
	}
	if cfg.Thresholds["cpu"].Critical != 90 {
		t.Fatal("Merge mutated the base map")
	}
	if got := cfg.ChannelSettings(r).Slack.Template; got != "custom {message}" {
		t.Fatalf("slack template = %q", got)
	}
	if v, ok := cfg.Evaluator(r).Evaluate("cpu", 80); !ok || v.Priority != "medium" {
		t.Fatalf("Evaluate(cpu, 80) = %+v %v", v, ok)
	}
}

func TestSummarizeRulesChange(t *testing.T) {
	t.Parallel()
	oldR := &Rules{Templates: map[string]string{"slack": "a"}}
	newR := &Rules{
		Thresholds: map[string]processor.Threshold{"cpu": {Critical: 95}},
		Templates:  map[string]string{"slack": "top-secret body"},
	}
	changed, attrs := SummarizeRulesChange(oldR, newR)
	if strings.Join(changed, ",") != "thresholds,templates" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) != 3 {
		t.Fatalf("attrs = %d, want 3", len(attrs))
	}
	if changed, _ := SummarizeRulesChange(newR, newR); len(changed) != 0 {
		t.Fatalf("no-op change = %v", changed)
	}
}

func TestRulesWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("thresholds:\n  cpu: {critical: 95}\n")

	w := NewRulesWatcher(path, logx.Nop())
	if _, err := w.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := w.Subscribe(1)
	defer w.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	write("thresholds:\n  cpu: {critical: 97}\n")
	select {
	case r := <-sub:
		if r.Thresholds["cpu"].Critical != 97 {
			t.Fatalf("published = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}

	// Invalid edit keeps the previous rules.
	write("thresholds:\n  cpu: {critical: 400}\n")
	time.Sleep(600 * time.Millisecond)
	if got := w.Get().Thresholds["cpu"].Critical; got != 97 {
		t.Fatalf("rules after invalid edit = %v, want 97", got)
	}
}
