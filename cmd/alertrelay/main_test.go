package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const diskEvent = `{"timestamp":"2025-01-01T00:00:00Z","server_id":"svr01","disks":[{"mount":"/","usage":97}]}`

// setup points the store at a temp dir and returns the path of an event
// file holding body.
func setup(t *testing.T, env map[string]string, body string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("STORE_PATH", filepath.Join(dir, "state"))
	t.Setenv("LOG_LEVEL", "error")
	for k, v := range env {
		t.Setenv(k, v)
	}
	path := filepath.Join(dir, "event.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	args = append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...)
	code := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestManageDryRunSucceeds(t *testing.T) {
	path := setup(t, map[string]string{"ALERT_CHANNELS": "slack,webhook"}, diskEvent)

	code, out, errOut := runCLI(t, "", "manage", "--event", path, "--dry-run")
	if code != exitOK {
		t.Fatalf("exit = %d stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "succeeded: slack,webhook") {
		t.Fatalf("stdout = %s", out)
	}

	code, out, _ = runCLI(t, "", "queue", "size")
	if code != exitOK || strings.TrimSpace(out) != "0" {
		t.Fatalf("queue size = %d %q", code, out)
	}
	code, out, _ = runCLI(t, "", "audit", "tail", "-n", "5")
	if code != exitOK || strings.Count(out, "dry_run") != 2 {
		t.Fatalf("audit = %d %q", code, out)
	}
}

func TestManageReadsStdin(t *testing.T) {
	setup(t, map[string]string{"ALERT_CHANNELS": "slack", "DRY_RUN": "true"}, "")

	code, out, errOut := runCLI(t, diskEvent, "manage", "--context", "stdin-test")
	if code != exitOK {
		t.Fatalf("exit = %d stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "slack: dry_run") {
		t.Fatalf("stdout = %s", out)
	}
}

func TestManageValidationExitsOne(t *testing.T) {
	path := setup(t, map[string]string{"ALERT_CHANNELS": "slack"}, `{"server_id":"svr01"}`)

	code, _, errOut := runCLI(t, "", "manage", "--event", path, "--dry-run")
	if code != exitValidation {
		t.Fatalf("exit = %d, want %d", code, exitValidation)
	}
	if !strings.Contains(errOut, "timestamp") {
		t.Fatalf("stderr = %s", errOut)
	}
}

func TestManagePartialDeliveryExitsTwo(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	path := setup(t, map[string]string{
		"ALERT_CHANNELS":      "slack,discord",
		"SLACK_WEBHOOK_URL":   good.URL,
		"DISCORD_WEBHOOK_URL": bad.URL,
	}, diskEvent)

	code, out, _ := runCLI(t, "", "manage", "--event", path)
	if code != exitDelivery {
		t.Fatalf("exit = %d, want %d", code, exitDelivery)
	}
	if !strings.Contains(out, "failed: discord") || !strings.Contains(out, "succeeded: slack") {
		t.Fatalf("stdout = %s", out)
	}
}

func TestHealthcheck(t *testing.T) {
	setup(t, map[string]string{"ALERT_CHANNELS": "slack"}, "")

	code, out, _ := runCLI(t, "", "healthcheck", "--dry-run")
	if code != exitOK || !strings.Contains(out, "slack: OK") {
		t.Fatalf("dry run = %d %q", code, out)
	}

	code, out, _ = runCLI(t, "", "healthcheck", "--channels", "slack,discord", "--timeout", "2s")
	if code != exitValidation {
		t.Fatalf("exit = %d, want %d", code, exitValidation)
	}
	if !strings.Contains(out, "slack: UNAVAILABLE") || !strings.Contains(out, "discord: UNAVAILABLE") {
		t.Fatalf("stdout = %q", out)
	}
}
