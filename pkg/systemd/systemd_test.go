package systemd

import (
	"context"
	"testing"

	logx "alertrelay/pkg/logx"
)

func TestNoopOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	if Ready() || Stopping() || Reloading() {
		t.Fatal("notify reported success without a socket")
	}
	if err := Watchdog(context.Background(), logx.Nop()); err != nil {
		t.Fatalf("Watchdog = %v", err)
	}
}
