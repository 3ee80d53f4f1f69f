// Package systemd reports service state to the systemd supervisor. Every
// call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	logx "alertrelay/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready sends READY=1. It reports whether systemd received it.
func Ready() bool { return notify(daemon.SdNotifyReady) }

// Reloading sends RELOADING=1; follow it with Ready once done.
func Reloading() bool { return notify(daemon.SdNotifyReloading) }

// Stopping sends STOPPING=1.
func Stopping() bool { return notify(daemon.SdNotifyStopping) }

func notify(state string) bool {
	ok, err := daemon.SdNotify(false, state)
	return ok && err == nil
}

// Watchdog pings WATCHDOG=1 at half the configured interval until ctx is
// done. It returns immediately when the unit has no WatchdogSec.
func Watchdog(ctx context.Context, log logx.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("systemd watchdog ping failed", logx.Err(err))
			}
		}
	}
}
