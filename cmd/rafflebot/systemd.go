package main

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"rafflebot/internal/app"
)

const (
	ready    = daemon.SdNotifyReady
	stopping = daemon.SdNotifyStopping
)

// notify is a no-op when not running under systemd.
func notify(state string) {
	_, _ = daemon.SdNotify(false, state)
}

// watchdog pings systemd at half the WatchdogSec interval while the app is
// healthy. Without WatchdogSec it returns immediately.
func watchdog(ctx context.Context, a *app.App) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.Done():
			return
		case <-t.C:
			notify(daemon.SdNotifyWatchdog)
		}
	}
}
