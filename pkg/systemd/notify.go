// Package systemd reports service state to systemd via sd_notify.
// Every call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "datealerts/pkg/logx"
)

// Ready reports READY=1. It returns false when NOTIFY_SOCKET is unset.
func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

// Stopping reports STOPPING=1.
func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Status sets the free-form STATUS= line shown by systemctl status.
func Status(msg string) (bool, error) { return daemon.SdNotify(false, "STATUS="+msg) }

// WatchdogInterval returns the ping interval, half of WATCHDOG_USEC, or 0
// when the watchdog is not enabled for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// Watchdog pings WATCHDOG=1 until ctx is done. healthy gates each ping so a
// wedged process stops feeding the watchdog.
func Watchdog(ctx context.Context, every time.Duration, healthy func() bool, log logx.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				log.Warn("watchdog ping withheld; unhealthy")
				continue
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Debug("watchdog ping failed", logx.Err(err))
			}
		}
	}
}
