package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"lanesched/internal/handle"
	"lanesched/internal/scheduler"
	logx "lanesched/pkg/logx"
)

// sdNotify sends state to systemd. It is a no-op outside a systemd unit.
func (a *App) sdNotify(state string) {
	if !a.notify {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify", logx.String("state", state))
	}
}

// startWatchdog pings the systemd watchdog from the scheduler lane at half
// the configured WatchdogSec, so a stalled lane also stalls the pings.
func (a *App) startWatchdog() handle.Handle {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("watchdog query failed", logx.Err(err))
		return handle.Empty()
	}
	if every <= 0 {
		a.log.Debug("watchdog not requested by systemd")
		return handle.Empty()
	}
	a.log.Info("watchdog enabled", logx.Duration("interval", every/2))
	return scheduler.Every(a.sched, struct{}{}, every/2, every/2, func(s struct{}) struct{} {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
			a.log.Warn("watchdog ping failed", logx.Err(err))
		}
		return s
	})
}
