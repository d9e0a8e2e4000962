package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"datealerts/internal/config"
	logx "datealerts/pkg/logx"
)

// reloadLoop applies committed configs until ctx is done. Storage and
// telegram changes need a restart; everything else is applied live.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			if newCfg == nil {
				continue
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			a.apply(ctx, newCfg, sections)
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) apply(ctx context.Context, cfg *config.Config, sections []string) {
	changed := func(name string) bool { return slices.Contains(sections, name) }

	for _, s := range []string{"storage", "telegram"} {
		if changed(s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	if changed("logging") {
		a.logs.Apply(mapLogConfig(cfg))
	}
	if changed("enterprise") {
		a.features.Apply(cfg.Enterprise.Features)
		a.log.Info("enterprise features applied", logx.Strings("features", a.features.List()))
	}
	if changed("alerts") {
		if acfg, err := mapAlertsConfig(cfg); err != nil {
			a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
		} else {
			a.alerts.Apply(acfg)
		}
	}

	// engine first so a re-enabled scheduler has somewhere to enqueue
	if changed("task_engine") || changed("scheduler") {
		if ecfg, err := mapTaskEngineConfig(cfg); err != nil {
			a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, ecfg)
		}
	}
	if changed("scheduler") {
		a.applyScheduler(ctx, cfg)
	}

	if changed("notifier") || changed("telegram") {
		a.applyNotifier(ctx, cfg)
	}
	if changed("ops") {
		if oc, err := mapOpsConfig(cfg); err != nil {
			a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
		} else {
			a.ops.Apply(ctx, oc)
		}
	}
}

func (a *App) applyScheduler(ctx context.Context, cfg *config.Config) {
	spec, sched, err := alertSchedule(cfg)
	if err != nil {
		a.log.Warn("invalid alert schedule; keeping previous", logx.Err(err))
		a.sched.Apply(ctx, mapSchedulerConfig(cfg))
		return
	}
	timeout, err := config.ParseDurationField("scheduler.alert_timeout", cfg.Scheduler.AlertTimeout)
	if err != nil {
		a.log.Warn("invalid scheduler.alert_timeout; keeping previous", logx.Err(err))
		timeout = a.alertTimeout
	}

	a.job.SetSchedule(sched)
	rebind := spec != a.alertSpec || timeout != a.alertTimeout
	a.alertSpec, a.alertTimeout = spec, timeout
	if rebind {
		if err := a.registerAlertJob(); err != nil {
			a.log.Error("alert schedule rebind failed", logx.Err(err))
		}
	}
	a.sched.Apply(ctx, mapSchedulerConfig(cfg))
}

func (a *App) applyNotifier(ctx context.Context, cfg *config.Config) {
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	if ncfg.Enabled && a.channel == nil {
		a.log.Warn("notifier enabled but no telegram channel was started; restart required")
		ncfg.Enabled = false
	}
	prev := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case prev && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prev && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}
