package app

import (
	"fmt"
	"strings"
	"time"

	"datealerts/internal/alerts"
	"datealerts/internal/config"
	"datealerts/internal/notifier"
	"datealerts/internal/observability/ops"
	"datealerts/internal/storage"
	"datealerts/internal/task/engine"
	"datealerts/internal/task/scheduler"
	"datealerts/internal/transport/telegram"
	logx "datealerts/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = "./datealerts.db"
	}
	return storage.Config{Driver: strings.TrimSpace(sc.Driver), Path: path, BusyTimeout: busy}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Telegram
	if strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", tc.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{Token: tc.Token, APIURL: tc.APIURL, Timeout: timeout}, true, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

// alertSchedule resolves scheduler.alert_schedule (default every quarter
// hour) in the scheduler time zone.
func alertSchedule(cfg *config.Config) (spec string, sched alerts.Schedule, err error) {
	spec = strings.TrimSpace(cfg.Scheduler.AlertSchedule)
	if spec == "" {
		spec = config.DefaultAlertSchedule
	}
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return "", nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	cs, err := scheduler.Parse(spec, loc)
	if err != nil {
		return "", nil, fmt.Errorf("scheduler.alert_schedule: %w", err)
	}
	return spec, cs, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	enabled := cfg.Scheduler.Enabled
	te := config.TaskEngineConfig{}
	if cfg.TaskEngine != nil {
		te = *cfg.TaskEngine
		if te.Enabled != nil {
			enabled = *te.Enabled
		}
		if cfg.Scheduler.Enabled && !enabled {
			return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
	}

	out := engine.Config{
		Enabled:     enabled,
		Workers:     te.Workers,
		QueueSize:   te.QueueSize,
		HistorySize: te.HistorySize,
		RetryMax:    te.RetryMax,
	}
	if out.Workers <= 0 {
		out.Workers = 2
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 64
	}
	if out.HistorySize <= 0 {
		out.HistorySize = 100
	}
	if out.RetryMax <= 0 {
		out.RetryMax = 3
	}

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	if out.RetryBase, err = config.ParseDurationOrDefault("task_engine.retry_base", te.RetryBase, time.Second); err != nil {
		return engine.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("task_engine.retry_max_delay", te.RetryMaxDelay, 30*time.Second); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapAlertsConfig(cfg *config.Config) (alerts.Config, error) {
	ac := cfg.Alerts
	zone, err := alerts.LoadZone(ac.DefaultTimeZone, time.UTC)
	if err != nil {
		return alerts.Config{}, fmt.Errorf("alerts.default_time_zone: %w", err)
	}
	catchUp, err := config.ParseDurationField("alerts.max_catch_up", ac.MaxCatchUp)
	if err != nil {
		return alerts.Config{}, err
	}
	return alerts.Config{Workers: ac.Workers, DefaultZone: zone, MaxCatchUp: catchUp}, nil
}

// mapNotifierConfig enables delivery by default when a telegram token is set.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	hasToken := strings.TrimSpace(cfg.Telegram.Token) != ""
	if cfg.Notifier == nil {
		return notifier.Config{Enabled: hasToken}, nil
	}
	n := cfg.Notifier
	out := notifier.Config{
		Enabled:    n.Enabled && hasToken,
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		RetryMax:   n.RetryMax,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:              oc.Enabled,
		Addr:                 strings.TrimSpace(oc.Addr),
		Token:                strings.TrimSpace(oc.Token),
		AllowInsecure:        oc.AllowInsecure,
		Pprof:                oc.Pprof,
		PprofPrefix:          oc.PprofPrefix,
		MutexProfileFraction: oc.MutexProfileFraction,
		BlockProfileRate:     oc.BlockProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("ops.write_timeout", oc.WriteTimeout); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}
