package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "datealerts/pkg/logx"
)

// SummarizeConfigChange lists the changed top-level sections and returns
// log fields describing them. Secrets (tokens) are reported only as set
// or unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.alert_schedule", strings.TrimSpace(newCfg.Scheduler.AlertSchedule)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine == nil) != (newCfg.TaskEngine == nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		enabled := newCfg.Scheduler.Enabled
		if nTE.Enabled != nil {
			enabled = *nTE.Enabled
		}
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", enabled),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.String("alerts.default_time_zone", newCfg.Alerts.DefaultTimeZone),
			logx.Int("alerts.workers", newCfg.Alerts.Workers),
			logx.String("alerts.max_catch_up", newCfg.Alerts.MaxCatchUp),
		)
	}

	if !sameFeatures(oldCfg.Enterprise.Features, newCfg.Enterprise.Features) {
		changed = append(changed, "enterprise")
		attrs = append(attrs, logx.Strings("enterprise.features", newCfg.Enterprise.Features))
	}

	oN, nN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if (oldCfg.Notifier == nil) != (newCfg.Notifier == nil) || oN != nN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.present", newCfg.Notifier != nil),
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.Int("notifier.retry_max", nN.RetryMax),
		)
	}

	oT, nT := oldCfg.Telegram, newCfg.Telegram
	if oT.APIURL != nT.APIURL || oT.Timeout != nT.Timeout || oT.Token != nT.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nT.Token) != ""),
			logx.Bool("telegram.token_changed", oT.Token != nT.Token),
			logx.Bool("telegram.api_url_set", strings.TrimSpace(nT.APIURL) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Ops, newCfg.Ops) {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

// sameFeatures compares case-insensitively and ignores order.
func sameFeatures(a, b []string) bool {
	norm := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		sort.Strings(out)
		return slices.Compact(out)
	}
	return slices.Equal(norm(a), norm(b))
}
