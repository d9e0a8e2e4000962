package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"datealerts/internal/task/scheduler"
	logx "datealerts/pkg/logx"
)

// Validate checks cross-field constraints that json decoding cannot express.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if !logx.ValidLevel(cfg.Logging.Telegram.MinLevel) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", cfg.Logging.Telegram.MinLevel))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		add(errors.New("logging.telegram.chat_id: required when enabled"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "none":
	default:
		add(fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		} else {
			loc = l
		}
	}
	if spec := strings.TrimSpace(cfg.Scheduler.AlertSchedule); spec != "" {
		if _, err := scheduler.Parse(spec, loc); err != nil {
			add(fmt.Errorf("scheduler.alert_schedule: %w", err))
		}
	}
	dur("scheduler.alert_timeout", cfg.Scheduler.AlertTimeout)

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			add(errors.New("task_engine.workers: must be >= 0"))
		}
		if te.QueueSize < 0 {
			add(errors.New("task_engine.queue_size: must be >= 0"))
		}
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
		dur("task_engine.retry_base", te.RetryBase)
		dur("task_engine.retry_max_delay", te.RetryMaxDelay)
	}

	if tz := strings.TrimSpace(cfg.Alerts.DefaultTimeZone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("alerts.default_time_zone: %w", err))
		}
	}
	if cfg.Alerts.Workers < 0 {
		add(errors.New("alerts.workers: must be >= 0"))
	}
	dur("alerts.max_catch_up", cfg.Alerts.MaxCatchUp)

	if n := cfg.Notifier; n != nil {
		if n.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
			add(errors.New("notifier.enabled: telegram.token is required"))
		}
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.send_timeout", n.SendTimeout)
	}
	dur("telegram.timeout", cfg.Telegram.Timeout)

	if cfg.Ops.Enabled {
		addr := strings.TrimSpace(cfg.Ops.Addr)
		if addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add(fmt.Errorf("ops.addr: %w", err))
			} else if !loopbackAddr(addr) && strings.TrimSpace(cfg.Ops.Token) == "" && !cfg.Ops.AllowInsecure {
				add(errors.New("ops.addr: non-loopback bind requires ops.token or ops.allow_insecure"))
			}
		}
		dur("ops.read_timeout", cfg.Ops.ReadTimeout)
		dur("ops.write_timeout", cfg.Ops.WriteTimeout)
		dur("ops.idle_timeout", cfg.Ops.IdleTimeout)
	}

	return errors.Join(errs...)
}

func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
