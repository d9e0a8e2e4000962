package config

// Config is the on-disk configuration. JSON and YAML share this shape;
// unknown keys are rejected.
//
// All durations are Go duration strings ("500ms", "10s", "24h").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Alerts     AlertsConfig     `json:"alerts"`
	Enterprise EnterpriseConfig `json:"enterprise"`
	Telegram   TelegramConfig   `json:"telegram"`
	Ops        OpsConfig        `json:"ops,omitempty"`

	// TaskEngine controls execution of triggered tasks. When omitted it
	// follows scheduler.enabled with default sizes.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Notifier controls alert delivery. When omitted it is enabled if a
	// telegram token is set.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings and errors into an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./datealerts.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls triggering.
//
// AlertSchedule is a cron spec or interval ("*/15 * * * *", "@every 15m",
// "15m"). It also drives the next persisted run_at of the alert job.
type SchedulerConfig struct {
	Enabled       bool   `json:"enabled"`
	Timezone      string `json:"timezone,omitempty"`
	AlertSchedule string `json:"alert_schedule,omitempty"`
	AlertTimeout  string `json:"alert_timeout,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Enabled is a pointer so "omitted" (follow scheduler.enabled) differs
// from an explicit false.
//
// Defaults: workers 2, queue_size 64, history_size 100, retry_max 3,
// retry_base "1s", retry_max_delay "30s"; timeouts disabled.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// AlertsConfig tunes the date alert run.
type AlertsConfig struct {
	// DefaultTimeZone applies to users without a time zone. Default "UTC".
	DefaultTimeZone string `json:"default_time_zone,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	// MaxCatchUp bounds how far back a late run covers slots. Default "24h".
	MaxCatchUp string `json:"max_catch_up,omitempty"`
}

// EnterpriseConfig lists the enabled enterprise features, e.g. "date_alerts".
type EnterpriseConfig struct {
	Features []string `json:"features"`
}

type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

type TelegramConfig struct {
	Token   string `json:"token"`
	APIURL  string `json:"api_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// OpsConfig controls the optional operator HTTP server.
//
// Prefer a loopback addr. A non-loopback addr needs a token or
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	Pprof       bool   `json:"pprof,omitempty"`
	PprofPrefix string `json:"pprof_prefix,omitempty"` // default "/debug/pprof/"

	// WriteTimeout defaults to 0 so /debug/pprof/profile (30s+) works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// DefaultAlertSchedule fires every quarter hour.
const DefaultAlertSchedule = "*/15 * * * *"
