package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"datealerts/internal/task/engine"
	logx "datealerts/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA name, e.g. "Europe/Berlin"; empty means Local
}

// Enqueuer accepts triggered tasks. *engine.Service satisfies it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type scheduleDef struct {
	id      string
	name    string
	spec    string // normalized cron spec or "@every <d>"
	timeout time.Duration
	job     func(ctx context.Context) error
	opt     engine.TaskOptions
	entryID cron.EntryID

	// initial random delay applied to interval schedules
	startupSpread time.Duration
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	engine Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// enqueue warnings are throttled per schedule name
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
