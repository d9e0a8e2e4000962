package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the task execution engine. The scheduler only triggers;
// queueing, timeouts and retries live here.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that waited in the queue longer than this.
	// 0 keeps them regardless of delay.
	MaxQueueDelay time.Duration

	HistorySize   int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

const (
	defaultWorkers       = 2
	defaultQueueSize     = 64
	defaultHistorySize   = 100
	defaultRetryMax      = 3
	defaultRetryBase     = time.Second
	defaultRetryMaxDelay = 30 * time.Second
	defaultRetryJitter   = 0.2
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	return c
}

type OverlapPolicy int

const (
	// OverlapSkipIfRunning rejects a task whose previous run is still
	// queued or executing.
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

// TaskOptions override the engine retry policy per task. Zero values take
// the engine defaults; RetryMax < 0 disables retries.
type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o TaskOptions) resolve(cfg Config) TaskOptions {
	switch {
	case o.RetryMax < 0:
		o.RetryMax = 0
	case o.RetryMax == 0:
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = cfg.RetryBase
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = cfg.RetryMaxDelay
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = defaultRetryJitter
	}
	if o.Overlap != OverlapAllow {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// runGate counts queued plus running executions of one task name.
type runGate struct {
	mu       sync.Mutex
	inflight int
}

func (g *runGate) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight > 0 {
		return false
	}
	g.inflight++
	return true
}

func (g *runGate) release() {
	g.mu.Lock()
	if g.inflight > 0 {
		g.inflight--
	}
	g.mu.Unlock()
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Task is a unit of work executed by the engine.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool `json:"enabled"`
	Running  bool `json:"running"`
	Workers  int  `json:"workers"`
	QueueLen int  `json:"queue_len"`
	QueueCap int  `json:"queue_cap"`
	InFlight int  `json:"in_flight"`

	Dropped          uint64 `json:"dropped"`
	DroppedQueueFull uint64 `json:"dropped_queue_full"`
	DroppedStale     uint64 `json:"dropped_stale"`
	Skipped          uint64 `json:"skipped"`

	History []HistoryItem `json:"history"`
}
