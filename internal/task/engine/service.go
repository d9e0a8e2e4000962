package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"datealerts/internal/eventbus"
	rtsup "datealerts/internal/runtime/supervisor"
	logx "datealerts/pkg/logx"
)

// Bus event types.
const (
	EventStarted  = "task.started"
	EventFinished = "task.finished"
	EventFailed   = "task.failed"
	EventSkipped  = "task.skipped"
	EventDropped  = "task.dropped"
)

const warnThrottleEvery = 5 * time.Second

// Service is a bounded queue drained by a fixed worker pool.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	// Set while running; stopDone is non-nil while a stop is in progress.
	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	gateMu sync.Mutex
	gates  map[string]*runGate

	hmu     sync.Mutex
	history []HistoryItem

	idSeq    atomic.Uint64
	inFlight atomic.Int32

	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64
	skipped          atomic.Uint64

	lastQueueFullWarn atomic.Int64
	lastStaleWarn     atomic.Int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions
	gate       *runGate
}

func (qt queuedTask) releaseGate() {
	if qt.gate != nil {
		qt.gate.release()
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log.With(logx.String("comp", "taskengine")),
		bus:   bus,
		gates: make(map[string]*runGate),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) running() bool { return s.stopCh != nil && s.stopDone == nil }

// Apply swaps the config. Worker or queue size changes restart the pool;
// queued tasks are dropped in that case.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.running()
	s.mu.Unlock()

	switch {
	case !running && cfg.Enabled:
		s.Start(ctx)
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the workers. It is idempotent and waits for an in-progress
// stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	cfg := s.cfg
	if !cfg.Enabled || s.stopCh != nil {
		s.mu.Unlock()
		return
	}

	queue := make(chan queuedTask, cfg.QueueSize)
	stopCh := make(chan struct{})
	// Workers outlive the caller's request context; Stop controls them.
	sup := rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log))
	s.q, s.stopCh, s.sup = queue, stopCh, sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue, idx)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop signals the workers and waits until they exit or ctx is done.
// Tasks still queued are discarded.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	done := s.stopDone
	if done == nil {
		done = make(chan struct{})
		s.stopDone = done
		close(s.stopCh)
		sup, q := s.sup, s.q
		go func() {
			_ = sup.Stop(context.Background())
			drain(q)
			s.mu.Lock()
			s.q, s.stopCh, s.sup, s.stopDone = nil, nil, nil, nil
			s.mu.Unlock()
			close(done)
		}()
	}
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// drain releases overlap gates of tasks that will never run.
func drain(q chan queuedTask) {
	for {
		select {
		case qt := <-q:
			qt.releaseGate()
		default:
			return
		}
	}
}

// Supervisor exposes the worker supervisor for health output (nil when stopped).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Enqueue adds t without blocking. A full queue drops the task.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit blocks until t is queued, ctx is done or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = s.newTaskID(now)
	}

	s.mu.Lock()
	cfg := s.cfg
	q, stopCh := s.q, s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case stopping:
		return ErrStopping
	case q == nil:
		return ErrStopped
	}

	qt := queuedTask{task: t, enqueuedAt: now, timeout: t.Timeout, opt: t.Opt.resolve(cfg)}
	if qt.timeout <= 0 {
		qt.timeout = cfg.DefaultTimeout
	}
	if qt.opt.Overlap == OverlapSkipIfRunning {
		g := s.gateFor(t.Name)
		if !g.tryAcquire() {
			s.skipped.Add(1)
			s.publish(EventSkipped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
			s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
			return ErrOverlapSkip
		}
		qt.gate = g
	}

	if !block {
		select {
		case q <- qt:
			return nil
		default:
			qt.releaseGate()
			s.onQueueFull(now, t, q)
			return ErrQueueFull
		}
	}
	select {
	case q <- qt:
		return nil
	case <-ctx.Done():
		qt.releaseGate()
		return ctx.Err()
	case <-stopCh:
		qt.releaseGate()
		return ErrStopping
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	running := s.running()
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Running:          running,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		DroppedStale:     s.droppedStale.Load(),
		Skipped:          s.skipped.Load(),
	}
	snap.Dropped = snap.DroppedQueueFull + snap.DroppedStale
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) gateFor(name string) *runGate {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	g := s.gates[name]
	if g == nil {
		g = &runGate{}
		s.gates[name] = g
	}
	return g
}

func (s *Service) newTaskID(now time.Time) string {
	return fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (s *Service) recordHistory(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

// shouldWarn throttles repeated warnings to one per warnThrottleEvery.
func shouldWarn(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, n)
}

func (s *Service) onQueueFull(now time.Time, t Task, q chan queuedTask) {
	total := s.droppedQueueFull.Add(1)
	s.publish(EventDropped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})
	if shouldWarn(&s.lastQueueFullWarn, now) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped_queue_full", total),
		)
	}
}

func (s *Service) onStale(now time.Time, t Task, queueDelay time.Duration) {
	total := s.droppedStale.Add(1)
	s.publish(EventDropped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, QueueDelay: queueDelay, Error: "stale_queue_delay"})
	s.recordHistory(HistoryItem{ID: t.ID, Name: t.Name, Started: now, QueueDelay: queueDelay, Error: "stale_queue_delay"})
	if shouldWarn(&s.lastStaleWarn, now) {
		s.log.Warn("task dropped: stale queue",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("dropped_stale", total),
		)
	}
}
