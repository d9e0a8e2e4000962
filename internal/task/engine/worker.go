package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	logx "datealerts/pkg/logx"
)

// slowTask is the duration above which completions log at info level.
const slowTask = time.Second

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask, idx int) {
	// Per-worker RNG so concurrent retries do not contend on the global source.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(idx)<<32))

	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, stopCh, qt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	defer qt.releaseGate()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && queueDelay > maxDelay {
		s.onStale(start, qt.task, queueDelay)
		return
	}

	log := s.log.With(logx.String("task", qt.task.Name), logx.String("id", qt.task.ID))
	log.Debug("task started", logx.Duration("queue_delay", queueDelay))
	s.publish(EventStarted, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay})

	err, attempts := s.runWithRetry(ctx, stopCh, qt, rng, log)

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		log.Warn("task failed", logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(EventFailed, ev)
	} else {
		if dur >= slowTask {
			log.Info("task completed", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		} else {
			log.Debug("task completed", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		}
		s.publish(EventFinished, ev)
	}
	s.recordHistory(item)
}

// runWithRetry runs the task up to 1+RetryMax times. Panics become errors,
// NoRetry errors end the loop early.
func (s *Service) runWithRetry(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand, log logx.Logger) (error, int) {
	maxAttempts := 1 + qt.opt.RetryMax
	var err error
	for attempt := 1; ; attempt++ {
		err = s.runOnce(ctx, qt, log)
		if err == nil {
			return nil, attempt
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err, attempt
		}
		if attempt >= maxAttempts {
			return err, attempt
		}

		delay := retryDelay(qt.opt, attempt, err, rng)
		log.Debug("task retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err(), attempt
		case <-stopCh:
			t.Stop()
			return ErrStopping, attempt
		case <-t.C:
		}
	}
}

func (s *Service) runOnce(ctx context.Context, qt queuedTask, log logx.Logger) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

// retryDelay is the wait before retry number attempt+1. An explicit
// RetryAfter hint replaces the exponential base; jitter applies either way
// and the result never exceeds RetryMaxDelay.
func retryDelay(opt TaskOptions, attempt int, err error, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	var hint RetryAfterError
	if errors.As(err, &hint) {
		d = hint.RetryAfter()
	} else {
		for i := 1; i < attempt && d < opt.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	if d > opt.RetryMaxDelay {
		d = opt.RetryMaxDelay
	}
	if opt.RetryJitter > 0 && d > 0 && rng != nil {
		d = time.Duration(float64(d) * (1 + (rng.Float64()*2-1)*opt.RetryJitter))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}
