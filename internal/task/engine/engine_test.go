package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"datealerts/internal/eventbus"
	logx "datealerts/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	cfg.Enabled = true
	e := New(cfg, logx.Nop(), bus)
	e.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Stop(ctx)
	})
	return e
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSubmitRunsTask(t *testing.T) {
	e := startEngine(t, Config{}, nil)
	done := make(chan struct{})
	err := e.Submit(context.Background(), Task{Name: "date_alerts", Run: func(context.Context) error {
		close(done)
		return nil
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, done, "task run")
}

func TestOverlapSkipWhileRunning(t *testing.T) {
	e := startEngine(t, Config{Workers: 2}, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	task := Task{Name: "date_alerts", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := e.Enqueue(task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	waitFor(t, started, "first run")

	if err := e.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue = %v, want ErrOverlapSkip", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		err := e.Enqueue(Task{Name: "date_alerts", Run: func(context.Context) error { close(finished); return nil }})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrOverlapSkip) || time.Now().After(deadline) {
			t.Fatalf("enqueue after release = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, finished, "second run")
	if got := e.Snapshot().Skipped; got == 0 {
		t.Fatal("skipped counter not incremented")
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	bus := eventbus.New()
	finished, unsub := bus.Subscribe(4, EventFinished)
	defer unsub()
	e := startEngine(t, Config{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, bus)

	var calls atomic.Int32
	err := e.Enqueue(Task{Name: "flaky", Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case ev := <-finished:
		if te := ev.Data.(TaskEvent); te.Attempts != 3 {
			t.Fatalf("attempts = %d, want 3", te.Attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no task.finished event")
	}
}

func TestNoRetryAndPanicFailFast(t *testing.T) {
	bus := eventbus.New()
	failed, unsub := bus.Subscribe(4, EventFailed)
	defer unsub()
	e := startEngine(t, Config{RetryMax: 5, RetryBase: time.Millisecond}, bus)

	permanent := errors.New("bad config")
	var calls atomic.Int32
	tasks := []Task{
		{Name: "permanent", Run: func(context.Context) error { calls.Add(1); return NoRetry(permanent) }},
		{Name: "panics", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error { calls.Add(1); panic("boom") }},
	}
	for _, tk := range tasks {
		if err := e.Enqueue(tk); err != nil {
			t.Fatalf("enqueue %s: %v", tk.Name, err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-failed:
			te := ev.Data.(TaskEvent)
			if te.Attempts != 1 {
				t.Fatalf("%s attempts = %d, want 1", te.Name, te.Attempts)
			}
			if te.Name == "permanent" && te.Error != permanent.Error() {
				t.Fatalf("permanent error = %q, want unwrapped %q", te.Error, permanent.Error())
			}
		case <-time.After(2 * time.Second):
			t.Fatal("missing task.failed event")
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestTimeoutCancelsRun(t *testing.T) {
	done := make(chan error, 1)
	e := startEngine(t, Config{}, nil)
	err := e.Enqueue(Task{Name: "slow", Timeout: 10 * time.Millisecond, Opt: TaskOptions{RetryMax: -1}, Run: func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ctx err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout not applied")
	}
}

func TestQueueFullDrops(t *testing.T) {
	e := startEngine(t, Config{Workers: 1, QueueSize: 1}, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	block := Task{Name: "block", Run: func(context.Context) error { close(started); <-release; return nil }}
	if err := e.Enqueue(block); err != nil {
		t.Fatalf("enqueue block: %v", err)
	}
	waitFor(t, started, "blocking task")

	noop := func(context.Context) error { return nil }
	if err := e.Enqueue(Task{Name: "a", Run: noop}); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := e.Enqueue(Task{Name: "b", Run: noop}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue b = %v, want ErrQueueFull", err)
	}
	if e.Snapshot().DroppedQueueFull != 1 {
		t.Fatalf("snapshot = %+v", e.Snapshot())
	}
}

func TestEnqueueStates(t *testing.T) {
	noop := Task{Name: "x", Run: func(context.Context) error { return nil }}

	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Enqueue(noop); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled = %v", err)
	}
	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := stopped.Enqueue(noop); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started = %v", err)
	}
	if err := stopped.Enqueue(Task{Run: noop.Run}); err == nil {
		t.Fatal("missing name should fail")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name     string
		attempt  int
		err      error
		min, max time.Duration
	}{
		{"first retry", 1, errors.New("x"), 80 * time.Millisecond, 120 * time.Millisecond},
		{"third retry doubles twice", 3, errors.New("x"), 320 * time.Millisecond, 480 * time.Millisecond},
		{"capped", 10, errors.New("x"), 800 * time.Millisecond, time.Second},
		{"hint", 1, RetryAfter(errors.New("x"), 500*time.Millisecond), 400 * time.Millisecond, 600 * time.Millisecond},
		{"hint capped", 1, RetryAfter(errors.New("x"), time.Hour), 800 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := retryDelay(opt, tt.attempt, tt.err, rng)
			if d < tt.min || d > tt.max {
				t.Fatalf("%s: delay %v outside [%v, %v]", tt.name, d, tt.min, tt.max)
			}
		}
	}
}

func TestApplyRestartsPool(t *testing.T) {
	e := startEngine(t, Config{Workers: 1}, nil)
	e.Apply(context.Background(), Config{Enabled: true, Workers: 3})
	if snap := e.Snapshot(); !snap.Running || snap.Workers != 3 {
		t.Fatalf("snapshot after apply = %+v", snap)
	}
	e.Apply(context.Background(), Config{Enabled: false})
	if e.Snapshot().Running {
		t.Fatal("disabling should stop the pool")
	}
}
