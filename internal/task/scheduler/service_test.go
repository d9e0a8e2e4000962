package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/goleak"

	"datealerts/internal/task/engine"
	logx "datealerts/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
}

func (r *recordingEnqueuer) Enqueue(t engine.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recordingEnqueuer) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Name)
	}
	return out
}

func noop(context.Context) error { return nil }

// fire runs the cron entry registered for name, bypassing the clock.
func fire(t *testing.T, s *Service, name string) {
	t.Helper()
	s.mu.Lock()
	var id cron.EntryID
	for _, d := range s.defs {
		if d.name == name {
			id = d.entryID
		}
	}
	c := s.c
	s.mu.Unlock()
	if c == nil || id == 0 {
		t.Fatalf("schedule %q not registered with a running cron", name)
	}
	c.Entry(id).Job.Run()
}

func TestTriggerEnqueuesTask(t *testing.T) {
	t.Parallel()
	enq := &recordingEnqueuer{}
	s := New(Config{Enabled: true, Timezone: "UTC"}, enq, logx.Nop())
	if _, err := s.AddSchedule("date_alerts", "*/15 * * * *", time.Minute, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	fire(t, s, "date_alerts")

	enq.mu.Lock()
	defer enq.mu.Unlock()
	if len(enq.tasks) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(enq.tasks))
	}
	got := enq.tasks[0]
	if got.Name != "date_alerts" || got.Timeout != time.Minute || got.Opt.Overlap != engine.OverlapSkipIfRunning {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestAddScheduleUpsertsByName(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &recordingEnqueuer{}, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	for _, spec := range []string{"*/15 * * * *", "0 * * * *"} {
		if _, err := s.AddSchedule("date_alerts", spec, 0, noop); err != nil {
			t.Fatalf("AddSchedule(%q): %v", spec, err)
		}
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(snap.Schedules))
	}
	if snap.Schedules[0].Spec != "0 * * * *" {
		t.Fatalf("spec = %q", snap.Schedules[0].Spec)
	}
	if snap.Schedules[0].Next.IsZero() {
		t.Fatal("running schedule should report a next activation")
	}
	if len(s.c.Entries()) != 1 {
		t.Fatalf("cron entries = %d, want 1", len(s.c.Entries()))
	}
}

func TestAddScheduleRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop())
	cases := []struct {
		name, spec string
		job        func(context.Context) error
	}{
		{"", "15m", noop},
		{"x", "99 * * * *", noop},
		{"x", "bogus", noop},
		{"x", "15m", nil},
	}
	for _, c := range cases {
		if _, err := s.AddSchedule(c.name, c.spec, 0, c.job); err == nil {
			t.Fatalf("AddSchedule(%q, %q) expected error", c.name, c.spec)
		}
	}
	if _, err := s.AddDaily("daily", "25:00", 0, noop); err == nil {
		t.Fatal("AddDaily expected error for invalid hour")
	}
}

func TestDisabledServiceKeepsDefinitions(t *testing.T) {
	t.Parallel()
	enq := &recordingEnqueuer{}
	s := New(Config{Enabled: false}, enq, logx.Nop())
	if _, err := s.AddSchedule("date_alerts", "15m", 0, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.Start(context.Background())
	if s.Snapshot().Running {
		t.Fatal("disabled scheduler should not run")
	}

	s.Apply(context.Background(), Config{Enabled: true, Timezone: "UTC"})
	t.Cleanup(func() { s.Stop(context.Background()) })
	if !s.Snapshot().Running {
		t.Fatal("Apply(enabled) should start the scheduler")
	}
	fire(t, s, "date_alerts")
	if got := enq.names(); len(got) != 1 {
		t.Fatalf("enqueued %v", got)
	}
}

func TestApplyTimezoneRestart(t *testing.T) {
	t.Parallel()
	if _, err := time.LoadLocation("Asia/Kathmandu"); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s := New(Config{Enabled: true, Timezone: "UTC"}, &recordingEnqueuer{}, logx.Nop())
	if _, err := s.AddDaily("nightly", "01:00", 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	s.Apply(context.Background(), Config{Enabled: true, Timezone: "Asia/Kathmandu"})
	snap := s.Snapshot()
	if snap.Timezone != "Asia/Kathmandu" {
		t.Fatalf("timezone = %s", snap.Timezone)
	}
	next := snap.Schedules[0].Next.In(s.Location())
	if next.Hour() != 1 || next.Minute() != 0 {
		t.Fatalf("next = %s, want 01:00 local", next)
	}

	s.Apply(context.Background(), Config{Enabled: false, Timezone: "Asia/Kathmandu"})
	if s.Snapshot().Running {
		t.Fatal("Apply(disabled) should stop the scheduler")
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &recordingEnqueuer{}, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	if _, err := s.AddSchedule("date_alerts", "*/15 * * * *", 0, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if !s.Remove("date_alerts") {
		t.Fatal("Remove should report removal")
	}
	if s.Remove("date_alerts") {
		t.Fatal("second Remove should report nothing removed")
	}
	if n := len(s.c.Entries()); n != 0 {
		t.Fatalf("cron entries = %d, want 0", n)
	}
}

func TestEnqueueErrorsAreSwallowed(t *testing.T) {
	t.Parallel()
	enq := &recordingEnqueuer{err: engine.ErrQueueFull}
	s := New(Config{Enabled: true}, enq, logx.Nop())
	if _, err := s.AddSchedule("date_alerts", "*/15 * * * *", 0, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	fire(t, s, "date_alerts")
	fire(t, s, "date_alerts")

	s.enqMu.Lock()
	defer s.enqMu.Unlock()
	if s.lastEnqWarn["date_alerts"].IsZero() {
		t.Fatal("enqueue failure should be recorded for throttling")
	}
}

func TestSpreadScheduleFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	sched, jitter := makeIntervalScheduleWithSpread(time.Minute, now, "x")
	if jitter < 0 || jitter >= 30*time.Second {
		t.Fatalf("jitter = %s out of range", jitter)
	}
	first := sched.Next(now)
	if !first.Equal(now.Add(time.Minute + jitter)) {
		t.Fatalf("first = %s", first)
	}
	if got := sched.Next(first); got.Before(first.Add(59 * time.Second)) {
		t.Fatalf("second = %s, want about a minute after first", got)
	}
}
