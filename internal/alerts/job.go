package alerts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"datealerts/internal/domain"
	"datealerts/internal/storage"
	logx "datealerts/pkg/logx"
)

// JobName is the persisted name of the date alert job.
const JobName = "date_alerts"

// RunStore persists the job's next scheduled instant and its run audit.
type RunStore interface {
	GetScheduledRun(ctx context.Context, job string) (domain.ScheduledRun, error)
	EnsureScheduledRun(ctx context.Context, job string, runAt time.Time) (domain.ScheduledRun, error)
	AdvanceScheduledRun(ctx context.Context, job string, expected, next time.Time, rec *storage.RunRecord) error
}

// Schedule yields the next activation after t. cron.Schedule satisfies it.
type Schedule interface {
	Next(t time.Time) time.Time
}

// Job binds the alert service to its persisted scheduled run. A trigger
// only acts when the persisted run_at is due, and only one trigger per
// run_at can advance it.
type Job struct {
	name  string
	svc   *Service
	runs  RunStore
	sched atomicSchedule
	log   logx.Logger
	now   func() time.Time

	mu   sync.RWMutex
	last JobStatus
}

// JobStatus is the last observed outcome, exposed on /readyz.
type JobStatus struct {
	Job        string    `json:"job"`
	NextRunAt  time.Time `json:"next_run_at"`
	LastRunID  string    `json:"last_run_id,omitempty"`
	LastRunAt  time.Time `json:"last_run_at"`
	LastErr    string    `json:"last_err,omitempty"`
	LastReport RunReport `json:"last_report"`
}

type atomicSchedule struct {
	mu sync.RWMutex
	s  Schedule
}

func (a *atomicSchedule) get() Schedule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.s
}

func (a *atomicSchedule) set(s Schedule) {
	a.mu.Lock()
	a.s = s
	a.mu.Unlock()
}

type JobOption func(*Job)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) JobOption {
	return func(j *Job) { j.now = now }
}

func NewJob(svc *Service, runs RunStore, sched Schedule, log logx.Logger, opts ...JobOption) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	j := &Job{
		name: JobName,
		svc:  svc,
		runs: runs,
		log:  log.With(logx.String("comp", "alerts.job"), logx.String("job", JobName)),
		now:  time.Now,
	}
	j.sched.set(sched)
	for _, o := range opts {
		o(j)
	}
	j.last.Job = j.name
	return j
}

func (j *Job) Name() string { return j.name }

// SetSchedule replaces the schedule reported as the next trigger.
func (j *Job) SetSchedule(s Schedule) { j.sched.set(s) }

// Ensure creates the scheduled run record at the current quarter hour when
// it does not exist yet.
func (j *Job) Ensure(ctx context.Context) error {
	rec, err := j.runs.EnsureScheduledRun(ctx, j.name, j.now().Truncate(Slot))
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.last.NextRunAt = rec.RunAt
	j.mu.Unlock()
	return nil
}

// Run is one trigger of the job.
func (j *Job) Run(ctx context.Context) error {
	now := j.now()
	rec, err := j.runs.GetScheduledRun(ctx, j.name)
	if errors.Is(err, storage.ErrNotFound) {
		rec, err = j.runs.EnsureScheduledRun(ctx, j.name, now.Truncate(Slot))
	}
	if err != nil {
		return err
	}
	if now.Before(rec.RunAt) {
		j.log.Debug("scheduled run not due yet", logx.Time("run_at", rec.RunAt))
		return nil
	}

	runID := uuid.NewString()
	rep, runErr := j.svc.Run(ctx, RunInput{RunID: runID, ScheduledAt: rec.RunAt, Now: now})
	finished := j.now()
	if runErr != nil {
		j.record(runID, now, rec.RunAt, rep, runErr)
		return runErr
	}

	// run_at advances one quarter past now; the next trigger, however far
	// away, covers every slot from there.
	next := j.nextRunAt(now)
	audit := &storage.RunRecord{
		ID:          runID,
		Job:         j.name,
		ScheduledAt: rec.RunAt,
		StartedAt:   now,
		FinishedAt:  finished,
		Slots:       rep.Slots,
		Eligible:    rep.Eligible,
		Created:     rep.Created,
		MarkedRead:  rep.MarkedRead,
		Duplicates:  rep.Duplicates,
		Failures:    rep.Failures,
		Skipped:     rep.Skipped,
	}
	err = j.runs.AdvanceScheduledRun(ctx, j.name, rec.RunAt, next, audit)
	if errors.Is(err, storage.ErrRunAdvanced) {
		j.log.Info("scheduled run advanced by another trigger", logx.String("run_id", runID), logx.Time("run_at", rec.RunAt))
		return nil
	}
	if err != nil {
		j.record(runID, now, rec.RunAt, rep, err)
		return err
	}
	j.record(runID, now, j.nextTrigger(now, next), rep, nil)
	return nil
}

func (j *Job) nextRunAt(t time.Time) time.Time {
	return t.Truncate(Slot).Add(Slot)
}

// nextTrigger is the next schedule activation, never earlier than runAt.
func (j *Job) nextTrigger(t, runAt time.Time) time.Time {
	s := j.sched.get()
	if s == nil {
		return runAt
	}
	if n := s.Next(t); n.After(runAt) {
		return n
	}
	return runAt
}

func (j *Job) record(runID string, at, next time.Time, rep RunReport, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.last.LastRunID = runID
	j.last.LastRunAt = at
	j.last.NextRunAt = next
	j.last.LastReport = rep
	j.last.LastErr = ""
	if err != nil {
		j.last.LastErr = err.Error()
	}
}

func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}
