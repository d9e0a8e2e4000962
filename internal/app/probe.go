package app

import (
	"context"
	"fmt"

	"datealerts/internal/alerts"
	"datealerts/internal/eventbus"
	"datealerts/internal/notifier"
	rtsup "datealerts/internal/runtime/supervisor"
	"datealerts/internal/task/engine"
	"datealerts/internal/task/scheduler"
)

// Status is the /readyz body.
type Status struct {
	Job        alerts.JobStatus   `json:"job"`
	Features   []string           `json:"features"`
	Engine     engine.Snapshot    `json:"engine"`
	Scheduler  scheduler.Snapshot `json:"scheduler"`
	Notifier   notifier.Stats     `json:"notifier"`
	Bus        eventbus.Stats     `json:"bus"`
	Supervisor rtsup.Snapshot     `json:"supervisor"`
}

// Status collects a point-in-time view of every component.
func (a *App) Status() Status {
	st := Status{
		Job:       a.job.Status(),
		Features:  a.features.List(),
		Engine:    a.engine.Snapshot(),
		Scheduler: a.sched.Snapshot(),
		Notifier:  a.notif.Stats(),
		Bus:       a.bus.Stats(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}

// probe backs /readyz: the app is ready while storage answers and the
// supervisor is running.
func (a *App) probe(ctx context.Context) (any, error) {
	st := a.Status()
	if a.sup == nil || a.sup.Context().Err() != nil {
		return st, fmt.Errorf("app not running")
	}
	if err := a.store.Ping(ctx); err != nil {
		return st, fmt.Errorf("storage: %w", err)
	}
	return st, nil
}
