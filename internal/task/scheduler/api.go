package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"datealerts/internal/task/engine"
	logx "datealerts/pkg/logx"
)

// AddSchedule parses schedule and registers a cron or interval trigger.
// Scheduled tasks skip a trigger while the previous run is still queued
// or executing.
//
// Supported formats:
//   - Cron: "*/15 * * * *", "0 1 * * *", "@hourly", "@every 15m"
//   - Interval duration: "15m", "2h30m"
//   - Interval HH:MM: "00:15" (15 minutes)
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return s.AddScheduleOpt(name, schedule, timeout, engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}, job)
}

// AddScheduleOpt is AddSchedule with task options.
func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	} else if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	return s.upsert(name, spec, timeout, opt, job)
}

// AddDaily triggers every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.upsert(name, fmt.Sprintf("%d %d * * *", m, h), timeout, engine.TaskOptions{}, job)
}

// upsert replaces any schedule with the same name, so hot reloads never
// register duplicates.
func (s *Service) upsert(name, spec string, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeScheduleLocked(name)
	kind := "cron"
	if strings.HasPrefix(spec, "@every") {
		kind = "interval"
	}
	s.defs = append(s.defs, scheduleDef{
		id:      fmt.Sprintf("%s:%d", kind, time.Now().UnixNano()),
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     opt,
	})
	if s.c == nil {
		return name, nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return name, err
	}
	fields := []logx.Field{logx.String("name", name), logx.String("id", d.id), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 4); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return name, nil
}

// Remove unschedules name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			continue
		}
		s.defs[n] = d
		n++
	}
	removed := n < len(s.defs)
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) trigger(d scheduleDef) func() {
	return func() {
		if s.engine == nil {
			return
		}
		err := s.engine.Enqueue(engine.Task{
			Name:    d.name,
			Timeout: d.timeout,
			Run:     d.job,
			Opt:     d.opt,
		})
		if err != nil {
			s.reportEnqueueError(d.name, err)
		}
	}
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	job := cron.FuncJob(s.trigger(*d))

	// Interval schedules get a random first delay so restarts do not fire
	// every interval at once.
	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(strings.TrimSpace(every)); err == nil && dur > 0 {
			sched, jitter := makeIntervalScheduleWithSpread(dur, time.Now().In(s.loc), d.name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// Call with s.mu held and s.c running.
func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		s.defs[i].entryID = 0
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked lists the next n activations, only when debug
// logging is on. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if n <= 0 || !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}
