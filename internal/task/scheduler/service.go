package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "datealerts/pkg/logx"
)

func New(cfg Config, eng Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		log:         log.With(logx.String("comp", "scheduler")),
		engine:      eng,
		parser:      newParser(),
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location returns the zone cron specs are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

// Apply swaps the config. A timezone change re-registers every schedule;
// flipping Enabled starts or stops triggering.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	running := s.c != nil
	if running && cfg.Enabled && oldTZ != newTZ {
		s.restartLocked()
	}
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case !running && cfg.Enabled:
		s.Start(ctx)
	}
}

// Start begins triggering registered schedules. It is a no-op when the
// service is disabled or already running.
func (s *Service) Start(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering. Definitions are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	out := Snapshot{
		Enabled:   s.cfg.Enabled,
		Running:   s.c != nil,
		Timezone:  loc.String(),
		Schedules: make([]ScheduleInfo, 0, len(s.defs)),
	}
	for _, d := range s.defs {
		it := ScheduleInfo{ID: d.id, Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		out.Schedules = append(out.Schedules, it)
	}
	return out
}
