package alerts

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"datealerts/internal/domain"
	"datealerts/internal/enterprise"
	"datealerts/internal/eventbus"
	logx "datealerts/pkg/logx"
)

// Store is the persistence the alert run needs.
type Store interface {
	ListAlertRecipients(ctx context.Context) ([]domain.User, error)
	ListNotificationSettings(ctx context.Context, userID int64) ([]domain.NotificationSetting, error)
	ListAlertableWorkPackages(ctx context.Context, userID int64) ([]domain.WorkPackage, error)
	CreateDateAlert(ctx context.Context, a domain.DateAlert) (domain.AlertResult, error)
}

// FeatureGate answers whether an enterprise feature is enabled.
type FeatureGate interface {
	Enabled(name string) bool
}

// Publisher receives run and alert events; eventbus.MemBus satisfies it.
type Publisher interface {
	Publish(e eventbus.Event)
}

type Config struct {
	// Workers bounds how many users are evaluated in parallel.
	Workers int
	// DefaultZone applies to users without a time zone.
	DefaultZone *time.Location
	// MaxCatchUp bounds how far back missed slots are replayed.
	MaxCatchUp time.Duration
}

const (
	defaultWorkers    = 4
	defaultMaxCatchUp = 24 * time.Hour
)

// AlertEvent is the payload of eventbus.TypeAlertCreated.
type AlertEvent struct {
	NotificationID int64
	RecipientID    int64
	RecipientLogin string
	ChatID         int64
	ResourceID     int64
	Subject        string
	Reason         domain.Reason
	Kind           string
	Date           domain.Date // the watched work package date
	AlertDate      domain.Date // recipient-local day the alert was raised
}

// RunInput is one evaluation: slots from ScheduledAt up to Now.
type RunInput struct {
	RunID       string
	ScheduledAt time.Time
	Now         time.Time
}

// RunReport summarizes one run.
type RunReport struct {
	RunID       string
	ScheduledAt time.Time
	Slots       int
	LastSlot    time.Time
	Recipients  int
	Eligible    int
	Created     int
	MarkedRead  int
	Duplicates  int
	Failures    int
	Skipped     bool
	Took        time.Duration
}

type Service struct {
	store    Store
	features FeatureGate
	bus      Publisher
	log      logx.Logger

	mu  sync.RWMutex
	cfg Config
}

func NewService(cfg Config, store Store, features FeatureGate, bus Publisher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, features: features, bus: bus, log: log.With(logx.String("comp", "alerts"))}
	s.Apply(cfg)
	return s
}

// Apply swaps the runtime config. A run in flight keeps its snapshot.
func (s *Service) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.DefaultZone == nil {
		cfg.DefaultZone = time.UTC
	}
	if cfg.MaxCatchUp <= 0 {
		cfg.MaxCatchUp = defaultMaxCatchUp
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Run creates the date alerts due for every user whose local 01:00 window
// falls into one of the run's slots.
//
// Per-user and per-work-package failures are logged and counted; only
// failing to list recipients or a cancelled context fails the run.
func (s *Service) Run(ctx context.Context, in RunInput) (RunReport, error) {
	start := time.Now()
	cfg := s.config()
	rep := RunReport{RunID: in.RunID, ScheduledAt: in.ScheduledAt}
	log := s.log.With(logx.String("run_id", in.RunID))

	if s.features == nil || !s.features.Enabled(enterprise.FeatureDateAlerts) {
		rep.Skipped = true
		log.Debug("date alerts feature disabled, skipping run")
		return rep, nil
	}

	slots := capSlots(QuarterSlots(in.ScheduledAt, in.Now), cfg.MaxCatchUp)
	rep.Slots = len(slots)
	rep.LastSlot = slots[len(slots)-1]

	users, err := s.store.ListAlertRecipients(ctx)
	if err != nil {
		return rep, err
	}
	rep.Recipients = len(users)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, u := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ur := s.runUser(gctx, cfg, u, slots, in, log)
			mu.Lock()
			rep.add(ur)
			mu.Unlock()
			// Only cancellation aborts the group.
			if errors.Is(ur.err, context.Canceled) || errors.Is(ur.err, context.DeadlineExceeded) {
				return ur.err
			}
			return nil
		})
	}
	err = g.Wait()
	rep.Took = time.Since(start)
	if err == nil {
		err = ctx.Err()
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeAlertRunFinished, Data: rep})
	}
	log.Info("date alert run finished",
		logx.Time("scheduled_at", in.ScheduledAt),
		logx.Int("slots", rep.Slots),
		logx.Int("eligible", rep.Eligible),
		logx.Int("created", rep.Created),
		logx.Int("marked_read", rep.MarkedRead),
		logx.Int("duplicates", rep.Duplicates),
		logx.Int("failures", rep.Failures),
		logx.Duration("took", rep.Took),
		logx.Err(err),
	)
	return rep, err
}

type userResult struct {
	eligible   bool
	created    int
	markedRead int
	duplicates int
	failures   int
	err        error
}

func (r *RunReport) add(u userResult) {
	if u.eligible {
		r.Eligible++
	}
	r.Created += u.created
	r.MarkedRead += u.markedRead
	r.Duplicates += u.duplicates
	r.Failures += u.failures
}

func (s *Service) runUser(ctx context.Context, cfg Config, u domain.User, slots []time.Time, in RunInput, log logx.Logger) userResult {
	var res userResult
	log = log.With(logx.Int64("user_id", u.ID))

	loc, err := LoadZone(u.TimeZone, cfg.DefaultZone)
	if err != nil {
		log.Warn("skipping user with invalid time zone", logx.String("time_zone", u.TimeZone), logx.Err(err))
		res.failures++
		return res
	}
	slot, ok := EligibleSlot(slots, loc)
	if !ok {
		return res
	}
	res.eligible = true
	today := domain.DateOf(slot.In(loc))

	settings, err := s.store.ListNotificationSettings(ctx, u.ID)
	if err != nil {
		log.Warn("load notification settings failed", logx.Err(err))
		res.failures++
		res.err = err
		return res
	}
	wps, err := s.store.ListAlertableWorkPackages(ctx, u.ID)
	if err != nil {
		log.Warn("load work packages failed", logx.Err(err))
		res.failures++
		res.err = err
		return res
	}

	for _, wp := range wps {
		if err := ctx.Err(); err != nil {
			res.err = err
			return res
		}
		if !Concerns(wp, u.ID) {
			continue
		}
		setting, ok := EffectiveSetting(settings, wp.ProjectID)
		if !ok {
			continue
		}
		for _, kind := range domain.AlertKinds {
			if !Evaluate(wp, setting, kind, today) {
				continue
			}
			ar, err := s.store.CreateDateAlert(ctx, domain.DateAlert{
				RecipientID: u.ID,
				ResourceID:  wp.ID,
				Reason:      kind.Reason(),
				AlertDate:   today,
				CreatedAt:   in.Now,
			})
			if err != nil {
				log.Warn("create date alert failed",
					logx.Int64("work_package_id", wp.ID), logx.String("kind", kind.String()), logx.Err(err))
				res.failures++
				res.err = err
				continue
			}
			if !ar.Created {
				res.duplicates++
				continue
			}
			res.created++
			res.markedRead += ar.MarkedRead
			log.Debug("date alert created",
				logx.Int64("work_package_id", wp.ID),
				logx.String("kind", kind.String()),
				logx.String("alert_date", today.String()),
				logx.Int("marked_read", ar.MarkedRead),
			)
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.TypeAlertCreated, Data: AlertEvent{
					NotificationID: ar.NotificationID,
					RecipientID:    u.ID,
					RecipientLogin: u.Login,
					ChatID:         u.TelegramChatID,
					ResourceID:     wp.ID,
					Subject:        wp.Subject,
					Reason:         kind.Reason(),
					Kind:           kind.String(),
					Date:           kind.Date(wp),
					AlertDate:      today,
				}})
			}
		}
	}
	return res
}
