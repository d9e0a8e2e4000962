package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"datealerts/internal/alerts"
	"datealerts/internal/config"
	"datealerts/internal/enterprise"
	"datealerts/internal/eventbus"
	"datealerts/internal/notifier"
	"datealerts/internal/observability/ops"
	rtsup "datealerts/internal/runtime/supervisor"
	"datealerts/internal/storage"
	"datealerts/internal/task/engine"
	"datealerts/internal/task/scheduler"
	"datealerts/internal/transport"
	"datealerts/internal/transport/telegram"
	logx "datealerts/pkg/logx"
	"datealerts/pkg/systemd"
)

// App wires storage, the alert job and its trigger, delivery and the ops
// server, and keeps them in sync with the config file.
type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	root logx.Logger
	log  logx.Logger
	logs *logx.Service

	bus      *eventbus.MemBus
	store    *storage.SQLiteStore
	features *enterprise.Features
	channel  *telegram.Channel

	engine *engine.Service
	sched  *scheduler.Service
	alerts *alerts.Service
	job    *alerts.Job
	notif  *notifier.Service
	ops    *ops.Service

	alertSpec    string
	alertTimeout time.Duration
}

// New loads and validates the config and builds every component without
// starting any of them.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validate)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	var (
		channel *telegram.Channel
		sender  transport.Sender
	)
	if tc, ok, err := mapTelegramConfig(cfg); err != nil {
		return nil, err
	} else if ok {
		bootLog := logx.NewConsole("INFO")
		if channel, err = telegram.New(tc, bootLog); err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = channel
	}

	logSvc, log := logx.New(mapLogConfig(cfg), sender)
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			return nil, fmt.Errorf("date alerts need storage; storage.driver is %q", cfg.Storage.Driver)
		}
		return nil, err
	}

	bus := eventbus.New()
	features := enterprise.NewFeatures(cfg.Enterprise.Features...)

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engineSvc := engine.New(engCfg, log, bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log)

	acfg, err := mapAlertsConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	alertSvc := alerts.NewService(acfg, store, features, bus, log)

	spec, sched, err := alertSchedule(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	job := alerts.NewJob(alertSvc, store, sched, log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notifSvc := notifier.New(ncfg, sender, store, bus, log)

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	timeout, err := config.ParseDurationField("scheduler.alert_timeout", cfg.Scheduler.AlertTimeout)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:         cfgm,
		root:         log,
		log:          appLog,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		features:     features,
		channel:      channel,
		engine:       engineSvc,
		sched:        schedSvc,
		alerts:       alertSvc,
		job:          job,
		notif:        notifSvc,
		alertSpec:    spec,
		alertTimeout: timeout,
	}
	a.ops = ops.New(opsCfg, a.probe, log)
	return a, nil
}

// validate runs on Load and before every hot reload is committed.
func validate(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	_, err := mapTaskEngineConfig(cfg)
	return err
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.root)
	runCtx := a.sup.Context()

	if err := a.job.Ensure(runCtx); err != nil {
		return fmt.Errorf("ensure %s run: %w", alerts.JobName, err)
	}

	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	if err := a.registerAlertJob(); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}
	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}
	a.ops.Start(runCtx)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
		_, _ = systemd.Status("alert schedule " + a.alertSpec)
	}
	if every := systemd.WatchdogInterval(); every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.Watchdog(c, every, a.healthy, a.log)
		})
	}

	a.log.Info("app started",
		logx.String("alert_schedule", a.alertSpec),
		logx.Bool("notifier", a.notif.Enabled()),
		logx.Strings("features", a.features.List()),
	)
	return nil
}

// registerAlertJob (re)binds the alert job to its trigger. Overlapping
// triggers are skipped while a run is in flight.
func (a *App) registerAlertJob() error {
	_, err := a.sched.AddScheduleOpt(alerts.JobName, a.alertSpec, a.alertTimeout,
		engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}, a.job.Run)
	if err != nil {
		return fmt.Errorf("register %s schedule: %w", alerts.JobName, err)
	}
	return nil
}

func (a *App) healthy() bool {
	if a.sup == nil || a.sup.Context().Err() != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.store.Ping(ctx) == nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	// step bounds one shutdown step by max without extending ctx.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	return a.logs.Close()
}
