package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"datealerts/internal/alerts"
	"datealerts/internal/eventbus"
	rtsup "datealerts/internal/runtime/supervisor"
	"datealerts/internal/transport"
	logx "datealerts/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historySize = 50

// Service is a queue plus worker pool delivering alert events.
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender transport.Sender
	store  DeliveryStore
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan alerts.AlertEvent
	sup      *rtsup.Supervisor
	unsub    func()
	stopDone chan struct{} // non-nil while stopping

	sent    atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
	dropped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds the service. store may be nil, which disables cross-restart
// deduplication.
func New(cfg Config, sender transport.Sender, store DeliveryStore, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		store:  store,
		bus:    bus,
		log:    log.With(logx.String("comp", "notifier")),
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps rate and retry settings. Worker and queue sizes take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Supervisor returns the internal supervisor, nil when not running.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start subscribes to alert events and launches the workers. It is
// idempotent and does nothing when disabled or without a sender.
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
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		s.mu.Unlock()
		return
	}

	q := make(chan alerts.AlertEvent, s.cfg.QueueSize)
	workers := s.cfg.Workers
	sup := rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.queue, s.sup, s.accepting = q, sup, true

	var events <-chan eventbus.Event
	if s.bus != nil {
		events, s.unsub = s.bus.Subscribe(s.cfg.QueueSize, eventbus.TypeAlertCreated)
	}
	s.mu.Unlock()

	if events != nil {
		sup.Go0("intake", func(c context.Context) { s.intake(c, events) })
	}
	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", workers))
}

// Stop stops intake and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q, sup, unsub := s.queue, s.sup, s.unsub
	if q == nil {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		sup.Cancel()

		s.mu.Lock()
		s.queue, s.sup, s.stopDone = nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
		s.log.Info("notifier stopped")
	case <-ctx.Done():
		sup.Cancel()
		s.log.Warn("notifier stop timed out; pending deliveries abandoned", logx.Err(ctx.Err()))
	}
}

// intake forwards bus events into the queue until the subscription closes.
func (s *Service) intake(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a, ok := ev.Data.(alerts.AlertEvent)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, a); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Warn("alert delivery not queued", logx.Int64("notification_id", a.NotificationID), logx.Err(err))
			}
		}
	}
}

// Notify queues one alert for delivery. Alerts without a chat are skipped.
func (s *Service) Notify(ctx context.Context, a alerts.AlertEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if a.ChatID == 0 {
		s.skipped.Add(1)
		s.publish(EventSkipped, DeliveryEvent{Channel: Channel, NotificationID: a.NotificationID, At: time.Now(), Error: "recipient has no chat"})
		return nil
	}

	select {
	case q <- a:
		s.publish(EventQueued, DeliveryEvent{Channel: Channel, NotificationID: a.NotificationID, ChatID: a.ChatID, At: time.Now()})
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{Enabled: s.cfg.Enabled, Running: s.queue != nil && s.stopDone == nil}
	if s.queue != nil {
		st.QueueLen, st.QueueCap = len(s.queue), cap(s.queue)
	}
	s.mu.Unlock()

	st.Sent = s.sent.Load()
	st.Failed = s.failed.Load()
	st.Skipped = s.skipped.Load()
	st.Dropped = s.dropped.Load()

	s.hmu.Lock()
	st.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return st
}

func (s *Service) publish(typ string, ev DeliveryEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, it)
	if over := len(s.history) - historySize; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
}
