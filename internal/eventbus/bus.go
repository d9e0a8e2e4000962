package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the alert pipeline.
const (
	TypeAlertCreated     = "alert.created"
	TypeAlertRunFinished = "alert.run.finished"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber drops events.
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a buffered channel of events. With types given, only
	// events of those types are delivered.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// MemBus is a simple in-memory fanout bus. It owns no goroutines.
type MemBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
	seq  atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

type subscription struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *subscription) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

func New() *MemBus {
	return &MemBus{subs: map[uint64]*subscription{}}
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	// Snapshot so sends happen without holding the lock.
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		b.deliver(ch, e)
	}
}

func (b *MemBus) deliver(ch chan Event, e Event) {
	// A concurrent unsubscribe may close ch between snapshot and send.
	defer func() {
		if recover() != nil {
			b.dropped.Add(1)
		}
	}()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *MemBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscription{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Stats is a best-effort counter snapshot.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

func (b *MemBus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load(), Subscribers: n}
}
