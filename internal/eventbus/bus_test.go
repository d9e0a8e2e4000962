package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	alerts, unsubAlerts := b.Subscribe(4, TypeAlertCreated)
	defer unsubAlerts()

	b.Publish(Event{Type: "task.started"})
	b.Publish(Event{Type: TypeAlertCreated, Data: 1})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(alerts); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-alerts
	if e.Type != TypeAlertCreated || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if st := b.Stats(); st.Published != 10 || st.Dropped != 9 {
		t.Fatalf("stats = %+v, want 10 published / 9 dropped", st)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "x"})
	if st := b.Stats(); st.Subscribers != 0 {
		t.Fatalf("subscribers = %d, want 0", st.Subscribers)
	}
}
