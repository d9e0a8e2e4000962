package systemd

import (
	"context"
	"testing"
	"time"

	logx "datealerts/pkg/logx"
)

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	for name, fn := range map[string]func() (bool, error){
		"ready":    Ready,
		"stopping": Stopping,
		"status":   func() (bool, error) { return Status("running") },
	} {
		sent, err := fn()
		if err != nil || sent {
			t.Fatalf("%s: sent=%v err=%v, want no-op", name, sent, err)
		}
	}
	if d := WatchdogInterval(); d != 0 {
		t.Fatalf("WatchdogInterval = %v, want 0", d)
	}
}

func TestWatchdogStopsOnCancel(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watchdog(ctx, 5*time.Millisecond, func() bool { return true }, logx.Nop())
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}

	// a zero interval returns immediately
	Watchdog(context.Background(), 0, nil, logx.Nop())
}
