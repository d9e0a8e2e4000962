package notifier

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"datealerts/internal/alerts"
	"datealerts/internal/domain"
	"datealerts/internal/transport"
	logx "datealerts/pkg/logx"
)

func (s *Service) workerLoop(ctx context.Context, q <-chan alerts.AlertEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, a)
		}
	}
}

// deliver sends one alert unless storage already has it as delivered.
func (s *Service) deliver(ctx context.Context, a alerts.AlertEvent) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	snd := s.sender
	st := s.store
	s.mu.Unlock()

	log := s.log.With(logx.Int64("notification_id", a.NotificationID), logx.Int64("chat_id", a.ChatID))

	if st != nil {
		done, err := st.IsDelivered(ctx, a.NotificationID, Channel)
		if err != nil {
			log.Warn("delivery lookup failed; sending anyway", logx.Err(err))
		} else if done {
			s.skipped.Add(1)
			log.Debug("alert already delivered")
			return
		}
	}

	text := FormatAlert(a)
	to := transport.ChatTarget{ChatID: a.ChatID}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := snd.SendText(callCtx, to, text, &transport.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		log.Debug("alert send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt == maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	now := time.Now()
	if lastErr != nil {
		s.failed.Add(1)
		log.Warn("alert delivery failed", logx.Int("attempts", maxAttempts), logx.Err(lastErr))
		s.publish(EventFailed, DeliveryEvent{Channel: Channel, NotificationID: a.NotificationID, ChatID: a.ChatID, Attempts: maxAttempts, At: now, Error: lastErr.Error()})
		return
	}

	s.sent.Add(1)
	s.appendHistory(HistoryItem{At: now, NotificationID: a.NotificationID, ChatID: a.ChatID, Text: text})
	s.publish(EventSent, DeliveryEvent{Channel: Channel, NotificationID: a.NotificationID, ChatID: a.ChatID, Attempts: attempt, At: now})
	if st != nil {
		if _, err := st.MarkDelivered(context.WithoutCancel(ctx), a.NotificationID, Channel, now); err != nil {
			log.Warn("record delivery failed", logx.Err(err))
		}
	}
}

// FormatAlert renders the chat text for one alert.
func FormatAlert(a alerts.AlertEvent) string {
	label := "Date"
	switch a.Reason {
	case domain.ReasonDateAlertStartDate:
		label = "Start date"
	case domain.ReasonDateAlertDueDate:
		label = "Due date"
	}

	var b strings.Builder
	b.WriteString("⏰ ")
	b.WriteString(label)
	b.WriteString(" ")
	b.WriteString(relativeDay(a.AlertDate, a.Date))
	b.WriteString("\n")
	fmt.Fprintf(&b, "#%d %s", a.ResourceID, strings.TrimSpace(a.Subject))
	if !a.Date.IsZero() {
		b.WriteString("\n")
		b.WriteString(a.Date.String())
	}
	return b.String()
}

func relativeDay(from, to domain.Date) string {
	if from.IsZero() || to.IsZero() {
		return "upcoming"
	}
	n := 0
	for d := from; d.Before(to) && n <= 366; d = d.AddDays(1) {
		n++
	}
	switch n {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", n)
	}
}

// retryDelay is the wait before the attempt after attempt (1-based):
// base * 2^(attempt-1) with 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
