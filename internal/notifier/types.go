package notifier

import (
	"context"
	"time"
)

// Channel is the delivery channel name recorded in storage.
const Channel = "telegram"

// Bus event types.
const (
	EventQueued  = "notifier.queued"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventSkipped = "notifier.skipped"
)

// Config controls the async delivery pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

const (
	defaultWorkers       = 2
	defaultQueueSize     = 512
	defaultRatePerSec    = 3
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 10 * time.Second
	defaultSendTimeout   = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

// DeliveryStore records which notifications went out on which channel.
type DeliveryStore interface {
	IsDelivered(ctx context.Context, notificationID int64, channel string) (bool, error)
	MarkDelivered(ctx context.Context, notificationID int64, channel string, at time.Time) (bool, error)
}

type HistoryItem struct {
	At             time.Time `json:"at"`
	NotificationID int64     `json:"notification_id"`
	ChatID         int64     `json:"chat_id"`
	Text           string    `json:"text"`
}

// DeliveryEvent is the payload of notifier.* bus events.
type DeliveryEvent struct {
	Channel        string    `json:"channel"`
	NotificationID int64     `json:"notification_id"`
	ChatID         int64     `json:"chat_id"`
	Attempts       int       `json:"attempts,omitempty"`
	At             time.Time `json:"at"`
	Error          string    `json:"error,omitempty"`
}

// Stats are cumulative since process start.
type Stats struct {
	Enabled  bool          `json:"enabled"`
	Running  bool          `json:"running"`
	QueueLen int           `json:"queue_len"`
	QueueCap int           `json:"queue_cap"`
	Sent     uint64        `json:"sent"`
	Failed   uint64        `json:"failed"`
	Skipped  uint64        `json:"skipped"`
	Dropped  uint64        `json:"dropped"`
	History  []HistoryItem `json:"history"`
}
