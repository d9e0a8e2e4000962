package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")

	// ErrRunAdvanced is returned when another trigger already moved the
	// scheduled run past the expected instant.
	ErrRunAdvanced = errors.New("scheduled run already advanced")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "none": storage disabled, Open returns ErrDisabled
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// RunRecord is the audit row of one alert job execution.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID          string
	Job         string
	ScheduledAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Slots       int
	Eligible    int
	Created     int
	MarkedRead  int
	Duplicates  int
	Failures    int
	Skipped     bool
	Error       string
}

// NotificationFilter narrows ListNotifications. Zero fields match all.
type NotificationFilter struct {
	RecipientID int64
	ResourceID  int64
	Reason      string
	UnreadOnly  bool
}
