package domain

import "time"

type Project struct {
	ID   int64
	Name string
}

type Status struct {
	ID       int64
	Name     string
	IsClosed bool
}

// User is a potential alert recipient.
//
// TimeZone is an IANA zone name. Empty means the configured default zone.
// TelegramChatID is optional (0 = no chat delivery).
type User struct {
	ID             int64
	Login          string
	Firstname      string
	TimeZone       string
	TelegramChatID int64
}

// WorkPackage is the alertable slice of a work package.
//
// StartDate/DueDate are optional (zero Date = unset).
// AssignedToID/ResponsibleID are 0 when unset.
// Closed is derived from the work package status.
type WorkPackage struct {
	ID            int64
	ProjectID     int64
	Subject       string
	StatusID      int64
	Closed        bool
	StartDate     Date
	DueDate       Date
	AssignedToID  int64
	ResponsibleID int64
}

// NotificationSetting carries the per-field "days before" offsets.
//
// ProjectID 0 marks the user's global setting. A nil offset disables alerts
// for that field.
type NotificationSetting struct {
	UserID    int64
	ProjectID int64
	StartDate *int
	DueDate   *int
}

func (s NotificationSetting) IsGlobal() bool { return s.ProjectID == 0 }

// HasAlerts reports whether at least one date offset is enabled.
func (s NotificationSetting) HasAlerts() bool { return s.StartDate != nil || s.DueDate != nil }

// DefaultStartDateOffset and DefaultDueDateOffset are applied to the global
// setting of newly created users.
const (
	DefaultStartDateOffset = 1
	DefaultDueDateOffset   = 1
)

// DefaultGlobalSetting returns the global setting a new user starts with.
func DefaultGlobalSetting(userID int64) NotificationSetting {
	start, due := DefaultStartDateOffset, DefaultDueDateOffset
	return NotificationSetting{UserID: userID, StartDate: &start, DueDate: &due}
}

// Reason names why a notification exists.
type Reason string

const (
	ReasonDateAlertStartDate Reason = "date_alert_start_date"
	ReasonDateAlertDueDate   Reason = "date_alert_due_date"
	ReasonMentioned          Reason = "mentioned"
)

func (r Reason) IsDateAlert() bool {
	return r == ReasonDateAlertStartDate || r == ReasonDateAlertDueDate
}

// Notification is immutable apart from Read.
//
// AlertDate is the recipient-local date the alert was computed for; it is
// zero for notifications not created by the date alert job.
type Notification struct {
	ID          int64
	RecipientID int64
	ResourceID  int64
	Reason      Reason
	Read        bool
	AlertDate   Date
	CreatedAt   time.Time
}

// DateAlert is a request to create one date alert notification.
type DateAlert struct {
	RecipientID int64
	ResourceID  int64
	Reason      Reason
	AlertDate   Date
	CreatedAt   time.Time
}

// AlertResult describes what CreateDateAlert changed.
//
// Created is false when an alert for the same recipient, resource, reason and
// date already existed; in that case nothing is marked read.
type AlertResult struct {
	NotificationID int64
	Created        bool
	MarkedRead     int
}

// ScheduledRun is the persisted next invocation of a recurring job.
type ScheduledRun struct {
	Job       string
	RunAt     time.Time
	UpdatedAt time.Time
}
