package domain

// AlertKind enumerates the date fields that can trigger an alert.
type AlertKind int

const (
	AlertStartDate AlertKind = iota
	AlertDueDate
)

// AlertKinds is the evaluation order used for every work package.
var AlertKinds = [...]AlertKind{AlertStartDate, AlertDueDate}

func (k AlertKind) String() string {
	switch k {
	case AlertStartDate:
		return "start_date"
	case AlertDueDate:
		return "due_date"
	default:
		return "unknown"
	}
}

func (k AlertKind) Reason() Reason {
	if k == AlertDueDate {
		return ReasonDateAlertDueDate
	}
	return ReasonDateAlertStartDate
}

// Date returns the work package field this kind watches.
func (k AlertKind) Date(wp WorkPackage) Date {
	if k == AlertDueDate {
		return wp.DueDate
	}
	return wp.StartDate
}

// Offset returns the configured offset for this kind, or nil when disabled.
func (k AlertKind) Offset(s NotificationSetting) *int {
	if k == AlertDueDate {
		return s.DueDate
	}
	return s.StartDate
}

// KindForReason maps a reason back to its kind.
func KindForReason(r Reason) (AlertKind, bool) {
	switch r {
	case ReasonDateAlertStartDate:
		return AlertStartDate, true
	case ReasonDateAlertDueDate:
		return AlertDueDate, true
	default:
		return 0, false
	}
}
