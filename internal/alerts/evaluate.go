package alerts

import "datealerts/internal/domain"

// EffectiveSetting picks the project-scoped setting for projectID when the
// user has one, otherwise the global setting. The project row wins as a
// whole, including its disabled fields.
func EffectiveSetting(settings []domain.NotificationSetting, projectID int64) (domain.NotificationSetting, bool) {
	var (
		global    domain.NotificationSetting
		hasGlobal bool
	)
	for _, s := range settings {
		if !s.IsGlobal() && s.ProjectID == projectID {
			return s, true
		}
		if s.IsGlobal() && !hasGlobal {
			global, hasGlobal = s, true
		}
	}
	return global, hasGlobal
}

// Evaluate reports whether kind fires for wp on the recipient-local date
// today under setting: the watched date is set, the work package is open,
// the offset is enabled and the date is exactly offset days after today.
func Evaluate(wp domain.WorkPackage, setting domain.NotificationSetting, kind domain.AlertKind, today domain.Date) bool {
	if wp.Closed {
		return false
	}
	date := kind.Date(wp)
	if date.IsZero() {
		return false
	}
	offset := kind.Offset(setting)
	if offset == nil || *offset < 0 {
		return false
	}
	return date.Equal(today.AddDays(*offset))
}

// Concerns reports whether user is the assignee or responsible of wp.
func Concerns(wp domain.WorkPackage, userID int64) bool {
	if userID == 0 {
		return false
	}
	return wp.AssignedToID == userID || wp.ResponsibleID == userID
}
