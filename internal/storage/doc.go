// Package storage persists the alerting slice of the project data in SQLite.
//
// It covers:
//   - Projects, statuses, users, notification settings and work packages
//   - Notifications, including the date alert create-and-reconcile transaction
//   - The scheduled run record of recurring jobs and their run audit
//   - Delivery bookkeeping so external channels send each alert once
package storage
