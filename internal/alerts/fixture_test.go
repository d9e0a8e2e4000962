package alerts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"datealerts/internal/domain"
	"datealerts/internal/enterprise"
	"datealerts/internal/eventbus"
	"datealerts/internal/storage"
	logx "datealerts/pkg/logx"
)

// fixture mirrors a small instance: one project, an open and a closed
// status, and users in Paris, Berlin (same offsets as Paris) and Kathmandu
// (UTC+05:45, no DST).
type fixture struct {
	t        *testing.T
	ctx      context.Context
	st       *storage.SQLiteStore
	features *enterprise.Features
	bus      *eventbus.MemBus
	svc      *Service

	project      domain.Project
	statusOpen   domain.Status
	statusClosed domain.Status

	paris, berlin, kathmandu             *time.Location
	userParis, userBerlin, userKathmandu domain.User

	today domain.Date
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "alerts.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		t:         t,
		ctx:       ctx,
		st:        st,
		features:  enterprise.NewFeatures(enterprise.FeatureDateAlerts),
		bus:       eventbus.New(),
		paris:     mustZone(t, "Europe/Paris"),
		berlin:    mustZone(t, "Europe/Berlin"),
		kathmandu: mustZone(t, "Asia/Kathmandu"),
		today:     domain.NewDate(2026, time.March, 10),
	}
	f.svc = NewService(Config{Workers: 2}, st, f.features, f.bus, logx.Nop())

	f.project = f.must(st.CreateProject(ctx, domain.Project{Name: "main"}))
	f.statusOpen = f.mustStatus(st.CreateStatus(ctx, domain.Status{Name: "open"}))
	f.statusClosed = f.mustStatus(st.CreateStatus(ctx, domain.Status{Name: "closed", IsClosed: true}))
	f.userParis = f.mustUser(st.CreateUser(ctx, domain.User{Login: "paris", Firstname: "Paris", TimeZone: "Europe/Paris", TelegramChatID: 1001}))
	f.userBerlin = f.mustUser(st.CreateUser(ctx, domain.User{Login: "berlin", Firstname: "Berlin", TimeZone: "Europe/Berlin"}))
	f.userKathmandu = f.mustUser(st.CreateUser(ctx, domain.User{Login: "kathmandu", Firstname: "Kathmandu", TimeZone: "Asia/Kathmandu"}))
	return f
}

func (f *fixture) must(p domain.Project, err error) domain.Project {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("seed: %v", err)
	}
	return p
}

func (f *fixture) mustStatus(s domain.Status, err error) domain.Status {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("seed status: %v", err)
	}
	return s
}

func (f *fixture) mustUser(u domain.User, err error) domain.User {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("seed user: %v", err)
	}
	return u
}

func (f *fixture) inDays(n int) domain.Date { return f.today.AddDays(n) }

// workPackage creates an open work package starting tomorrow and assigned to
// the Paris user, after applying mod.
func (f *fixture) workPackage(mod func(wp *domain.WorkPackage)) domain.WorkPackage {
	f.t.Helper()
	wp := domain.WorkPackage{
		ProjectID:    f.project.ID,
		Subject:      "alertable",
		StatusID:     f.statusOpen.ID,
		StartDate:    f.inDays(1),
		AssignedToID: f.userParis.ID,
	}
	if mod != nil {
		mod(&wp)
	}
	out, err := f.st.CreateWorkPackage(f.ctx, wp)
	if err != nil {
		f.t.Fatalf("create work package: %v", err)
	}
	return out
}

func (f *fixture) setting(userID, projectID int64, start, due *int) {
	f.t.Helper()
	err := f.st.UpsertNotificationSetting(f.ctx, domain.NotificationSetting{
		UserID: userID, ProjectID: projectID, StartDate: start, DueDate: due,
	})
	if err != nil {
		f.t.Fatalf("upsert setting: %v", err)
	}
}

func (f *fixture) notification(userID, wpID int64, reason domain.Reason) domain.Notification {
	f.t.Helper()
	n, err := f.st.CreateNotification(f.ctx, domain.Notification{RecipientID: userID, ResourceID: wpID, Reason: reason})
	if err != nil {
		f.t.Fatalf("create notification: %v", err)
	}
	return n
}

// run executes one run scheduled and executed at the given wall clock times
// of loc on the fixture's day.
func (f *fixture) run(loc *time.Location, scheduled, executed [2]int) RunReport {
	f.t.Helper()
	rep, err := f.svc.Run(f.ctx, RunInput{
		RunID:       "test",
		ScheduledAt: time.Date(2026, time.March, 10, scheduled[0], scheduled[1], 0, 0, loc),
		Now:         time.Date(2026, time.March, 10, executed[0], executed[1], 0, 0, loc),
	})
	if err != nil {
		f.t.Fatalf("run: %v", err)
	}
	return rep
}

func (f *fixture) runDefault() RunReport {
	return f.run(f.paris, [2]int{1, 0}, [2]int{1, 4})
}

func (f *fixture) hasAlert(u domain.User, wp domain.WorkPackage, reason domain.Reason) bool {
	f.t.Helper()
	ns, err := f.st.ListNotifications(f.ctx, storage.NotificationFilter{
		RecipientID: u.ID, ResourceID: wp.ID, Reason: string(reason),
	})
	if err != nil {
		f.t.Fatalf("list notifications: %v", err)
	}
	for _, n := range ns {
		if !n.AlertDate.IsZero() {
			return true
		}
	}
	return false
}

func (f *fixture) isRead(id int64) bool {
	f.t.Helper()
	ns, err := f.st.ListNotifications(f.ctx, storage.NotificationFilter{})
	if err != nil {
		f.t.Fatalf("list notifications: %v", err)
	}
	for _, n := range ns {
		if n.ID == id {
			return n.Read
		}
	}
	f.t.Fatalf("notification %d not found", id)
	return false
}

func storageUnread(userID, wpID int64) storage.NotificationFilter {
	return storage.NotificationFilter{RecipientID: userID, ResourceID: wpID, UnreadOnly: true}
}
