package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"datealerts/internal/domain"
	logx "datealerts/pkg/logx"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func intp(v int) *int { return &v }

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "none"}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("none driver: got %v, want ErrDisabled", err)
	}
}

func TestCreateUserAddsDefaultGlobalSetting(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	u, err := st.CreateUser(ctx, domain.User{Login: "anna"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	settings, err := st.ListNotificationSettings(ctx, u.ID)
	if err != nil {
		t.Fatalf("list settings: %v", err)
	}
	if len(settings) != 1 || !settings[0].IsGlobal() {
		t.Fatalf("settings = %+v, want one global row", settings)
	}
	if got := settings[0]; got.StartDate == nil || *got.StartDate != 1 || got.DueDate == nil || *got.DueDate != 1 {
		t.Fatalf("default offsets = %+v", got)
	}

	if err := st.UpsertNotificationSetting(ctx, domain.NotificationSetting{UserID: u.ID, DueDate: intp(3)}); err != nil {
		t.Fatalf("upsert global: %v", err)
	}
	settings, _ = st.ListNotificationSettings(ctx, u.ID)
	if len(settings) != 1 || settings[0].StartDate != nil || *settings[0].DueDate != 3 {
		t.Fatalf("after upsert = %+v", settings)
	}
}

func TestListAlertableWorkPackagesSkipsClosedAndStrangers(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	p, _ := st.CreateProject(ctx, domain.Project{Name: "p"})
	open, _ := st.CreateStatus(ctx, domain.Status{Name: "new"})
	closed, _ := st.CreateStatus(ctx, domain.Status{Name: "closed", IsClosed: true})
	u, _ := st.CreateUser(ctx, domain.User{Login: "u"})
	other, _ := st.CreateUser(ctx, domain.User{Login: "o"})

	d := domain.NewDate(2026, time.March, 10)
	mk := func(status int64, assigned, responsible int64) domain.WorkPackage {
		wp, err := st.CreateWorkPackage(ctx, domain.WorkPackage{
			ProjectID: p.ID, Subject: "wp", StatusID: status, DueDate: d,
			AssignedToID: assigned, ResponsibleID: responsible,
		})
		if err != nil {
			t.Fatalf("create wp: %v", err)
		}
		return wp
	}
	asAssignee := mk(open.ID, u.ID, 0)
	asResponsible := mk(open.ID, other.ID, u.ID)
	mk(closed.ID, u.ID, 0)
	mk(open.ID, other.ID, 0)

	got, err := st.ListAlertableWorkPackages(ctx, u.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != asAssignee.ID || got[1].ID != asResponsible.ID {
		t.Fatalf("got %+v", got)
	}
	if !got[0].DueDate.Equal(d) || !got[0].StartDate.IsZero() {
		t.Fatalf("dates not round-tripped: %+v", got[0])
	}
}

func TestCreateDateAlertReconcilesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	u, _ := st.CreateUser(ctx, domain.User{Login: "u"})

	const wpID = 7
	old, _ := st.CreateNotification(ctx, domain.Notification{RecipientID: u.ID, ResourceID: wpID, Reason: domain.ReasonDateAlertDueDate})
	oldStart, _ := st.CreateNotification(ctx, domain.Notification{RecipientID: u.ID, ResourceID: wpID, Reason: domain.ReasonDateAlertStartDate})
	mention, _ := st.CreateNotification(ctx, domain.Notification{RecipientID: u.ID, ResourceID: wpID, Reason: domain.ReasonMentioned})

	today := domain.NewDate(2026, time.March, 9)
	alert := domain.DateAlert{RecipientID: u.ID, ResourceID: wpID, Reason: domain.ReasonDateAlertDueDate, AlertDate: today}

	res, err := st.CreateDateAlert(ctx, alert)
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if !res.Created || res.MarkedRead != 1 {
		t.Fatalf("first result = %+v", res)
	}

	again, err := st.CreateDateAlert(ctx, alert)
	if err != nil {
		t.Fatalf("repeat alert: %v", err)
	}
	if again.Created || again.MarkedRead != 0 || again.NotificationID != res.NotificationID {
		t.Fatalf("repeat result = %+v, want no-op on %d", again, res.NotificationID)
	}

	all, _ := st.ListNotifications(ctx, NotificationFilter{RecipientID: u.ID})
	read := map[int64]bool{}
	for _, n := range all {
		read[n.ID] = n.Read
	}
	if len(all) != 4 {
		t.Fatalf("notifications = %d, want 4", len(all))
	}
	if !read[old.ID] {
		t.Fatal("superseded due date alert should be read")
	}
	if read[oldStart.ID] || read[mention.ID] || read[res.NotificationID] {
		t.Fatalf("unexpected read state: %v", read)
	}
}

func TestCreateDateAlertRejectsOtherReasons(t *testing.T) {
	st := openTestStore(t)
	_, err := st.CreateDateAlert(context.Background(), domain.DateAlert{
		RecipientID: 1, ResourceID: 1, Reason: domain.ReasonMentioned, AlertDate: domain.NewDate(2026, 1, 1),
	})
	if err == nil {
		t.Fatal("expected error for non date alert reason")
	}
}

func TestAdvanceScheduledRunCompareAndSet(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	first := time.Date(2026, time.March, 9, 1, 0, 0, 0, time.UTC)
	rec, err := st.EnsureScheduledRun(ctx, "date_alerts", first)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !rec.RunAt.Equal(first) {
		t.Fatalf("run_at = %v, want %v", rec.RunAt, first)
	}
	// A second ensure keeps the persisted instant.
	rec, _ = st.EnsureScheduledRun(ctx, "date_alerts", first.Add(time.Hour))
	if !rec.RunAt.Equal(first) {
		t.Fatalf("ensure overwrote run_at: %v", rec.RunAt)
	}

	next := first.Add(15 * time.Minute)
	run := &RunRecord{ID: "r1", Job: "date_alerts", ScheduledAt: first, StartedAt: first, FinishedAt: first, Created: 2}
	if err := st.AdvanceScheduledRun(ctx, "date_alerts", first, next, run); err != nil {
		t.Fatalf("advance: %v", err)
	}
	dup := &RunRecord{ID: "r2", Job: "date_alerts", ScheduledAt: first, StartedAt: first, FinishedAt: first}
	if err := st.AdvanceScheduledRun(ctx, "date_alerts", first, next.Add(15*time.Minute), dup); !errors.Is(err, ErrRunAdvanced) {
		t.Fatalf("second advance: got %v, want ErrRunAdvanced", err)
	}

	got, _ := st.GetScheduledRun(ctx, "date_alerts")
	if !got.RunAt.Equal(next) {
		t.Fatalf("run_at = %v, want %v", got.RunAt, next)
	}
	runs, err := st.ListRunRecords(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "r1" || runs[0].Created != 2 {
		t.Fatalf("runs = %+v", runs)
	}

	if _, err := st.GetScheduledRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing job: got %v", err)
	}
}

func TestMarkDeliveredOnce(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	u, _ := st.CreateUser(ctx, domain.User{Login: "u"})
	n, _ := st.CreateNotification(ctx, domain.Notification{RecipientID: u.ID, ResourceID: 1, Reason: domain.ReasonMentioned})

	ok, err := st.MarkDelivered(ctx, n.ID, "telegram", time.Now())
	if err != nil || !ok {
		t.Fatalf("first mark = %v, %v", ok, err)
	}
	ok, err = st.MarkDelivered(ctx, n.ID, "telegram", time.Now())
	if err != nil || ok {
		t.Fatalf("second mark = %v, %v", ok, err)
	}
	if done, _ := st.IsDelivered(ctx, n.ID, "telegram"); !done {
		t.Fatal("IsDelivered = false")
	}
}
