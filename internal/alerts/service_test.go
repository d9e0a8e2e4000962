package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"datealerts/internal/domain"
	"datealerts/internal/eventbus"
	logx "datealerts/pkg/logx"
)

func TestRunOnlyOpenWorkPackages(t *testing.T) {
	f := newFixture(t)
	open := f.workPackage(nil)
	closed := f.workPackage(func(wp *domain.WorkPackage) { wp.StatusID = f.statusClosed.ID })

	f.runDefault()

	if !f.hasAlert(f.userParis, open, domain.ReasonDateAlertStartDate) {
		t.Fatal("expected start date alert for open work package")
	}
	if f.hasAlert(f.userParis, closed, domain.ReasonDateAlertStartDate) {
		t.Fatal("closed work package must not alert")
	}
}

func TestRunOnlyUsersAtLocalOneAM(t *testing.T) {
	f := newFixture(t)
	forParis := f.workPackage(nil)
	forKathmandu := f.workPackage(func(wp *domain.WorkPackage) { wp.AssignedToID = f.userKathmandu.ID })

	f.run(f.paris, [2]int{1, 0}, [2]int{1, 4})
	if !f.hasAlert(f.userParis, forParis, domain.ReasonDateAlertStartDate) {
		t.Fatal("paris user should be alerted at 01:00 Paris")
	}
	if f.hasAlert(f.userKathmandu, forKathmandu, domain.ReasonDateAlertStartDate) {
		t.Fatal("kathmandu user must not be alerted at 01:00 Paris")
	}

	f.run(f.kathmandu, [2]int{1, 0}, [2]int{1, 4})
	if !f.hasAlert(f.userKathmandu, forKathmandu, domain.ReasonDateAlertStartDate) {
		t.Fatal("kathmandu user should be alerted at 01:00 Kathmandu")
	}
}

func TestRunAssigneeAndResponsible(t *testing.T) {
	f := newFixture(t)
	assigned := f.workPackage(nil)
	accountable := f.workPackage(func(wp *domain.WorkPackage) {
		wp.AssignedToID = 0
		wp.ResponsibleID = f.userParis.ID
	})

	f.runDefault()

	if !f.hasAlert(f.userParis, assigned, domain.ReasonDateAlertStartDate) {
		t.Fatal("assignee should be alerted")
	}
	if !f.hasAlert(f.userParis, accountable, domain.ReasonDateAlertStartDate) {
		t.Fatal("responsible should be alerted")
	}
}

func TestRunUsesEachUsersSettings(t *testing.T) {
	f := newFixture(t)
	f.setting(f.userParis.ID, 0, offset(1), nil)
	f.setting(f.userBerlin.ID, 0, nil, offset(3))
	wp := f.workPackage(func(wp *domain.WorkPackage) {
		wp.ResponsibleID = f.userBerlin.ID
		wp.DueDate = f.inDays(3)
	})

	f.runDefault()

	if !f.hasAlert(f.userParis, wp, domain.ReasonDateAlertStartDate) {
		t.Fatal("paris: expected start date alert")
	}
	if f.hasAlert(f.userParis, wp, domain.ReasonDateAlertDueDate) {
		t.Fatal("paris: unexpected due date alert")
	}
	if f.hasAlert(f.userBerlin, wp, domain.ReasonDateAlertStartDate) {
		t.Fatal("berlin: unexpected start date alert")
	}
	if !f.hasAlert(f.userBerlin, wp, domain.ReasonDateAlertDueDate) {
		t.Fatal("berlin: expected due date alert")
	}
}

func TestRunWithoutFeatureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.features.Apply(nil)
	wp := f.workPackage(nil)

	rep := f.runDefault()

	if !rep.Skipped {
		t.Fatal("report should be marked skipped")
	}
	if f.hasAlert(f.userParis, wp, domain.ReasonDateAlertStartDate) {
		t.Fatal("no alert expected without the date_alerts feature")
	}
}

func TestRunProjectSettingsOverrideGlobal(t *testing.T) {
	f := newFixture(t)
	f.setting(f.userParis.ID, 0, offset(1), nil)
	f.setting(f.userParis.ID, f.project.ID, nil, offset(7))
	silent := f.workPackage(func(wp *domain.WorkPackage) {
		wp.StartDate = f.inDays(1)
		wp.DueDate = f.inDays(1)
	})
	noisy := f.workPackage(func(wp *domain.WorkPackage) {
		wp.StartDate = f.inDays(7)
		wp.DueDate = f.inDays(7)
	})

	f.runDefault()

	if f.hasAlert(f.userParis, silent, domain.ReasonDateAlertStartDate) || f.hasAlert(f.userParis, silent, domain.ReasonDateAlertDueDate) {
		t.Fatal("global setting must not apply inside the project")
	}
	if f.hasAlert(f.userParis, noisy, domain.ReasonDateAlertStartDate) {
		t.Fatal("project setting disables start date alerts")
	}
	if !f.hasAlert(f.userParis, noisy, domain.ReasonDateAlertDueDate) {
		t.Fatal("project setting should raise the due date alert")
	}
}

func TestRunMarksSupersededAlertsRead(t *testing.T) {
	f := newFixture(t)
	wp := f.workPackage(func(wp *domain.WorkPackage) { wp.DueDate = f.inDays(1) })
	existingStart := f.notification(f.userParis.ID, wp.ID, domain.ReasonDateAlertStartDate)
	existingDue := f.notification(f.userParis.ID, wp.ID, domain.ReasonDateAlertDueDate)

	rep := f.runDefault()

	if !f.isRead(existingStart.ID) || !f.isRead(existingDue.ID) {
		t.Fatal("existing date alerts should be marked read")
	}
	if rep.Created != 2 || rep.MarkedRead != 2 {
		t.Fatalf("report = %+v, want 2 created / 2 marked read", rep)
	}
	unread, err := f.st.ListNotifications(f.ctx, storageUnread(f.userParis.ID, wp.ID))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	reasons := map[domain.Reason]int{}
	for _, n := range unread {
		reasons[n.Reason]++
	}
	if len(unread) != 2 || reasons[domain.ReasonDateAlertStartDate] != 1 || reasons[domain.ReasonDateAlertDueDate] != 1 {
		t.Fatalf("unread = %+v", unread)
	}
}

func TestRunLeavesReasonsWithoutNewAlertsUnread(t *testing.T) {
	f := newFixture(t)
	wpStart := f.workPackage(nil)
	wpDue := f.workPackage(func(wp *domain.WorkPackage) {
		wp.StartDate = domain.Date{}
		wp.DueDate = f.inDays(1)
	})
	startStart := f.notification(f.userParis.ID, wpStart.ID, domain.ReasonDateAlertStartDate)
	startDue := f.notification(f.userParis.ID, wpStart.ID, domain.ReasonDateAlertDueDate)
	dueStart := f.notification(f.userParis.ID, wpDue.ID, domain.ReasonDateAlertStartDate)
	dueDue := f.notification(f.userParis.ID, wpDue.ID, domain.ReasonDateAlertDueDate)

	f.runDefault()

	if !f.isRead(startStart.ID) {
		t.Fatal("start alert of start work package should be read")
	}
	if f.isRead(startDue.ID) {
		t.Fatal("due alert of start work package should stay unread")
	}
	if f.isRead(dueStart.ID) {
		t.Fatal("start alert of due work package should stay unread")
	}
	if !f.isRead(dueDue.ID) {
		t.Fatal("due alert of due work package should be read")
	}
}

func TestRunScheduledVersusExecutedTime(t *testing.T) {
	tests := []struct {
		name                string
		scheduled, executed [2]int
		want                bool
	}{
		{"scheduled and executed at 01:00", [2]int{1, 0}, [2]int{1, 0}, true},
		{"scheduled and executed at 01:14", [2]int{1, 14}, [2]int{1, 14}, true},
		{"scheduled and executed at 01:15", [2]int{1, 15}, [2]int{1, 15}, false},
		{"scheduled at 01:00 executed at 01:37", [2]int{1, 0}, [2]int{1, 37}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			wp := f.workPackage(nil)
			f.run(f.paris, tt.scheduled, tt.executed)
			if got := f.hasAlert(f.userParis, wp, domain.ReasonDateAlertStartDate); got != tt.want {
				t.Fatalf("alert = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	wp := f.workPackage(nil)

	first := f.runDefault()
	second := f.runDefault()

	if first.Created != 1 || second.Created != 0 || second.Duplicates != 1 {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	ns, _ := f.st.ListNotifications(f.ctx, storageUnread(f.userParis.ID, wp.ID))
	if len(ns) != 1 {
		t.Fatalf("unread notifications = %d, want 1", len(ns))
	}
}

func TestRunPublishesAlertCreated(t *testing.T) {
	f := newFixture(t)
	ch, unsub := f.bus.Subscribe(4, eventbus.TypeAlertCreated)
	defer unsub()
	wp := f.workPackage(nil)

	f.runDefault()

	select {
	case e := <-ch:
		ev, ok := e.Data.(AlertEvent)
		if !ok {
			t.Fatalf("data = %T, want AlertEvent", e.Data)
		}
		if ev.ResourceID != wp.ID || ev.ChatID != 1001 || ev.Reason != domain.ReasonDateAlertStartDate {
			t.Fatalf("event = %+v", ev)
		}
		if !ev.AlertDate.Equal(f.today) || !ev.Date.Equal(f.inDays(1)) {
			t.Fatalf("dates = %s / %s", ev.AlertDate, ev.Date)
		}
	case <-time.After(time.Second):
		t.Fatal("no alert.created event")
	}
}

func TestRunIsolatesBrokenTimeZone(t *testing.T) {
	f := newFixture(t)
	broken := f.mustUser(f.st.CreateUser(f.ctx, domain.User{Login: "broken", TimeZone: "Nowhere/Void"}))
	f.workPackage(func(wp *domain.WorkPackage) { wp.AssignedToID = broken.ID })
	wp := f.workPackage(nil)

	rep := f.runDefault()

	if rep.Failures != 1 {
		t.Fatalf("failures = %d, want 1", rep.Failures)
	}
	if !f.hasAlert(f.userParis, wp, domain.ReasonDateAlertStartDate) {
		t.Fatal("other users must still be processed")
	}
}

type failingStore struct {
	Store
	err error
}

func (s failingStore) ListAlertRecipients(context.Context) ([]domain.User, error) {
	return nil, s.err
}

func TestRunFailsWhenRecipientsCannotBeListed(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	svc := NewService(Config{}, failingStore{Store: f.st, err: boom}, f.features, nil, logx.Nop())

	_, err := svc.Run(f.ctx, RunInput{ScheduledAt: time.Now(), Now: time.Now()})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
