package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"datealerts/internal/domain"
)

func (s *SQLiteStore) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	if s == nil || s.db == nil {
		return p, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO projects(id, name) VALUES(?, ?)`, nullID(p.ID), p.Name)
	if err != nil {
		return p, fmt.Errorf("insert project: %w", err)
	}
	if p.ID == 0 {
		p.ID, _ = res.LastInsertId()
	}
	return p, nil
}

func (s *SQLiteStore) CreateStatus(ctx context.Context, st domain.Status) (domain.Status, error) {
	if s == nil || s.db == nil {
		return st, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO statuses(id, name, is_closed) VALUES(?, ?, ?)`,
		nullID(st.ID), st.Name, boolToInt(st.IsClosed))
	if err != nil {
		return st, fmt.Errorf("insert status: %w", err)
	}
	if st.ID == 0 {
		st.ID, _ = res.LastInsertId()
	}
	return st, nil
}

// CreateUser inserts the user together with the default global notification
// setting (start and due date alerts one day before).
func (s *SQLiteStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users(id, login, firstname, time_zone, telegram_chat_id) VALUES(?, ?, ?, ?, ?)`,
			nullID(u.ID), u.Login, u.Firstname, u.TimeZone, nullID(u.TelegramChatID))
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if u.ID == 0 {
			u.ID, _ = res.LastInsertId()
		}
		def := domain.DefaultGlobalSetting(u.ID)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO notification_settings(user_id, project_id, start_date, due_date) VALUES(?, NULL, ?, ?)`,
			u.ID, nullOffset(def.StartDate), nullOffset(def.DueDate))
		if err != nil {
			return fmt.Errorf("insert default setting: %w", err)
		}
		return nil
	})
	return u, err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	if s == nil || s.db == nil {
		return domain.User{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, login, firstname, time_zone, telegram_chat_id FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (domain.User, error) {
	var (
		u    domain.User
		chat sql.NullInt64
	)
	if err := r.Scan(&u.ID, &u.Login, &u.Firstname, &u.TimeZone, &chat); err != nil {
		return domain.User{}, err
	}
	u.TelegramChatID = chat.Int64
	return u, nil
}

// UpsertNotificationSetting replaces the user's row for the setting's scope
// (global when ProjectID is 0).
func (s *SQLiteStore) UpsertNotificationSetting(ctx context.Context, ns domain.NotificationSetting) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE notification_settings SET start_date = ?, due_date = ?
			 WHERE user_id = ? AND project_id IS ?`,
			nullOffset(ns.StartDate), nullOffset(ns.DueDate), ns.UserID, nullID(ns.ProjectID))
		if err != nil {
			return fmt.Errorf("update setting: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO notification_settings(user_id, project_id, start_date, due_date) VALUES(?, ?, ?, ?)`,
			ns.UserID, nullID(ns.ProjectID), nullOffset(ns.StartDate), nullOffset(ns.DueDate))
		if err != nil {
			return fmt.Errorf("insert setting: %w", err)
		}
		return nil
	})
}

// ListNotificationSettings returns the global row (if any) first, then
// project rows by project id.
func (s *SQLiteStore) ListNotificationSettings(ctx context.Context, userID int64) ([]domain.NotificationSetting, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, project_id, start_date, due_date
		FROM notification_settings
		WHERE user_id = ?
		ORDER BY project_id IS NOT NULL, project_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.NotificationSetting
	for rows.Next() {
		var (
			ns         domain.NotificationSetting
			project    sql.NullInt64
			start, due sql.NullInt64
		)
		if err := rows.Scan(&ns.UserID, &project, &start, &due); err != nil {
			return nil, err
		}
		ns.ProjectID = project.Int64
		ns.StartDate = fromNullOffset(start)
		ns.DueDate = fromNullOffset(due)
		out = append(out, ns)
	}
	return out, rows.Err()
}

// ListAlertRecipients returns users with at least one enabled date offset in
// any of their settings, ordered by id.
func (s *SQLiteStore) ListAlertRecipients(ctx context.Context) ([]domain.User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.login, u.firstname, u.time_zone, u.telegram_chat_id
		FROM users u
		WHERE EXISTS (
			SELECT 1 FROM notification_settings ns
			WHERE ns.user_id = u.id
			  AND (ns.start_date IS NOT NULL OR ns.due_date IS NOT NULL)
		)
		ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateWorkPackage(ctx context.Context, wp domain.WorkPackage) (domain.WorkPackage, error) {
	if s == nil || s.db == nil {
		return wp, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO work_packages(id, project_id, subject, status_id, start_date, due_date, assigned_to_id, responsible_id)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		nullID(wp.ID), wp.ProjectID, wp.Subject, wp.StatusID,
		nullStr(wp.StartDate.String()), nullStr(wp.DueDate.String()),
		nullID(wp.AssignedToID), nullID(wp.ResponsibleID))
	if err != nil {
		return wp, fmt.Errorf("insert work package: %w", err)
	}
	if wp.ID == 0 {
		wp.ID, _ = res.LastInsertId()
	}
	return wp, nil
}

// ListAlertableWorkPackages returns open work packages with a start or due
// date where the user is assignee or responsible.
func (s *SQLiteStore) ListAlertableWorkPackages(ctx context.Context, userID int64) ([]domain.WorkPackage, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT wp.id, wp.project_id, wp.subject, wp.status_id, st.is_closed,
		       wp.start_date, wp.due_date, wp.assigned_to_id, wp.responsible_id
		FROM work_packages wp
		JOIN statuses st ON st.id = wp.status_id
		WHERE st.is_closed = 0
		  AND (wp.start_date IS NOT NULL OR wp.due_date IS NOT NULL)
		  AND (wp.assigned_to_id = ? OR wp.responsible_id = ?)
		ORDER BY wp.id`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorkPackage
	for rows.Next() {
		var (
			wp                    domain.WorkPackage
			closed                int
			start, due            sql.NullString
			assigned, responsible sql.NullInt64
		)
		if err := rows.Scan(&wp.ID, &wp.ProjectID, &wp.Subject, &wp.StatusID, &closed,
			&start, &due, &assigned, &responsible); err != nil {
			return nil, err
		}
		wp.Closed = closed != 0
		if wp.StartDate, err = scanDate(start); err != nil {
			return nil, fmt.Errorf("work package %d: %w", wp.ID, err)
		}
		if wp.DueDate, err = scanDate(due); err != nil {
			return nil, fmt.Errorf("work package %d: %w", wp.ID, err)
		}
		wp.AssignedToID = assigned.Int64
		wp.ResponsibleID = responsible.Int64
		out = append(out, wp)
	}
	return out, rows.Err()
}

func scanDate(v sql.NullString) (domain.Date, error) {
	if !v.Valid || v.String == "" {
		return domain.Date{}, nil
	}
	return domain.ParseDate(v.String)
}
