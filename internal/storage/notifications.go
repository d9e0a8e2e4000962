package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"datealerts/internal/domain"
)

// CreateNotification inserts a notification as is. It does not reconcile
// read state; date alerts go through CreateDateAlert.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if s == nil || s.db == nil {
		return n, ErrDisabled
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications(recipient_id, resource_id, reason, read_ian, alert_date, created_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		n.RecipientID, n.ResourceID, string(n.Reason), boolToInt(n.Read),
		nullStr(n.AlertDate.String()), formatTime(n.CreatedAt))
	if err != nil {
		return n, fmt.Errorf("insert notification: %w", err)
	}
	n.ID, _ = res.LastInsertId()
	return n, nil
}

// CreateDateAlert creates one unread date alert and, in the same
// transaction, marks every other unread notification of the same recipient,
// resource and reason read.
//
// When an alert for the same date already exists nothing changes and the
// result has Created=false.
func (s *SQLiteStore) CreateDateAlert(ctx context.Context, a domain.DateAlert) (domain.AlertResult, error) {
	var out domain.AlertResult
	if !a.Reason.IsDateAlert() {
		return out, fmt.Errorf("create date alert: unsupported reason %q", a.Reason)
	}
	if a.AlertDate.IsZero() {
		return out, errors.New("create date alert: alert date is required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO notifications(recipient_id, resource_id, reason, read_ian, alert_date, created_at)
			VALUES(?, ?, ?, 0, ?, ?)
			ON CONFLICT DO NOTHING`,
			a.RecipientID, a.ResourceID, string(a.Reason), a.AlertDate.String(), formatTime(a.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert date alert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return tx.QueryRowContext(ctx, `
				SELECT id FROM notifications
				WHERE recipient_id = ? AND resource_id = ? AND reason = ? AND alert_date = ?`,
				a.RecipientID, a.ResourceID, string(a.Reason), a.AlertDate.String(),
			).Scan(&out.NotificationID)
		}
		out.Created = true
		out.NotificationID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		upd, err := tx.ExecContext(ctx, `
			UPDATE notifications SET read_ian = 1
			WHERE recipient_id = ? AND resource_id = ? AND reason = ?
			  AND read_ian = 0 AND id <> ?`,
			a.RecipientID, a.ResourceID, string(a.Reason), out.NotificationID)
		if err != nil {
			return fmt.Errorf("mark superseded read: %w", err)
		}
		n, _ := upd.RowsAffected()
		out.MarkedRead = int(n)
		return nil
	})
	if err != nil {
		return domain.AlertResult{}, err
	}
	return out, nil
}

// MarkRead flips a notification to read. It is the only mutation a
// notification accepts.
func (s *SQLiteStore) MarkRead(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read_ian = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM notifications WHERE id = ?`, id).Scan(&one); errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
	}
	return nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, f NotificationFilter) ([]domain.Notification, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var (
		where []string
		args  []any
	)
	if f.RecipientID != 0 {
		where = append(where, "recipient_id = ?")
		args = append(args, f.RecipientID)
	}
	if f.ResourceID != 0 {
		where = append(where, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.Reason != "" {
		where = append(where, "reason = ?")
		args = append(args, f.Reason)
	}
	if f.UnreadOnly {
		where = append(where, "read_ian = 0")
	}
	q := `SELECT id, recipient_id, resource_id, reason, read_ian, alert_date, created_at FROM notifications`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n         domain.Notification
			reason    string
			read      int
			alertDate sql.NullString
			created   string
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.ResourceID, &reason, &read, &alertDate, &created); err != nil {
			return nil, err
		}
		n.Reason = domain.Reason(reason)
		n.Read = read != 0
		if n.AlertDate, err = scanDate(alertDate); err != nil {
			return nil, fmt.Errorf("notification %d: %w", n.ID, err)
		}
		n.CreatedAt = parseTime(created)
		out = append(out, n)
	}
	return out, rows.Err()
}
