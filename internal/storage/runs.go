package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"datealerts/internal/domain"
)

// EnsureScheduledRun creates the job's record with runAt when none exists and
// returns the persisted record either way.
func (s *SQLiteStore) EnsureScheduledRun(ctx context.Context, job string, runAt time.Time) (domain.ScheduledRun, error) {
	if s == nil || s.db == nil {
		return domain.ScheduledRun{}, ErrDisabled
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_runs(job, run_at, updated_at) VALUES(?, ?, ?) ON CONFLICT(job) DO NOTHING`,
		job, runAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return domain.ScheduledRun{}, fmt.Errorf("ensure scheduled run: %w", err)
	}
	return s.GetScheduledRun(ctx, job)
}

func (s *SQLiteStore) GetScheduledRun(ctx context.Context, job string) (domain.ScheduledRun, error) {
	if s == nil || s.db == nil {
		return domain.ScheduledRun{}, ErrDisabled
	}
	var runAt, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT run_at, updated_at FROM scheduled_runs WHERE job = ?`, job).Scan(&runAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledRun{}, ErrNotFound
	}
	if err != nil {
		return domain.ScheduledRun{}, err
	}
	return domain.ScheduledRun{Job: job, RunAt: time.UnixMilli(runAt), UpdatedAt: time.UnixMilli(updated)}, nil
}

// AdvanceScheduledRun moves the job's run_at from expected to next and
// stores rec (when non-nil) in one transaction. If run_at no longer equals
// expected, nothing is written and ErrRunAdvanced is returned.
func (s *SQLiteStore) AdvanceScheduledRun(ctx context.Context, job string, expected, next time.Time, rec *RunRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE scheduled_runs SET run_at = ?, updated_at = ? WHERE job = ? AND run_at = ?`,
			next.UnixMilli(), time.Now().UnixMilli(), job, expected.UnixMilli())
		if err != nil {
			return fmt.Errorf("advance scheduled run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRunAdvanced
		}
		if rec == nil {
			return nil
		}
		return insertRunRecord(ctx, tx, *rec)
	})
}

func insertRunRecord(ctx context.Context, tx *sql.Tx, r RunRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO alert_runs(id, job, scheduled_at, started_at, finished_at, slots, eligible,
		                       created, marked_read, duplicates, failures, skipped, err)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Job, r.ScheduledAt.UnixMilli(), r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
		r.Slots, r.Eligible, r.Created, r.MarkedRead, r.Duplicates, r.Failures,
		boolToInt(r.Skipped), nullStr(r.Error))
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// ListRunRecords returns the most recent runs first.
func (s *SQLiteStore) ListRunRecords(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job, scheduled_at, started_at, finished_at, slots, eligible,
		       created, marked_read, duplicates, failures, skipped, err
		FROM alert_runs
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                            RunRecord
			scheduled, started, finished int64
			skipped                      int
			errStr                       sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Job, &scheduled, &started, &finished, &r.Slots, &r.Eligible,
			&r.Created, &r.MarkedRead, &r.Duplicates, &r.Failures, &skipped, &errStr); err != nil {
			return nil, err
		}
		r.ScheduledAt = time.UnixMilli(scheduled)
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		r.Skipped = skipped != 0
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkDelivered records that a notification went out on channel. It returns
// false when it was already recorded, so callers can skip resending.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, notificationID int64, channel string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(notification_id, channel, delivered_at) VALUES(?, ?, ?) ON CONFLICT DO NOTHING`,
		notificationID, channel, at.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsDelivered reports whether notificationID was recorded for channel.
func (s *SQLiteStore) IsDelivered(ctx context.Context, notificationID int64, channel string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM deliveries WHERE notification_id = ? AND channel = ?`, notificationID, channel).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
