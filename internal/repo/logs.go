package repo

import (
	"context"
	"database/sql"

	"bookline/internal/domain"
)

func (r Repo) InsertTimeLogs(ctx context.Context, tx *sql.Tx, logs []domain.TimeLog) error {
	for _, l := range logs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO time_logs(id,task_id,user_id,start_time,end_time,duration_minutes,is_billable,notes,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
			l.ID, l.TaskID, l.UserID, fmtTime(l.StartTime), fmtTime(l.EndTime), l.DurationMinutes, boolToInt(l.IsBillable), nullable(l.Notes), l.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) InsertResourceLogs(ctx context.Context, tx *sql.Tx, logs []domain.ResourceLog) error {
	for _, l := range logs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO resource_logs(id,task_id,resource_id,action,quantity,logged_by,created_at)
VALUES (?,?,?,?,?,?,?)`,
			l.ID, l.TaskID, l.ResourceID, l.Action, l.Quantity, l.LoggedBy, l.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListTimeLogs(ctx context.Context, taskID string) ([]domain.TimeLog, error) {
	return r.listTimeLogs(ctx, r.DB, taskID)
}

func (r Repo) listTimeLogs(ctx context.Context, q dbtx, taskID string) ([]domain.TimeLog, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,task_id,user_id,start_time,end_time,duration_minutes,is_billable,COALESCE(notes,''),created_at FROM time_logs WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeLog
	for rows.Next() {
		var l domain.TimeLog
		var start, end string
		var billable int
		if err := rows.Scan(&l.ID, &l.TaskID, &l.UserID, &start, &end, &l.DurationMinutes, &billable, &l.Notes, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.StartTime = parseTime(start)
		l.EndTime = parseTime(end)
		l.IsBillable = billable != 0
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) ListResourceLogs(ctx context.Context, taskID string) ([]domain.ResourceLog, error) {
	return r.listResourceLogs(ctx, r.DB, taskID)
}

func (r Repo) listResourceLogs(ctx context.Context, q dbtx, taskID string) ([]domain.ResourceLog, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,task_id,resource_id,action,quantity,logged_by,created_at FROM resource_logs WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResourceLog
	for rows.Next() {
		var l domain.ResourceLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.ResourceID, &l.Action, &l.Quantity, &l.LoggedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
