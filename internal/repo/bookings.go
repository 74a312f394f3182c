package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"bookline/internal/domain"
)

// Window is a half-open [Start, End) interval used for conflict queries.
type Window struct {
	Start time.Time
	End   time.Time
}

// ConflictingBooking is a confirmed booking that overlaps a probed window,
// joined with display names so callers can report it verbatim.
type ConflictingBooking struct {
	BookingID    string    `json:"booking_id"`
	ResourceID   string    `json:"resource_id"`
	ResourceName string    `json:"resource_name"`
	TaskID       string    `json:"task_id"`
	TaskTitle    string    `json:"task_title"`
	StartTime    time.Time `json:"start_time" format:"date-time"`
	EndTime      time.Time `json:"end_time" format:"date-time"`
}

func (r Repo) InsertBookings(ctx context.Context, tx *sql.Tx, bookings []domain.ResourceBooking) error {
	for _, b := range bookings {
		if _, err := tx.ExecContext(ctx, `INSERT INTO resource_bookings(id,org_id,resource_id,task_id,start_time,end_time,status,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
			b.ID, b.OrgID, b.ResourceID, b.TaskID, fmtTime(b.StartTime), fmtTime(b.EndTime), b.Status, b.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) DeleteBookingsForTask(ctx context.Context, tx *sql.Tx, taskID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM resource_bookings WHERE task_id=?`, taskID)
	return err
}

// FindConflicting returns confirmed bookings on any of the given resources
// that overlap any of the probed windows. Overlap is strict: a booking
// ending exactly when a window starts does not conflict. excludeTaskID
// drops a task's own bookings so updates do not collide with themselves.
func (r Repo) FindConflicting(ctx context.Context, orgID string, resourceIDs []string, windows []Window, excludeTaskID string) ([]ConflictingBooking, error) {
	return r.findConflicting(ctx, r.DB, orgID, resourceIDs, windows, excludeTaskID)
}

func (r Repo) FindConflictingTx(ctx context.Context, tx *sql.Tx, orgID string, resourceIDs []string, windows []Window, excludeTaskID string) ([]ConflictingBooking, error) {
	return r.findConflicting(ctx, tx, orgID, resourceIDs, windows, excludeTaskID)
}

func (r Repo) findConflicting(ctx context.Context, q dbtx, orgID string, resourceIDs []string, windows []Window, excludeTaskID string) ([]ConflictingBooking, error) {
	if len(resourceIDs) == 0 || len(windows) == 0 {
		return nil, nil
	}
	var args []any
	args = append(args, orgID)
	resPlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(resourceIDs)), ",")
	for _, id := range resourceIDs {
		args = append(args, id)
	}
	winClauses := make([]string, len(windows))
	for i, w := range windows {
		winClauses[i] = "(b.start_time < ? AND b.end_time > ?)"
		args = append(args, fmtTime(w.End), fmtTime(w.Start))
	}
	query := `SELECT b.id, b.resource_id, COALESCE(r.display_name,''), b.task_id, COALESCE(t.title,''), b.start_time, b.end_time
FROM resource_bookings b
JOIN resources r ON r.id = b.resource_id
LEFT JOIN tasks t ON t.id = b.task_id
WHERE b.org_id=? AND b.status='confirmed'
  AND b.resource_id IN (` + resPlaceholders + `)
  AND (` + strings.Join(winClauses, " OR ") + `)`
	if excludeTaskID != "" {
		query += " AND b.task_id != ?"
		args = append(args, excludeTaskID)
	}
	query += " ORDER BY b.start_time, b.id"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ConflictingBooking
	for rows.Next() {
		var c ConflictingBooking
		var start, end string
		if err := rows.Scan(&c.BookingID, &c.ResourceID, &c.ResourceName, &c.TaskID, &c.TaskTitle, &start, &end); err != nil {
			return nil, err
		}
		c.StartTime = parseTime(start)
		c.EndTime = parseTime(end)
		res = append(res, c)
	}
	return res, rows.Err()
}

type BookingFilters struct {
	OrgID      string
	TaskID     string
	ResourceID string
	From       *time.Time
	To         *time.Time
}

func (r Repo) ListBookings(ctx context.Context, f BookingFilters) ([]domain.ResourceBooking, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.ResourceID != "" {
		clauses = append(clauses, "resource_id=?")
		args = append(args, f.ResourceID)
	}
	if f.From != nil {
		clauses = append(clauses, "end_time > ?")
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "start_time < ?")
		args = append(args, fmtTime(*f.To))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,resource_id,task_id,start_time,end_time,status,created_at FROM resource_bookings `+where+` ORDER BY start_time, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResourceBooking
	for rows.Next() {
		var b domain.ResourceBooking
		var start, end string
		if err := rows.Scan(&b.ID, &b.OrgID, &b.ResourceID, &b.TaskID, &start, &end, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.StartTime = parseTime(start)
		b.EndTime = parseTime(end)
		res = append(res, b)
	}
	return res, rows.Err()
}
