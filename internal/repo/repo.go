package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// dbtx is satisfied by both *sql.DB and *sql.Tx so reads can run inside or
// outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- organizations, users, teams (reference data) ---

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO organizations(id,name,created_at) VALUES (?,?,?)
ON CONFLICT(id) DO NOTHING`, id, name, now)
	return err
}

func (r Repo) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	var o domain.Organization
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM organizations WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,org_id,first_name,last_name,email) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`, u.ID, u.OrgID, u.FirstName, u.LastName, nullable(u.Email))
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var email sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,first_name,last_name,email FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.OrgID, &u.FirstName, &u.LastName, &email)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if email.Valid {
		u.Email = email.String
	}
	return u, err
}

func (r Repo) InsertTeam(ctx context.Context, t domain.Team) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO teams(id,org_id,name) VALUES (?,?,?)`, t.ID, t.OrgID, t.Name)
	return err
}

// --- tasks ---

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,org_id,created_by,title,notes,priority,status,start_time,end_time,timezone,repeat_frequency,task_period,is_recurring_root,is_recurring_instance,root_task_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrgID, t.CreatedBy, t.Title, nullable(t.Notes), t.Priority, t.Status,
		fmtTime(t.Schedule.Start), fmtTime(t.Schedule.End), t.Schedule.Timezone,
		t.RepeatFrequency, nullableTime(t.TaskPeriod),
		boolToInt(t.IsRecurringRoot), boolToInt(t.IsRecurringInstance), nullableStringPtr(t.RootTaskID),
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, notes=?, priority=?, status=?, start_time=?, end_time=?, timezone=?, repeat_frequency=?, task_period=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Notes), t.Priority, t.Status,
		fmtTime(t.Schedule.Start), fmtTime(t.Schedule.End), t.Schedule.Timezone,
		t.RepeatFrequency, nullableTime(t.TaskPeriod), t.UpdatedAt, t.ID)
	return err
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveDependencyRefs pulls a deleted task out of every other task's
// dependency list.
func (r Repo) RemoveDependencyRefs(ctx context.Context, tx *sql.Tx, taskID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE depends_on_task_id=?`, taskID)
	return err
}

const taskColumns = `id,org_id,created_by,title,notes,priority,status,start_time,end_time,timezone,repeat_frequency,task_period,is_recurring_root,is_recurring_instance,root_task_id,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var notes, taskPeriod, rootTaskID sql.NullString
	var start, end string
	var isRoot, isInstance int
	err := scan(&t.ID, &t.OrgID, &t.CreatedBy, &t.Title, &notes, &t.Priority, &t.Status,
		&start, &end, &t.Schedule.Timezone, &t.RepeatFrequency, &taskPeriod,
		&isRoot, &isInstance, &rootTaskID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Schedule.Start = parseTime(start)
	t.Schedule.End = parseTime(end)
	if notes.Valid {
		t.Notes = notes.String
	}
	if taskPeriod.Valid {
		p := parseTime(taskPeriod.String)
		t.TaskPeriod = &p
	}
	if rootTaskID.Valid {
		t.RootTaskID = &rootTaskID.String
	}
	t.IsRecurringRoot = isRoot != 0
	t.IsRecurringInstance = isInstance != 0
	return t, nil
}

// GetTask returns the bare task row with its plan lists (no populated
// references). Use GetTaskPopulated for the full read.
func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

func (r Repo) getTask(ctx context.Context, q dbtx, id string) (domain.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if err := r.loadPlan(ctx, q, &t); err != nil {
		return t, err
	}
	return t, nil
}

// GetTaskPopulated follows plan references and inlines resource/type, user,
// team and dependency summaries plus the task's logs.
func (r Repo) GetTaskPopulated(ctx context.Context, id string) (domain.Task, error) {
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	if err := r.populate(ctx, r.DB, &t); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) GetTaskPopulatedTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := r.getTask(ctx, tx, id)
	if err != nil {
		return t, err
	}
	if err := r.populate(ctx, tx, &t); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) loadPlan(ctx context.Context, q dbtx, t *domain.Task) error {
	rows, err := q.QueryContext(ctx, `SELECT resource_id,relationship_type,required,quantity FROM task_resources WHERE task_id=?`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	t.Resources = nil
	for rows.Next() {
		var tr domain.TaskResource
		var required int
		if err := rows.Scan(&tr.ResourceID, &tr.RelationshipType, &required, &tr.Quantity); err != nil {
			return err
		}
		tr.Required = required != 0
		t.Resources = append(t.Resources, tr)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	arows, err := q.QueryContext(ctx, `SELECT user_id,team_id,role FROM task_assignments WHERE task_id=?`, t.ID)
	if err != nil {
		return err
	}
	defer arows.Close()
	t.Assignments = nil
	for arows.Next() {
		var a domain.Assignment
		var teamID sql.NullString
		if err := arows.Scan(&a.UserID, &teamID, &a.Role); err != nil {
			return err
		}
		if teamID.Valid {
			a.TeamID = teamID.String
		}
		t.Assignments = append(t.Assignments, a)
	}
	if err := arows.Err(); err != nil {
		return err
	}

	drows, err := q.QueryContext(ctx, `SELECT depends_on_task_id FROM task_deps WHERE task_id=?`, t.ID)
	if err != nil {
		return err
	}
	defer drows.Close()
	t.Dependencies = nil
	for drows.Next() {
		var d domain.Dependency
		if err := drows.Scan(&d.TaskID); err != nil {
			return err
		}
		t.Dependencies = append(t.Dependencies, d)
	}
	return drows.Err()
}

func (r Repo) populate(ctx context.Context, q dbtx, t *domain.Task) error {
	rows, err := q.QueryContext(ctx, `SELECT tr.resource_id, tr.relationship_type, tr.required, tr.quantity,
       r.org_id, r.type_id, r.display_name, r.is_blockable_override, COALESCE(r.status,''),
       rt.name, COALESCE(rt.description,''), rt.is_blockable
FROM task_resources tr
JOIN resources r ON r.id = tr.resource_id
JOIN resource_types rt ON rt.id = r.type_id
WHERE tr.task_id=?`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	t.Resources = nil
	for rows.Next() {
		var tr domain.TaskResource
		var required int
		var res domain.Resource
		var rt domain.ResourceType
		var override sql.NullInt64
		if err := rows.Scan(&tr.ResourceID, &tr.RelationshipType, &required, &tr.Quantity,
			&res.OrgID, &res.TypeID, &res.DisplayName, &override, &res.Status,
			&rt.Name, &rt.Description, &rt.IsBlockable); err != nil {
			return err
		}
		tr.Required = required != 0
		res.ID = tr.ResourceID
		rt.ID = res.TypeID
		rt.OrgID = res.OrgID
		if override.Valid {
			b := override.Int64 != 0
			res.IsBlockableOverride = &b
		}
		res.Type = &rt
		tr.Resource = &res
		t.Resources = append(t.Resources, tr)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	arows, err := q.QueryContext(ctx, `SELECT ta.user_id, ta.team_id, ta.role,
       COALESCE(u.first_name,''), COALESCE(u.last_name,''), COALESCE(u.email,''),
       COALESCE(tm.name,'')
FROM task_assignments ta
LEFT JOIN users u ON u.id = ta.user_id
LEFT JOIN teams tm ON tm.id = ta.team_id
WHERE ta.task_id=?`, t.ID)
	if err != nil {
		return err
	}
	defer arows.Close()
	t.Assignments = nil
	for arows.Next() {
		var a domain.Assignment
		var teamID sql.NullString
		var first, last, email, teamName string
		if err := arows.Scan(&a.UserID, &teamID, &a.Role, &first, &last, &email, &teamName); err != nil {
			return err
		}
		a.User = &domain.User{ID: a.UserID, OrgID: t.OrgID, FirstName: first, LastName: last, Email: email}
		if teamID.Valid {
			a.TeamID = teamID.String
			a.Team = &domain.Team{ID: a.TeamID, OrgID: t.OrgID, Name: teamName}
		}
		t.Assignments = append(t.Assignments, a)
	}
	if err := arows.Err(); err != nil {
		return err
	}

	drows, err := q.QueryContext(ctx, `SELECT td.depends_on_task_id, COALESCE(dt.title,''), COALESCE(dt.status,'')
FROM task_deps td
LEFT JOIN tasks dt ON dt.id = td.depends_on_task_id
WHERE td.task_id=?`, t.ID)
	if err != nil {
		return err
	}
	defer drows.Close()
	t.Dependencies = nil
	for drows.Next() {
		var d domain.Dependency
		if err := drows.Scan(&d.TaskID, &d.Title, &d.Status); err != nil {
			return err
		}
		t.Dependencies = append(t.Dependencies, d)
	}
	if err := drows.Err(); err != nil {
		return err
	}

	timeLogs, err := r.listTimeLogs(ctx, q, t.ID)
	if err != nil {
		return err
	}
	t.TimeLogs = timeLogs
	resourceLogs, err := r.listResourceLogs(ctx, q, t.ID)
	if err != nil {
		return err
	}
	t.ResourceLogs = resourceLogs
	return nil
}

// ReplaceTaskResources rewrites the planned-resource list for a task.
func (r Repo) ReplaceTaskResources(ctx context.Context, tx *sql.Tx, taskID string, resources []domain.TaskResource) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_resources WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, res := range resources {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_resources(task_id,resource_id,relationship_type,required,quantity) VALUES (?,?,?,?,?)`,
			taskID, res.ResourceID, res.RelationshipType, boolToInt(res.Required), res.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceAssignments rewrites the planned-labor list for a task.
func (r Repo) ReplaceAssignments(ctx context.Context, tx *sql.Tx, taskID string, assignments []domain.Assignment) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignments WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, a := range assignments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_assignments(task_id,user_id,team_id,role) VALUES (?,?,?,?)`,
			taskID, a.UserID, nullable(a.TeamID), a.Role); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceDependencies rewrites the dependency list for a task.
func (r Repo) ReplaceDependencies(ctx context.Context, tx *sql.Tx, taskID string, deps []domain.Dependency) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id,depends_on_task_id) VALUES (?,?)`,
			taskID, d.TaskID); err != nil {
			return err
		}
	}
	return nil
}

type TaskFilters struct {
	OrgID           string
	Status          string
	AssigneeID      string
	ResourceID      string
	From            *time.Time
	To              *time.Time
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListTasks returns populated tasks matching the filters, newest first,
// with created_at+id cursor pagination.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "id IN (SELECT task_id FROM task_assignments WHERE user_id=?)")
		args = append(args, f.AssigneeID)
	}
	if f.ResourceID != "" {
		clauses = append(clauses, "id IN (SELECT task_id FROM task_resources WHERE resource_id=?)")
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
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if err := r.populate(ctx, r.DB, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// CompletedTasks returns done tasks for an organization with their logs,
// most recently finished first. Used by the reporting surface.
func (r Repo) CompletedTasks(ctx context.Context, orgID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE org_id=? AND status='done' ORDER BY end_time DESC, id DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if err := r.populate(ctx, r.DB, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE org_id=? GROUP BY status`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// LatestEvents returns recent audit events, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, orgID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if orgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, orgID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,org_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var orgID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &orgID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if orgID.Valid {
			e.OrgID = orgID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
