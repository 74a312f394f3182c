package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bookline/internal/config"
	"bookline/internal/domain"
	"bookline/internal/events"
	"bookline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// TaskCreateOptions are parameters for creating a task or a recurring series.
type TaskCreateOptions struct {
	ID              string
	OrgID           string
	CreatedBy       string
	Title           string
	Notes           string
	Priority        string
	Status          string
	Start           time.Time
	End             time.Time
	Timezone        string
	Resources       []domain.TaskResource
	Assignments     []domain.Assignment
	DependsOn       []string
	RepeatFrequency string
	TaskPeriod      *time.Time
	ActorID         string
}

var validRelationships = map[string]bool{
	"requires": true, "uses": true, "produces": true, "consumes": true,
}

func (e Engine) validateCreate(opts *TaskCreateOptions) error {
	if opts.OrgID == "" {
		return validationf("organization is required")
	}
	if opts.Title == "" {
		return validationf("title is required")
	}
	if opts.Start.IsZero() || opts.End.IsZero() {
		return validationf("schedule start and end are required")
	}
	if !opts.Start.Before(opts.End) {
		return validationf("schedule start must be before end")
	}
	if opts.Status == "" {
		opts.Status = "pending"
	}
	if !domain.ValidStatuses[opts.Status] {
		return validationf("unknown status %q", opts.Status)
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if opts.Timezone == "" {
		opts.Timezone = e.Config.Scheduling.DefaultTimezone
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	for i := range opts.Resources {
		r := &opts.Resources[i]
		if r.RelationshipType == "" {
			r.RelationshipType = "requires"
		}
		if !validRelationships[r.RelationshipType] {
			return validationf("unknown relationship type %q", r.RelationshipType)
		}
		if r.Quantity <= 0 {
			r.Quantity = 1
		}
	}
	for i := range opts.Assignments {
		if opts.Assignments[i].UserID == "" {
			return validationf("assignment without a user id")
		}
		if opts.Assignments[i].Role == "" {
			opts.Assignments[i].Role = "assignee"
		}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.CreatedBy == "" {
		opts.CreatedBy = opts.ActorID
	}
	if opts.CreatedBy == "" {
		return validationf("created_by is required")
	}
	return nil
}

func (e Engine) taskFromOptions(opts TaskCreateOptions, now string) domain.Task {
	return domain.Task{
		ID:        opts.ID,
		OrgID:     opts.OrgID,
		CreatedBy: opts.CreatedBy,
		Title:     opts.Title,
		Notes:     opts.Notes,
		Priority:  opts.Priority,
		Status:    opts.Status,
		Schedule: domain.Schedule{
			Start:    opts.Start.UTC(),
			End:      opts.End.UTC(),
			Timezone: opts.Timezone,
		},
		Resources:       opts.Resources,
		Assignments:     opts.Assignments,
		RepeatFrequency: opts.RepeatFrequency,
		TaskPeriod:      opts.TaskPeriod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CreateTask creates a single task: validate, resolve the blockable subset
// of its planned resources, reject on booking conflicts, persist the task
// and a ledger booking for every planned resource. One transaction. When
// the options carry a repeat frequency and a series horizon the whole
// recurring series is created instead and the root is returned.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.RepeatFrequency != "" && opts.TaskPeriod != nil {
		root, _, err := e.CreateRecurringSeries(ctx, opts)
		return root, err
	}
	if err := e.validateCreate(&opts); err != nil {
		return domain.Task{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	_, blockable, err := e.resolveBlockable(ctx, tx, opts.OrgID, opts.Resources)
	if err != nil {
		return domain.Task{}, err
	}
	window := repo.Window{Start: opts.Start, End: opts.End}
	if err := e.checkConflicts(ctx, tx, opts.OrgID, blockable, []repo.Window{window}, ""); err != nil {
		return domain.Task{}, err
	}

	t := e.taskFromOptions(opts, e.nowRFC3339())
	if err := e.persistTask(ctx, tx, t, opts.DependsOn); err != nil {
		return domain.Task{}, err
	}
	if err := e.syncBookings(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.create", t.OrgID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title, "status": t.Status,
	}); err != nil {
		return domain.Task{}, err
	}

	out, err := e.Repo.GetTaskPopulatedTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

// CreateRecurringSeries expands a recurring root into dated instances and
// commits root plus instances atomically: every window (root's and each
// instance's) passes the blockable-scoped conflict check before anything is
// persisted, so a conflict anywhere in the series leaves no orphaned root.
// An unrecognized frequency unit silently yields a root with no instances.
func (e Engine) CreateRecurringSeries(ctx context.Context, opts TaskCreateOptions) (domain.Task, []domain.Task, error) {
	if err := e.validateCreate(&opts); err != nil {
		return domain.Task{}, nil, err
	}
	if opts.RepeatFrequency == "" || opts.TaskPeriod == nil {
		return domain.Task{}, nil, validationf("recurring series needs repeat_frequency and task_period")
	}
	if count, _, ok := parseFrequency(opts.RepeatFrequency); ok && count < 1 {
		return domain.Task{}, nil, validationf("repeat interval must be at least 1, got %q", opts.RepeatFrequency)
	}

	duration := opts.End.Sub(opts.Start)
	starts, truncated := expandOccurrences(opts.Start, opts.RepeatFrequency, *opts.TaskPeriod, e.Config.Scheduling.MaxSeriesInstances)
	if truncated {
		return domain.Task{}, nil, validationf("series would exceed %d instances; shorten the horizon or raise scheduling.max_series_instances",
			e.Config.Scheduling.MaxSeriesInstances)
	}

	now := e.nowRFC3339()
	root := e.taskFromOptions(opts, now)
	root.IsRecurringRoot = true

	instances := make([]domain.Task, 0, len(starts))
	windows := []repo.Window{{Start: opts.Start, End: opts.End}}
	for _, s := range starts {
		inst := root
		inst.ID = uuid.NewString()
		inst.IsRecurringRoot = false
		inst.IsRecurringInstance = true
		inst.RootTaskID = &root.ID
		inst.RepeatFrequency = ""
		inst.TaskPeriod = nil
		inst.Schedule.Start = s.UTC()
		inst.Schedule.End = s.Add(duration).UTC()
		instances = append(instances, inst)
		windows = append(windows, repo.Window{Start: inst.Schedule.Start, End: inst.Schedule.End})
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, nil, err
	}
	defer tx.Rollback()

	_, blockable, err := e.resolveBlockable(ctx, tx, opts.OrgID, opts.Resources)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if err := e.checkConflicts(ctx, tx, opts.OrgID, blockable, windows, ""); err != nil {
		return domain.Task{}, nil, err
	}

	if err := e.persistTask(ctx, tx, root, opts.DependsOn); err != nil {
		return domain.Task{}, nil, err
	}
	if err := e.syncBookings(ctx, tx, root); err != nil {
		return domain.Task{}, nil, err
	}
	for _, inst := range instances {
		if err := e.persistTask(ctx, tx, inst, nil); err != nil {
			return domain.Task{}, nil, err
		}
		if err := e.syncBookings(ctx, tx, inst); err != nil {
			return domain.Task{}, nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.series.create", root.OrgID, "task", root.ID, opts.ActorID, events.EventPayload{
		"title": root.Title, "frequency": root.RepeatFrequency, "instances": len(instances),
	}); err != nil {
		return domain.Task{}, nil, err
	}

	out, err := e.Repo.GetTaskPopulatedTx(ctx, tx, root.ID)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, nil, err
	}
	return out, instances, nil
}

func (e Engine) persistTask(ctx context.Context, tx *sql.Tx, t domain.Task, dependsOn []string) error {
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if err := e.Repo.ReplaceTaskResources(ctx, tx, t.ID, t.Resources); err != nil {
		return fmt.Errorf("insert task resources: %w", err)
	}
	if err := e.Repo.ReplaceAssignments(ctx, tx, t.ID, t.Assignments); err != nil {
		return fmt.Errorf("insert assignments: %w", err)
	}
	deps := make([]domain.Dependency, 0, len(dependsOn))
	for _, id := range dependsOn {
		deps = append(deps, domain.Dependency{TaskID: id})
	}
	if err := e.Repo.ReplaceDependencies(ctx, tx, t.ID, deps); err != nil {
		return fmt.Errorf("insert dependencies: %w", err)
	}
	return nil
}

// TaskUpdateOptions patch a task. Nil pointers leave the field unchanged.
type TaskUpdateOptions struct {
	ID              string
	Title           *string
	Notes           *string
	Priority        *string
	Status          *string
	Start           *time.Time
	End             *time.Time
	Timezone        *string
	Resources       *[]domain.TaskResource
	Assignments     *[]domain.Assignment
	DependsOn       *[]string
	RepeatFrequency *string
	TaskPeriod      *time.Time
	ActorID         string
}

// UpdateTask patches a task in one transaction: re-checks booking conflicts
// when the schedule or the resource plan changes (excluding the task's own
// bookings, scoped to the blockable subset), generates completion time and
// resource logs on the transition into done, and resynchronizes the booking
// ledger when the window, the plan, or the active/inactive state moved.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	before, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}

	after := before
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Task{}, validationf("title is required")
		}
		after.Title = *opts.Title
	}
	if opts.Notes != nil {
		after.Notes = *opts.Notes
	}
	if opts.Priority != nil {
		after.Priority = *opts.Priority
	}
	if opts.Status != nil {
		if !domain.ValidStatuses[*opts.Status] {
			return domain.Task{}, validationf("unknown status %q", *opts.Status)
		}
		after.Status = *opts.Status
	}
	if opts.Start != nil {
		after.Schedule.Start = opts.Start.UTC()
	}
	if opts.End != nil {
		after.Schedule.End = opts.End.UTC()
	}
	if opts.Timezone != nil {
		after.Schedule.Timezone = *opts.Timezone
	}
	if opts.RepeatFrequency != nil {
		after.RepeatFrequency = *opts.RepeatFrequency
	}
	if opts.TaskPeriod != nil {
		after.TaskPeriod = opts.TaskPeriod
	}
	if !after.Schedule.Start.Before(after.Schedule.End) {
		return domain.Task{}, validationf("schedule start must be before end")
	}

	scheduleChanged := !after.Schedule.Start.Equal(before.Schedule.Start) ||
		!after.Schedule.End.Equal(before.Schedule.End)
	resourcesChanged := opts.Resources != nil
	if resourcesChanged {
		after.Resources = *opts.Resources
		for i := range after.Resources {
			r := &after.Resources[i]
			if r.RelationshipType == "" {
				r.RelationshipType = "requires"
			}
			if !validRelationships[r.RelationshipType] {
				return domain.Task{}, validationf("unknown relationship type %q", r.RelationshipType)
			}
			if r.Quantity <= 0 {
				r.Quantity = 1
			}
		}
	}
	if opts.Assignments != nil {
		after.Assignments = *opts.Assignments
		for i := range after.Assignments {
			if after.Assignments[i].UserID == "" {
				return domain.Task{}, validationf("assignment without a user id")
			}
			if after.Assignments[i].Role == "" {
				after.Assignments[i].Role = "assignee"
			}
		}
	}

	if scheduleChanged || resourcesChanged {
		_, blockable, err := e.resolveBlockable(ctx, tx, before.OrgID, after.Resources)
		if err != nil {
			return domain.Task{}, err
		}
		window := repo.Window{Start: after.Schedule.Start, End: after.Schedule.End}
		if err := e.checkConflicts(ctx, tx, before.OrgID, blockable, []repo.Window{window}, before.ID); err != nil {
			return domain.Task{}, err
		}
	}

	completingNow := after.Status == "done" && before.Status != "done"
	now := e.nowRFC3339()
	after.UpdatedAt = now

	if err := e.Repo.UpdateTask(ctx, tx, after); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if resourcesChanged {
		if err := e.Repo.ReplaceTaskResources(ctx, tx, after.ID, after.Resources); err != nil {
			return domain.Task{}, err
		}
	}
	if opts.Assignments != nil {
		if err := e.Repo.ReplaceAssignments(ctx, tx, after.ID, after.Assignments); err != nil {
			return domain.Task{}, err
		}
	}
	if opts.DependsOn != nil {
		deps := make([]domain.Dependency, 0, len(*opts.DependsOn))
		for _, id := range *opts.DependsOn {
			deps = append(deps, domain.Dependency{TaskID: id})
		}
		if err := e.Repo.ReplaceDependencies(ctx, tx, after.ID, deps); err != nil {
			return domain.Task{}, err
		}
	}

	if completingNow {
		if err := e.writeCompletionLogs(ctx, tx, before, now); err != nil {
			return domain.Task{}, err
		}
	}

	statusChanged := after.Status != before.Status
	if scheduleChanged || resourcesChanged || (statusChanged && after.IsInactive()) {
		if err := e.syncBookings(ctx, tx, after); err != nil {
			return domain.Task{}, err
		}
	}

	evtType := "task.update"
	if completingNow {
		evtType = "task.complete"
	}
	if err := e.Events.Append(ctx, tx, evtType, after.OrgID, "task", after.ID, opts.ActorID, events.EventPayload{
		"status": after.Status,
	}); err != nil {
		return domain.Task{}, err
	}

	out, err := e.Repo.GetTaskPopulatedTx(ctx, tx, after.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

// writeCompletionLogs appends the done-transition audit records: one time
// log per assignment spanning the pre-update schedule, and one resource log
// per planned resource with the relationship mapped to an action.
func (e Engine) writeCompletionLogs(ctx context.Context, tx *sql.Tx, before domain.Task, now string) error {
	minutes := int(before.Schedule.Duration().Round(time.Minute) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	var timeLogs []domain.TimeLog
	for _, a := range before.Assignments {
		timeLogs = append(timeLogs, domain.TimeLog{
			ID:              uuid.NewString(),
			TaskID:          before.ID,
			UserID:          a.UserID,
			StartTime:       before.Schedule.Start,
			EndTime:         before.Schedule.End,
			DurationMinutes: minutes,
			IsBillable:      true,
			Notes:           "Automatically logged on task completion.",
			CreatedAt:       now,
		})
	}
	if err := e.Repo.InsertTimeLogs(ctx, tx, timeLogs); err != nil {
		return fmt.Errorf("insert time logs: %w", err)
	}

	var resourceLogs []domain.ResourceLog
	for _, r := range before.Resources {
		action := "consumed"
		switch r.RelationshipType {
		case "produces":
			action = "produced"
		case "uses":
			action = "used"
		}
		qty := r.Quantity
		if qty <= 0 {
			qty = 1
		}
		resourceLogs = append(resourceLogs, domain.ResourceLog{
			ID:         uuid.NewString(),
			TaskID:     before.ID,
			ResourceID: r.ResourceID,
			Action:     action,
			Quantity:   qty,
			LoggedBy:   before.CreatedBy,
			CreatedAt:  now,
		})
	}
	if err := e.Repo.InsertResourceLogs(ctx, tx, resourceLogs); err != nil {
		return fmt.Errorf("insert resource logs: %w", err)
	}
	return nil
}

// DeleteTask removes a task, pulls it out of every other task's dependency
// list, and cascade-deletes its bookings. One transaction.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteBookingsForTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.RemoveDependencyRefs(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.delete", t.OrgID, "task", id, actorID, events.EventPayload{
		"title": t.Title,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTaskPopulated(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) ListBookings(ctx context.Context, f repo.BookingFilters) ([]domain.ResourceBooking, error) {
	return e.Repo.ListBookings(ctx, f)
}

// CompletedReport returns done tasks with their plan and actuals for
// reporting consumers.
func (e Engine) CompletedReport(ctx context.Context, orgID string) ([]domain.Task, error) {
	return e.Repo.CompletedTasks(ctx, orgID)
}

// IsNotFound reports whether err means the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
