package domain

import "time"

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

type Team struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
}

type ResourceType struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsBlockable bool   `json:"is_blockable"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Resource is a bookable or shared asset owned by an organization.
// IsBlockableOverride is tri-state: nil inherits the type default.
type Resource struct {
	ID                  string        `json:"id"`
	OrgID               string        `json:"org_id"`
	TypeID              string        `json:"type_id"`
	Type                *ResourceType `json:"type,omitempty"`
	DisplayName         string        `json:"display_name"`
	IsBlockableOverride *bool         `json:"is_blockable_override,omitempty"`
	Status              string        `json:"status,omitempty"`
	CreatedAt           string        `json:"created_at" format:"date-time"`
}

// Schedule is a half-open [Start, End) window. Start must precede End.
type Schedule struct {
	Start    time.Time `json:"start" format:"date-time"`
	End      time.Time `json:"end" format:"date-time"`
	Timezone string    `json:"timezone"`
}

// Duration is End - Start, preserved verbatim across recurring instances.
func (s Schedule) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

type TaskResource struct {
	ResourceID       string    `json:"resource_id"`
	Resource         *Resource `json:"resource,omitempty"`
	RelationshipType string    `json:"relationship_type" enum:"requires,uses,produces,consumes"`
	Required         bool      `json:"required"`
	Quantity         float64   `json:"quantity"`
}

type Assignment struct {
	UserID string `json:"user_id"`
	User   *User  `json:"user,omitempty"`
	TeamID string `json:"team_id,omitempty"`
	Team   *Team  `json:"team,omitempty"`
	Role   string `json:"role" enum:"assignee,reviewer,observer"`
}

// Dependency links a task to another task it depends on. Title and Status
// are populated summaries of the referenced task.
type Dependency struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
}

// TimeLog is an append-only actual-work record, generated once when a task
// transitions into done.
type TimeLog struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	UserID          string    `json:"user_id"`
	StartTime       time.Time `json:"start_time" format:"date-time"`
	EndTime         time.Time `json:"end_time" format:"date-time"`
	DurationMinutes int       `json:"duration_minutes"`
	IsBillable      bool      `json:"is_billable"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       string    `json:"created_at" format:"date-time"`
}

// ResourceLog is an append-only actual-usage record written alongside
// TimeLogs at the done transition.
type ResourceLog struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	ResourceID string  `json:"resource_id"`
	Action     string  `json:"action" enum:"consumed,used,produced"`
	Quantity   float64 `json:"quantity"`
	LoggedBy   string  `json:"logged_by"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Task struct {
	ID                  string         `json:"id"`
	OrgID               string         `json:"org_id"`
	CreatedBy           string         `json:"created_by"`
	Title               string         `json:"title"`
	Notes               string         `json:"notes,omitempty"`
	Priority            string         `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Status              string         `json:"status" enum:"pending,in_progress,done,impossible,archived,overdue"`
	Schedule            Schedule       `json:"schedule"`
	Resources           []TaskResource `json:"resources,omitempty"`
	Assignments         []Assignment   `json:"assignments,omitempty"`
	Dependencies        []Dependency   `json:"dependencies,omitempty"`
	TimeLogs            []TimeLog      `json:"time_logs,omitempty"`
	ResourceLogs        []ResourceLog  `json:"resource_logs,omitempty"`
	RepeatFrequency     string         `json:"repeat_frequency,omitempty"`
	TaskPeriod          *time.Time     `json:"task_period,omitempty" format:"date-time"`
	IsRecurringRoot     bool           `json:"is_recurring_root"`
	IsRecurringInstance bool           `json:"is_recurring_instance"`
	RootTaskID          *string        `json:"root_task_id,omitempty"`
	CreatedAt           string         `json:"created_at" format:"date-time"`
	UpdatedAt           string         `json:"updated_at" format:"date-time"`
}

// InactiveStatuses are the statuses under which a task holds no bookings.
var InactiveStatuses = map[string]bool{
	"done":       true,
	"archived":   true,
	"impossible": true,
}

// ValidStatuses enumerates the accepted task statuses.
var ValidStatuses = map[string]bool{
	"pending":     true,
	"in_progress": true,
	"done":        true,
	"impossible":  true,
	"archived":    true,
	"overdue":     true,
}

// IsInactive reports whether the task's status releases its bookings.
func (t Task) IsInactive() bool {
	return InactiveStatuses[t.Status]
}

// ResourceBooking reserves a time slot on a resource for a task. Bookings
// exist for every planned resource as an assignment-history ledger; only
// bookings on blockable resources participate in conflict checks.
type ResourceBooking struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	ResourceID string    `json:"resource_id"`
	TaskID     string    `json:"task_id"`
	StartTime  time.Time `json:"start_time" format:"date-time"`
	EndTime    time.Time `json:"end_time" format:"date-time"`
	Status     string    `json:"status" enum:"confirmed,cancelled"`
	CreatedAt  string    `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
