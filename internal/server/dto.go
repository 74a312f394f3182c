package server

import (
	"time"

	"bookline/internal/domain"
	"bookline/internal/engine"
)

// Request payloads

type ScheduleRequest struct {
	Start    time.Time `json:"start" format:"date-time"`
	End      time.Time `json:"end" format:"date-time"`
	Timezone string    `json:"timezone,omitempty"`
}

type TaskResourceRequest struct {
	ResourceID       string  `json:"resource_id"`
	RelationshipType string  `json:"relationship_type,omitempty" enum:"requires,uses,produces,consumes"`
	Required         bool    `json:"required,omitempty"`
	Quantity         float64 `json:"quantity,omitempty"`
}

type AssignmentRequest struct {
	UserID string `json:"user_id"`
	TeamID string `json:"team_id,omitempty"`
	Role   string `json:"role,omitempty" enum:"assignee,reviewer,observer"`
}

type CreateTaskRequest struct {
	ID              *string               `json:"id,omitempty"`
	Title           string                `json:"title"`
	Notes           *string               `json:"notes,omitempty"`
	Priority        string                `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Status          string                `json:"status,omitempty" enum:"pending,in_progress,done,impossible,archived,overdue"`
	Schedule        ScheduleRequest       `json:"schedule"`
	Resources       []TaskResourceRequest `json:"resources,omitempty"`
	Assignments     []AssignmentRequest   `json:"assignments,omitempty"`
	DependsOn       []string              `json:"depends_on,omitempty"`
	RepeatFrequency *string               `json:"repeat_frequency,omitempty"`
	TaskPeriod      *time.Time            `json:"task_period,omitempty" format:"date-time"`
}

type UpdateTaskRequest struct {
	Title           *string                `json:"title,omitempty"`
	Notes           *string                `json:"notes,omitempty"`
	Priority        *string                `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Status          *string                `json:"status,omitempty" enum:"pending,in_progress,done,impossible,archived,overdue"`
	Schedule        *ScheduleRequest       `json:"schedule,omitempty"`
	Resources       *[]TaskResourceRequest `json:"resources,omitempty"`
	Assignments     *[]AssignmentRequest   `json:"assignments,omitempty"`
	DependsOn       *[]string              `json:"depends_on,omitempty"`
	RepeatFrequency *string                `json:"repeat_frequency,omitempty"`
	TaskPeriod      *time.Time             `json:"task_period,omitempty" format:"date-time"`
}

type CreateResourceTypeRequest struct {
	ID          *string `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	IsBlockable bool    `json:"is_blockable,omitempty"`
}

type CreateResourceRequest struct {
	ID          *string `json:"id,omitempty"`
	TypeID      string  `json:"type_id,omitempty"`
	TypeName    string  `json:"type_name,omitempty"`
	DisplayName string  `json:"display_name"`
	Blockable   *bool   `json:"blockable,omitempty"`
	Status      string  `json:"status,omitempty"`
}

// Converters

func taskResourcesFromRequest(reqs []TaskResourceRequest) []domain.TaskResource {
	out := make([]domain.TaskResource, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, domain.TaskResource{
			ResourceID:       r.ResourceID,
			RelationshipType: r.RelationshipType,
			Required:         r.Required,
			Quantity:         r.Quantity,
		})
	}
	return out
}

func assignmentsFromRequest(reqs []AssignmentRequest) []domain.Assignment {
	out := make([]domain.Assignment, 0, len(reqs))
	for _, a := range reqs {
		out = append(out, domain.Assignment{UserID: a.UserID, TeamID: a.TeamID, Role: a.Role})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func createOptionsFromRequest(req CreateTaskRequest, orgID, actorID string) engine.TaskCreateOptions {
	return engine.TaskCreateOptions{
		ID:              deref(req.ID),
		OrgID:           orgID,
		CreatedBy:       actorID,
		Title:           req.Title,
		Notes:           deref(req.Notes),
		Priority:        req.Priority,
		Status:          req.Status,
		Start:           req.Schedule.Start,
		End:             req.Schedule.End,
		Timezone:        req.Schedule.Timezone,
		Resources:       taskResourcesFromRequest(req.Resources),
		Assignments:     assignmentsFromRequest(req.Assignments),
		DependsOn:       req.DependsOn,
		RepeatFrequency: deref(req.RepeatFrequency),
		TaskPeriod:      req.TaskPeriod,
		ActorID:         actorID,
	}
}

func updateOptionsFromRequest(req UpdateTaskRequest, taskID, actorID string) engine.TaskUpdateOptions {
	opts := engine.TaskUpdateOptions{
		ID:              taskID,
		Title:           req.Title,
		Notes:           req.Notes,
		Priority:        req.Priority,
		Status:          req.Status,
		DependsOn:       req.DependsOn,
		RepeatFrequency: req.RepeatFrequency,
		TaskPeriod:      req.TaskPeriod,
		ActorID:         actorID,
	}
	if req.Schedule != nil {
		start, end := req.Schedule.Start, req.Schedule.End
		if !start.IsZero() {
			opts.Start = &start
		}
		if !end.IsZero() {
			opts.End = &end
		}
		if req.Schedule.Timezone != "" {
			tz := req.Schedule.Timezone
			opts.Timezone = &tz
		}
	}
	if req.Resources != nil {
		resources := taskResourcesFromRequest(*req.Resources)
		opts.Resources = &resources
	}
	if req.Assignments != nil {
		assignments := assignmentsFromRequest(*req.Assignments)
		opts.Assignments = &assignments
	}
	return opts
}
