package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"bookline/internal/domain"
	"bookline/internal/engine"
	"bookline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"booking_conflict"`
	Message string         `json:"message" example:"scheduling conflict: resource \"CNC Mill\" is booked by task \"Dry run\" from 2026-03-01 09:00 to 2026-03-01 11:00"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Bookline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Bookline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerResourceTypes(group, cfg.Engine)
	registerResources(group, cfg.Engine)
	registerBookings(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), nil)
	}
	var ce *engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "booking_conflict", err.Error(), map[string]any{"conflicts": ce.Conflicts})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func orgForPrincipal(p Principal, e engine.Engine) string {
	if p.OrgID != "" {
		return p.OrgID
	}
	if e.Config != nil && e.Config.Organization.ID != "" {
		return e.Config.Organization.ID
	}
	return "default-org"
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Organization status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		orgID := orgForPrincipal(p, e)
		counts, err := e.Repo.CountTasksByStatus(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"org_id":      orgID,
			"task_counts": counts,
		}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task or recurring series",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, createOptionsFromRequest(input.Body, orgForPrincipal(p, e), p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	type taskPath struct {
		TaskID string `path:"task_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		Status     string    `query:"status"`
		AssigneeID string    `query:"assignee_id"`
		ResourceID string    `query:"resource_id"`
		From       time.Time `query:"from"`
		To         time.Time `query:"to"`
		Limit      int       `query:"limit"`
		Cursor     string    `query:"cursor"`
	}) (*struct {
		Body struct {
			Tasks      []domain.Task `json:"tasks"`
			NextCursor string        `json:"next_cursor,omitempty"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.TaskFilters{
			OrgID:      orgForPrincipal(p, e),
			Status:     input.Status,
			AssigneeID: input.AssigneeID,
			ResourceID: input.ResourceID,
			Limit:      input.Limit,
		}
		if f.Limit <= 0 || f.Limit > 200 {
			f.Limit = 50
		}
		if !input.From.IsZero() {
			from := input.From
			f.From = &from
		}
		if !input.To.IsZero() {
			to := input.To
			f.To = &to
		}
		if input.Cursor != "" {
			createdAt, id, ok := strings.Cut(input.Cursor, ",")
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "malformed cursor", nil)
			}
			f.CursorCreatedAt = createdAt
			f.CursorID = id
		}
		tasks, err := e.ListTasks(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Tasks      []domain.Task `json:"tasks"`
				NextCursor string        `json:"next_cursor,omitempty"`
			} `json:"body"`
		}{}
		out.Body.Tasks = tasks
		if len(tasks) == f.Limit {
			last := tasks[len(tasks)-1]
			out.Body.NextCursor = last.CreatedAt + "," + last.ID
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, updateOptionsFromRequest(input.Body, input.TaskID, p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.TaskID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerResourceTypes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-resource-type",
		Method:        http.MethodPost,
		Path:          "/resource-types",
		Summary:       "Create resource type",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateResourceTypeRequest `json:"body"`
	}) (*struct {
		Body domain.ResourceType `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rt, err := e.CreateResourceType(ctx, engine.ResourceTypeCreateOptions{
			ID:          deref(input.Body.ID),
			OrgID:       orgForPrincipal(p, e),
			Name:        input.Body.Name,
			Description: input.Body.Description,
			IsBlockable: input.Body.IsBlockable,
			ActorID:     p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ResourceType `json:"body"`
		}{Body: rt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-resource-types",
		Method:      http.MethodGet,
		Path:        "/resource-types",
		Summary:     "List resource types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			ResourceTypes []domain.ResourceType `json:"resource_types"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		types, err := e.ListResourceTypes(ctx, orgForPrincipal(p, e))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				ResourceTypes []domain.ResourceType `json:"resource_types"`
			} `json:"body"`
		}{}
		out.Body.ResourceTypes = types
		return out, nil
	})
}

func registerResources(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-resource",
		Method:        http.MethodPost,
		Path:          "/resources",
		Summary:       "Create resource",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateResourceRequest `json:"body"`
	}) (*struct {
		Body domain.Resource `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CreateResource(ctx, engine.ResourceCreateOptions{
			ID:          deref(input.Body.ID),
			OrgID:       orgForPrincipal(p, e),
			TypeID:      input.Body.TypeID,
			TypeName:    input.Body.TypeName,
			DisplayName: input.Body.DisplayName,
			Blockable:   input.Body.Blockable,
			Status:      input.Body.Status,
			ActorID:     p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Resource `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-resource",
		Method:      http.MethodGet,
		Path:        "/resources/{resource_id}",
		Summary:     "Get resource",
	}, func(ctx context.Context, input *struct {
		ResourceID string `path:"resource_id"`
	}) (*struct {
		Body domain.Resource `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.GetResource(ctx, input.ResourceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Resource `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-resources",
		Method:      http.MethodGet,
		Path:        "/resources",
		Summary:     "List resources",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Resources []domain.Resource `json:"resources"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resources, err := e.ListResources(ctx, orgForPrincipal(p, e))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Resources []domain.Resource `json:"resources"`
			} `json:"body"`
		}{}
		out.Body.Resources = resources
		return out, nil
	})
}

func registerBookings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-bookings",
		Method:      http.MethodGet,
		Path:        "/bookings",
		Summary:     "List bookings",
	}, func(ctx context.Context, input *struct {
		TaskID     string    `query:"task_id"`
		ResourceID string    `query:"resource_id"`
		From       time.Time `query:"from"`
		To         time.Time `query:"to"`
	}) (*struct {
		Body struct {
			Bookings []domain.ResourceBooking `json:"bookings"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.BookingFilters{
			OrgID:      orgForPrincipal(p, e),
			TaskID:     input.TaskID,
			ResourceID: input.ResourceID,
		}
		if !input.From.IsZero() {
			from := input.From
			f.From = &from
		}
		if !input.To.IsZero() {
			to := input.To
			f.To = &to
		}
		bookings, err := e.ListBookings(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Bookings []domain.ResourceBooking `json:"bookings"`
			} `json:"body"`
		}{}
		out.Body.Bookings = bookings
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-availability",
		Method:      http.MethodGet,
		Path:        "/availability",
		Summary:     "Probe resources for booking conflicts in a window",
	}, func(ctx context.Context, input *struct {
		ResourceIDs string    `query:"resource_ids" doc:"comma-separated resource ids"`
		Start       time.Time `query:"start" required:"true"`
		End         time.Time `query:"end" required:"true"`
	}) (*struct {
		Body struct {
			Available bool                      `json:"available"`
			Conflicts []repo.ConflictingBooking `json:"conflicts,omitempty"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ids := strings.Split(input.ResourceIDs, ",")
		var resourceIDs []string
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				resourceIDs = append(resourceIDs, id)
			}
		}
		if len(resourceIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "resource_ids is required", nil)
		}
		if !input.Start.Before(input.End) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "start must be before end", nil)
		}
		conflicts, err := e.FindConflicts(ctx, orgForPrincipal(p, e), resourceIDs, input.Start, input.End, "")
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Available bool                      `json:"available"`
				Conflicts []repo.ConflictingBooking `json:"conflicts,omitempty"`
			} `json:"body"`
		}{}
		out.Body.Available = len(conflicts) == 0
		out.Body.Conflicts = conflicts
		return out, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "completed-report",
		Method:      http.MethodGet,
		Path:        "/reports/completed",
		Summary:     "Completed tasks with logged actuals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Tasks []domain.Task `json:"tasks"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.CompletedReport(ctx, orgForPrincipal(p, e))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Tasks []domain.Task `json:"tasks"`
			} `json:"body"`
		}{}
		out.Body.Tasks = tasks
		return out, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit event log",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body struct {
			Events []domain.Event `json:"events"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		evts, err := e.Repo.LatestEvents(ctx, limit, orgForPrincipal(p, e), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Events []domain.Event `json:"events"`
			} `json:"body"`
		}{}
		out.Body.Events = evts
		return out, nil
	})
}
