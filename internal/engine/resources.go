package engine

import (
	"context"

	"github.com/google/uuid"

	"bookline/internal/domain"
	"bookline/internal/events"
)

// ResourceTypeCreateOptions are parameters for registering a resource type.
type ResourceTypeCreateOptions struct {
	ID          string
	OrgID       string
	Name        string
	Description string
	IsBlockable bool
	ActorID     string
}

func (e Engine) CreateResourceType(ctx context.Context, opts ResourceTypeCreateOptions) (domain.ResourceType, error) {
	if opts.OrgID == "" {
		return domain.ResourceType{}, validationf("organization is required")
	}
	if opts.Name == "" {
		return domain.ResourceType{}, validationf("name is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	rt := domain.ResourceType{
		ID:          opts.ID,
		OrgID:       opts.OrgID,
		Name:        opts.Name,
		Description: opts.Description,
		IsBlockable: opts.IsBlockable,
		CreatedAt:   e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ResourceType{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertResourceType(ctx, tx, rt); err != nil {
		return domain.ResourceType{}, err
	}
	if err := e.Events.Append(ctx, tx, "resource_type.create", rt.OrgID, "resource_type", rt.ID, opts.ActorID, events.EventPayload{
		"name": rt.Name, "is_blockable": rt.IsBlockable,
	}); err != nil {
		return domain.ResourceType{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ResourceType{}, err
	}
	return rt, nil
}

func (e Engine) ListResourceTypes(ctx context.Context, orgID string) ([]domain.ResourceType, error) {
	return e.Repo.ListResourceTypes(ctx, orgID)
}

// ResourceCreateOptions are parameters for registering a resource.
// Blockable being nil inherits the type's booking default.
type ResourceCreateOptions struct {
	ID          string
	OrgID       string
	TypeID      string
	TypeName    string
	DisplayName string
	Blockable   *bool
	Status      string
	ActorID     string
}

func (e Engine) CreateResource(ctx context.Context, opts ResourceCreateOptions) (domain.Resource, error) {
	if opts.OrgID == "" {
		return domain.Resource{}, validationf("organization is required")
	}
	if opts.DisplayName == "" {
		return domain.Resource{}, validationf("display_name is required")
	}
	if opts.TypeID == "" && opts.TypeName == "" {
		return domain.Resource{}, validationf("resource type is required")
	}
	if opts.TypeID == "" {
		rt, err := e.Repo.ResourceTypeByName(ctx, opts.OrgID, opts.TypeName)
		if err != nil {
			return domain.Resource{}, err
		}
		opts.TypeID = rt.ID
	} else if _, err := e.Repo.GetResourceType(ctx, opts.TypeID); err != nil {
		return domain.Resource{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	res := domain.Resource{
		ID:                  opts.ID,
		OrgID:               opts.OrgID,
		TypeID:              opts.TypeID,
		DisplayName:         opts.DisplayName,
		IsBlockableOverride: opts.Blockable,
		Status:              opts.Status,
		CreatedAt:           e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Resource{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertResource(ctx, tx, res); err != nil {
		return domain.Resource{}, err
	}
	if err := e.Events.Append(ctx, tx, "resource.create", res.OrgID, "resource", res.ID, opts.ActorID, events.EventPayload{
		"display_name": res.DisplayName, "type_id": res.TypeID,
	}); err != nil {
		return domain.Resource{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Resource{}, err
	}
	return e.Repo.GetResource(ctx, res.ID)
}

func (e Engine) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return e.Repo.GetResource(ctx, id)
}

func (e Engine) ListResources(ctx context.Context, orgID string) ([]domain.Resource, error) {
	return e.Repo.ListResources(ctx, orgID)
}
