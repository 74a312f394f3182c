package engine

import (
	"context"
	"database/sql"
	"fmt"

	"bookline/internal/domain"
	"bookline/internal/repo"
)

// effectiveBlockable resolves whether a resource participates in exclusive
// booking: the per-resource override wins, else the type default, else false.
func effectiveBlockable(r domain.Resource) bool {
	if r.IsBlockableOverride != nil {
		return *r.IsBlockableOverride
	}
	if r.Type != nil {
		return r.Type.IsBlockable
	}
	return false
}

// resolveBlockable loads the planned resources with their types, scoped to
// the organization, and splits out the ids of the blockable subset. A
// missing or foreign id fails the whole resolution with ErrNotFound.
func (e Engine) resolveBlockable(ctx context.Context, tx *sql.Tx, orgID string, refs []domain.TaskResource) ([]domain.Resource, []string, error) {
	seen := map[string]bool{}
	var ids []string
	for _, ref := range refs {
		if ref.ResourceID == "" {
			return nil, nil, validationf("resource reference without an id")
		}
		if !seen[ref.ResourceID] {
			seen[ref.ResourceID] = true
			ids = append(ids, ref.ResourceID)
		}
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}
	resources, err := e.Repo.ResourcesWithType(ctx, tx, orgID, ids)
	if err != nil {
		return nil, nil, err
	}
	if len(resources) != len(ids) {
		found := map[string]bool{}
		for _, r := range resources {
			found[r.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, nil, fmt.Errorf("resource %s: %w", id, repo.ErrNotFound)
			}
		}
	}
	var blockable []string
	for _, r := range resources {
		if effectiveBlockable(r) {
			blockable = append(blockable, r.ID)
		}
	}
	return resources, blockable, nil
}
