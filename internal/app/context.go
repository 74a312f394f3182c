package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"bookline/internal/config"
	"bookline/internal/domain"
	"bookline/internal/repo"
)

// ResolveOrg ensures the configured organization exists and that the
// resource-type catalog from the config is seeded, creating both on first
// run. Returns the effective organization id.
func ResolveOrg(ctx context.Context, cfg *config.Config, actorID string, r repo.Repo) (string, error) {
	orgID := cfg.Organization.ID
	if orgID == "" {
		orgID = "default-org"
	}
	name := cfg.Organization.Name
	if name == "" {
		name = orgID
	}
	if actorID == "" {
		actorID = "local-user"
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := r.EnsureOrg(ctx, tx, orgID, name, now); err != nil {
		return "", fmt.Errorf("ensure org: %w", err)
	}
	if err := r.EnsureUser(ctx, tx, domain.User{ID: actorID, OrgID: orgID}); err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}

	names := make([]string, 0, len(cfg.ResourceTypes.Catalog))
	for n := range cfg.ResourceTypes.Catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		seed := cfg.ResourceTypes.Catalog[n]
		rt := domain.ResourceType{
			ID:          uuid.NewString(),
			OrgID:       orgID,
			Name:        n,
			Description: seed.Description,
			IsBlockable: seed.Blockable,
			CreatedAt:   now,
		}
		if err := r.EnsureResourceType(ctx, tx, rt); err != nil {
			return "", fmt.Errorf("seed resource type %s: %w", n, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return orgID, nil
}

// RequireOrg fails if the organization has not been bootstrapped yet.
func RequireOrg(ctx context.Context, orgID string, r repo.Repo) error {
	if _, err := r.GetOrganization(ctx, orgID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("organization %s not initialized; run `bl org init`", orgID)
		}
		return err
	}
	return nil
}
