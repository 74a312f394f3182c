package repo

import (
	"context"
	"database/sql"
	"strings"

	"bookline/internal/domain"
)

func (r Repo) InsertResourceType(ctx context.Context, tx *sql.Tx, rt domain.ResourceType) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resource_types(id,org_id,name,description,is_blockable,created_at) VALUES (?,?,?,?,?,?)`,
		rt.ID, rt.OrgID, rt.Name, nullable(rt.Description), boolToInt(rt.IsBlockable), rt.CreatedAt)
	return err
}

func (r Repo) EnsureResourceType(ctx context.Context, tx *sql.Tx, rt domain.ResourceType) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resource_types(id,org_id,name,description,is_blockable,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(org_id,name) DO NOTHING`,
		rt.ID, rt.OrgID, rt.Name, nullable(rt.Description), boolToInt(rt.IsBlockable), rt.CreatedAt)
	return err
}

func (r Repo) GetResourceType(ctx context.Context, id string) (domain.ResourceType, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,org_id,name,COALESCE(description,''),is_blockable,created_at FROM resource_types WHERE id=?`, id)
	return scanResourceType(row.Scan)
}

func (r Repo) ResourceTypeByName(ctx context.Context, orgID, name string) (domain.ResourceType, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,org_id,name,COALESCE(description,''),is_blockable,created_at FROM resource_types WHERE org_id=? AND name=?`, orgID, name)
	return scanResourceType(row.Scan)
}

func scanResourceType(scan func(dest ...any) error) (domain.ResourceType, error) {
	var rt domain.ResourceType
	err := scan(&rt.ID, &rt.OrgID, &rt.Name, &rt.Description, &rt.IsBlockable, &rt.CreatedAt)
	if err == sql.ErrNoRows {
		return rt, ErrNotFound
	}
	return rt, err
}

func (r Repo) ListResourceTypes(ctx context.Context, orgID string) ([]domain.ResourceType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,name,COALESCE(description,''),is_blockable,created_at FROM resource_types WHERE org_id=? ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResourceType
	for rows.Next() {
		rt, err := scanResourceType(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}

func (r Repo) InsertResource(ctx context.Context, tx *sql.Tx, res domain.Resource) error {
	var override any
	if res.IsBlockableOverride != nil {
		override = boolToInt(*res.IsBlockableOverride)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO resources(id,org_id,type_id,display_name,is_blockable_override,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		res.ID, res.OrgID, res.TypeID, res.DisplayName, override, nullable(res.Status), res.CreatedAt)
	return err
}

const resourceSelect = `SELECT r.id, r.org_id, r.type_id, r.display_name, r.is_blockable_override, COALESCE(r.status,''), r.created_at,
       rt.name, COALESCE(rt.description,''), rt.is_blockable, rt.created_at
FROM resources r
JOIN resource_types rt ON rt.id = r.type_id`

func scanResource(scan func(dest ...any) error) (domain.Resource, error) {
	var res domain.Resource
	var rt domain.ResourceType
	var override sql.NullInt64
	err := scan(&res.ID, &res.OrgID, &res.TypeID, &res.DisplayName, &override, &res.Status, &res.CreatedAt,
		&rt.Name, &rt.Description, &rt.IsBlockable, &rt.CreatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	if override.Valid {
		b := override.Int64 != 0
		res.IsBlockableOverride = &b
	}
	rt.ID = res.TypeID
	rt.OrgID = res.OrgID
	res.Type = &rt
	return res, nil
}

// GetResource returns the resource with its type populated.
func (r Repo) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	row := r.DB.QueryRowContext(ctx, resourceSelect+` WHERE r.id=?`, id)
	return scanResource(row.Scan)
}

func (r Repo) ListResources(ctx context.Context, orgID string) ([]domain.Resource, error) {
	rows, err := r.DB.QueryContext(ctx, resourceSelect+` WHERE r.org_id=? ORDER BY r.display_name, r.id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Resource
	for rows.Next() {
		rsc, err := scanResource(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rsc)
	}
	return res, rows.Err()
}

// ResourcesWithType loads the given resources with their types joined in,
// scoped to one organization. Callers compare the returned count against the
// requested count to detect missing or foreign ids.
func (r Repo) ResourcesWithType(ctx context.Context, tx *sql.Tx, orgID string, ids []string) ([]domain.Resource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{orgID}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := tx.QueryContext(ctx, resourceSelect+` WHERE r.org_id=? AND r.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Resource
	for rows.Next() {
		rsc, err := scanResource(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rsc)
	}
	return res, rows.Err()
}
