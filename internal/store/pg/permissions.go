package pg

import (
	"context"

	"github.com/google/uuid"

	"ascms.org/internal/auth"
)

type permissionStore struct{ q queryer }

// Ensure upserts catalog entries by value, keeping existing ids.
func (s permissionStore) Ensure(ctx context.Context, entries []auth.CatalogEntry) error {
	for _, e := range entries {
		_, err := s.q.ExecContext(ctx, `
			insert into permissions (id, value, name, code, description, active)
			values ($1, $2, $3, $4, $5, true)
			on conflict (value) do update
			set name = excluded.name, code = excluded.code, description = excluded.description, active = true
		`, uuid.NewString(), e.Value, e.Name, e.Code, e.Description)
		if err != nil {
			return mapErr(err, "permission")
		}
	}
	return nil
}

func (s permissionStore) List(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, value, name, code, description, active, created_at
		from permissions
		order by value
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []auth.Permission{}
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Value, &p.Name, &p.Code, &p.Description, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
