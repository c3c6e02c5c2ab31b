package pg

import (
	"context"
	"fmt"
	"strings"

	"ascms.org/internal/auth"
)

const groupColumns = `id, name, description, active, created_at, updated_at`

func scanGroup(row rowScanner) (auth.UserGroup, error) {
	var g auth.UserGroup
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.Active, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return auth.UserGroup{}, err
	}
	g.Permissions = auth.PermissionSet{}
	return g, nil
}

type groupStore struct{ q queryer }

func (s groupStore) Create(ctx context.Context, g *auth.UserGroup) error {
	row := s.q.QueryRowContext(ctx, `
		insert into user_groups (id, name, description, active)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, g.ID, g.Name, g.Description, g.Active)
	if err := row.Scan(&g.CreatedAt, &g.UpdatedAt); err != nil {
		return mapErr(err, "group")
	}
	for _, perm := range g.Permissions.Codes() {
		if err := s.insertPermission(ctx, g.ID, perm); err != nil {
			return err
		}
	}
	return nil
}

func (s groupStore) Find(ctx context.Context, id string) (auth.UserGroup, error) {
	g, err := scanGroup(s.q.QueryRowContext(ctx, `select `+groupColumns+` from user_groups where id = $1`, id))
	if err != nil {
		return auth.UserGroup{}, mapErr(err, "group")
	}
	return g, s.loadPermissions(ctx, &g)
}

func (s groupStore) FindByName(ctx context.Context, name string) (auth.UserGroup, error) {
	g, err := scanGroup(s.q.QueryRowContext(ctx, `select `+groupColumns+` from user_groups where lower(name) = lower($1)`, name))
	if err != nil {
		return auth.UserGroup{}, mapErr(err, "group")
	}
	return g, s.loadPermissions(ctx, &g)
}

func (s groupStore) List(ctx context.Context, includeInactive bool) ([]auth.UserGroup, error) {
	query := `select ` + groupColumns + ` from user_groups`
	if !includeInactive {
		query += ` where active`
	}
	query += ` order by name`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []auth.UserGroup{}
	index := map[string]int{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		index[g.ID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return groups, nil
	}

	permRows, err := s.q.QueryContext(ctx, `select group_id, permission_value from group_permissions`)
	if err != nil {
		return nil, err
	}
	defer permRows.Close()
	for permRows.Next() {
		var (
			groupID string
			perm    auth.PermissionCode
		)
		if err := permRows.Scan(&groupID, &perm); err != nil {
			return nil, err
		}
		if i, ok := index[groupID]; ok {
			groups[i].Permissions.Add(perm)
		}
	}
	return groups, permRows.Err()
}

func (s groupStore) Update(ctx context.Context, id string, upd auth.GroupUpdate) (auth.UserGroup, error) {
	var b setBuilder
	if upd.Name != nil {
		b.add("name", *upd.Name)
	}
	if upd.Description != nil {
		b.add("description", *upd.Description)
	}
	if upd.Active != nil {
		b.add("active", *upd.Active)
	}
	if len(b.clauses) == 0 {
		return s.Find(ctx, id)
	}
	b.clauses = append(b.clauses, "updated_at = now()")
	query := fmt.Sprintf(`update user_groups set %s where id = $%d returning %s`,
		strings.Join(b.clauses, ", "), b.next(), groupColumns)
	g, err := scanGroup(s.q.QueryRowContext(ctx, query, append(b.args, id)...))
	if err != nil {
		return auth.UserGroup{}, mapErr(err, "group")
	}
	return g, s.loadPermissions(ctx, &g)
}

func (s groupStore) SetPermissions(ctx context.Context, groupID string, perms []auth.PermissionCode) error {
	if err := s.touch(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, `delete from group_permissions where group_id = $1`, groupID); err != nil {
		return err
	}
	for _, perm := range perms {
		if err := s.insertPermission(ctx, groupID, perm); err != nil {
			return err
		}
	}
	return nil
}

func (s groupStore) AddPermission(ctx context.Context, groupID string, perm auth.PermissionCode) error {
	if err := s.touch(ctx, groupID); err != nil {
		return err
	}
	return s.insertPermission(ctx, groupID, perm)
}

func (s groupStore) RemovePermission(ctx context.Context, groupID string, perm auth.PermissionCode) error {
	if err := s.touch(ctx, groupID); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, `
		delete from group_permissions where group_id = $1 and permission_value = $2
	`, groupID, perm)
	return err
}

func (s groupStore) touch(ctx context.Context, groupID string) error {
	res, err := s.q.ExecContext(ctx, `update user_groups set updated_at = now() where id = $1`, groupID)
	if err != nil {
		return err
	}
	return requireAffected(res, "group")
}

func (s groupStore) insertPermission(ctx context.Context, groupID string, perm auth.PermissionCode) error {
	_, err := s.q.ExecContext(ctx, `
		insert into group_permissions (group_id, permission_value)
		values ($1, $2)
		on conflict do nothing
	`, groupID, perm)
	return mapErr(err, "permission")
}

func (s groupStore) loadPermissions(ctx context.Context, g *auth.UserGroup) error {
	rows, err := s.q.QueryContext(ctx, `
		select permission_value from group_permissions where group_id = $1 order by permission_value
	`, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var perm auth.PermissionCode
		if err := rows.Scan(&perm); err != nil {
			return err
		}
		g.Permissions.Add(perm)
	}
	return rows.Err()
}
