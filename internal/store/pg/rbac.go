package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatekit.org/internal/auth"
	"gatekit.org/internal/ids"
)

type roleStore Store

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, description, is_system, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, role.ID, role.Name, role.Description, role.IsSystem, role.CreatedAt, role.UpdatedAt)
	return mapWriteError(err)
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select id, name, description, is_system, created_at, updated_at
		from roles
		where id = $1
	`, id))
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select id, name, description, is_system, created_at, updated_at
		from roles
		where name = $1
	`, name))
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, is_system, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

// Delete removes the role and cascades its permission links and user
// assignments in one transaction.
func (s *roleStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from user_roles where role_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return tx.Commit()
}

func (s *roleStore) Assign(ctx context.Context, a auth.Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, assigned_by, created_at)
		values ($1, $2, $3, $4)
		on conflict (user_id, role_id) do nothing
	`, a.UserID, a.RoleID, a.AssignedBy, a.CreatedAt)
	return mapWriteError(err)
}

func (s *roleStore) Unassign(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *roleStore) Assignments(ctx context.Context, userID string) ([]auth.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, assigned_by, created_at
		from user_roles
		where user_id = $1
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Assignment
	for rows.Next() {
		var a auth.Assignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.AssignedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *roleStore) scanOne(row *sql.Row) (*auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type permissionStore Store

func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (id, name, resource, action, description, created_at)
			values ($1, $2, $3, $4, $5, now())
			on conflict (name) do nothing
		`, id, p.Name, p.Resource, p.Action, p.Description); err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) Create(ctx context.Context, p *auth.Permission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permissions (id, name, resource, action, description, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.Resource, p.Action, p.Description, p.CreatedAt)
	return mapWriteError(err)
}

func (s *permissionStore) FindByName(ctx context.Context, name string) (*auth.Permission, error) {
	var p auth.Permission
	err := s.db.QueryRowContext(ctx, `
		select id, name, resource, action, description, created_at
		from permissions
		where name = $1
	`, name).Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *permissionStore) List(ctx context.Context, offset, limit int) ([]*auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, resource, action, description, created_at
		from permissions
		order by name
		offset $1 limit $2
	`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// SetForRole replaces the role's permission set atomically.
func (s *permissionStore) SetForRole(ctx context.Context, roleID string, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, name := range names {
		res, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			select $1, id from permissions where name = $2
		`, roleID, name)
		if err != nil {
			return mapWriteError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return auth.ErrNotFound
		}
	}
	return tx.Commit()
}

func (s *permissionStore) ForRole(ctx context.Context, roleID string) ([]*auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.resource, p.action, p.description, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *permissionStore) Grant(ctx context.Context, userID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_permissions (user_id, permission_id)
		values ($1, $2)
		on conflict (user_id, permission_id) do nothing
	`, userID, permissionID)
	return mapWriteError(err)
}

func (s *permissionStore) Revoke(ctx context.Context, userID, permissionID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_permissions where user_id = $1 and permission_id = $2
	`, userID, permissionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *permissionStore) GrantsForUser(ctx context.Context, userID string) ([]*auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.resource, p.action, p.description, p.created_at
		from permissions p
		join user_permissions up on up.permission_id = p.id
		where up.user_id = $1
		order by p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func scanPermissions(rows *sql.Rows) ([]*auth.Permission, error) {
	var result []*auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}
