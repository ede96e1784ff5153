package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Access is a user's resolved authorization state: role names plus the
// union of role-derived and individually granted permissions.
type Access struct {
	Roles       []string
	Permissions map[string]struct{}
}

// Resolver computes effective permissions and role lists from the stores.
type Resolver struct {
	store Store
}

func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	return &Resolver{store: store}, nil
}

// EffectivePermissions resolves the user's full authorization state.
// Holding the admin role synthesizes the AdminWildcard grant here, and only
// here; no other component special-cases the role name.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (Access, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Access{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	roles := r.store.Roles(ctx)
	perms := r.store.Permissions(ctx)

	assignments, err := roles.Assignments(ctx, userID)
	if err != nil {
		return Access{}, err
	}
	access := Access{Permissions: make(map[string]struct{})}
	for _, a := range assignments {
		role, err := roles.Find(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return Access{}, err
		}
		access.Roles = append(access.Roles, role.Name)
		list, err := perms.ForRole(ctx, a.RoleID)
		if err != nil {
			return Access{}, err
		}
		for _, p := range list {
			access.Permissions[p.Name] = struct{}{}
		}
	}
	grants, err := perms.GrantsForUser(ctx, userID)
	if err != nil {
		return Access{}, err
	}
	for _, p := range grants {
		access.Permissions[p.Name] = struct{}{}
	}
	access.Roles = normalizeRoles(access.Roles)
	if hasRole(access.Roles, AdminRole) {
		access.Permissions[AdminWildcard] = struct{}{}
	}
	return access, nil
}

// Roles resolves only the user's role names, for contexts that embed role
// snapshots into tokens without the full permission set.
func (r *Resolver) Roles(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	roleStore := r.store.Roles(ctx)
	assignments, err := roleStore.Assignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, a := range assignments {
		role, err := roleStore.Find(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		names = append(names, role.Name)
	}
	return normalizeRoles(names), nil
}
