package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekit.org/internal/ids"
)

const (
	defaultPermissionPageSize = 50
	maxPermissionPageSize     = 200
)

// AdminService covers role and permission administration.
type AdminService struct {
	store Store
	now   func() time.Time
}

func NewAdminService(store Store) (*AdminService, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	return &AdminService{store: store, now: time.Now}, nil
}

// EnsureBuiltins makes sure the managed permission catalog and the system
// admin role exist. Safe to call on every startup.
func (s *AdminService) EnsureBuiltins(ctx context.Context) error {
	if err := s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions); err != nil {
		return err
	}
	roles := s.store.Roles(ctx)
	if _, err := roles.FindByName(ctx, AdminRole); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	now := s.now().UTC()
	err := roles.Create(ctx, &Role{
		ID:          ids.New(),
		Name:        AdminRole,
		Description: "Baseline administrator role",
		IsSystem:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

func (s *AdminService) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: role %q already exists", ErrConflict, name)
		}
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a role and cascades its permission links and user
// assignments. System roles are never deletable.
func (s *AdminService) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	roles := s.store.Roles(ctx)
	role, err := roles.Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system role %q cannot be deleted", ErrInvalidInput, role.Name)
	}
	return roles.Delete(ctx, roleID)
}

func (s *AdminService) GetRole(ctx context.Context, roleID string) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Find(ctx, roleID)
}

func (s *AdminService) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

// CreatePermission registers a new permission in canonical form.
func (s *AdminService) CreatePermission(ctx context.Context, name, description string) (*Permission, error) {
	resource, action, err := ParsePermission(name)
	if err != nil {
		return nil, err
	}
	perm := &Permission{
		ID:          ids.New(),
		Name:        resource + ":" + action,
		Resource:    resource,
		Action:      action,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Permissions(ctx).Create(ctx, perm); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: permission %q already exists", ErrConflict, perm.Name)
		}
		return nil, err
	}
	return perm, nil
}

// ListPermissions pages through the catalog. Limit is clamped to
// [1, maxPermissionPageSize]; zero means the default page size.
func (s *AdminService) ListPermissions(ctx context.Context, offset, limit int) ([]*Permission, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPermissionPageSize
	}
	if limit > maxPermissionPageSize {
		limit = maxPermissionPageSize
	}
	return s.store.Permissions(ctx).List(ctx, offset, limit)
}

// SetRolePermissions replaces the role's permission set.
func (s *AdminService) SetRolePermissions(ctx context.Context, roleID string, names []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(names))
	canonical := make([]string, 0, len(names))
	for _, name := range names {
		resource, action, err := ParsePermission(name)
		if err != nil {
			return err
		}
		key := resource + ":" + action
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		canonical = append(canonical, key)
	}
	return s.store.Permissions(ctx).SetForRole(ctx, roleID, canonical)
}

// AssignRole gives the user a role.
func (s *AdminService) AssignRole(ctx context.Context, userID, roleID, assignedBy string) (Assignment, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return Assignment{}, fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return Assignment{}, err
	}
	a := Assignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: strings.TrimSpace(assignedBy),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Roles(ctx).Assign(ctx, a); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

func (s *AdminService) RemoveRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Unassign(ctx, userID, roleID)
}

// GrantPermission gives the user an individual grant, independent of role
// membership.
func (s *AdminService) GrantPermission(ctx context.Context, userID, permissionName string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	perm, err := s.store.Permissions(ctx).FindByName(ctx, strings.TrimSpace(strings.ToLower(permissionName)))
	if err != nil {
		return err
	}
	return s.store.Permissions(ctx).Grant(ctx, userID, perm.ID)
}

func (s *AdminService) RevokePermission(ctx context.Context, userID, permissionName string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	perm, err := s.store.Permissions(ctx).FindByName(ctx, strings.TrimSpace(strings.ToLower(permissionName)))
	if err != nil {
		return err
	}
	return s.store.Permissions(ctx).Revoke(ctx, userID, perm.ID)
}
