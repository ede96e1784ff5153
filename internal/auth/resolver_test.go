package auth

import (
	"context"
	"errors"
	"testing"
)

func TestEffectivePermissions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.register(t, "ada@example.com", "hunter2!")

	// No roles, no grants.
	access, err := e.resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if len(access.Roles) != 0 || len(access.Permissions) != 0 {
		t.Fatalf("fresh user has access %+v", access)
	}

	// Role permissions union with individual grants.
	viewer, err := e.admin.CreateRole(ctx, "viewer", "read-only access")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := e.admin.SetRolePermissions(ctx, viewer.ID, []string{PermissionReadReports}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if _, err := e.admin.AssignRole(ctx, user.ID, viewer.ID, "test"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := e.admin.GrantPermission(ctx, user.ID, PermissionExportReports); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}

	access, err = e.resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if !hasRole(access.Roles, "viewer") {
		t.Errorf("roles = %v", access.Roles)
	}
	for _, want := range []string{PermissionReadReports, PermissionExportReports} {
		if !Satisfies(access.Permissions, want) {
			t.Errorf("missing %s in %v", want, access.Permissions)
		}
	}
	if Satisfies(access.Permissions, PermissionManageUsers) {
		t.Error("unexpected users:manage")
	}

	// Revoking the grant removes only the granted permission.
	if err := e.admin.RevokePermission(ctx, user.ID, PermissionExportReports); err != nil {
		t.Fatalf("RevokePermission: %v", err)
	}
	access, err = e.resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if Satisfies(access.Permissions, PermissionExportReports) {
		t.Error("revoked grant still effective")
	}
	if !Satisfies(access.Permissions, PermissionReadReports) {
		t.Error("role permission lost")
	}
}

func TestAdminRoleSynthesizesWildcard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.register(t, "root@example.com", "hunter2!")
	if _, err := e.admin.AssignRole(ctx, user.ID, mustRoleID(t, e, AdminRole), "test"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	access, err := e.resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if _, ok := access.Permissions[AdminWildcard]; !ok {
		t.Fatalf("admin wildcard not synthesized: %v", access.Permissions)
	}
	// Even permissions nothing else grants.
	if !Satisfies(access.Permissions, "ledgers:burn") {
		t.Fatal("admin should satisfy arbitrary permissions")
	}

	// Removing the role removes the wildcard with it.
	if err := e.admin.RemoveRole(ctx, user.ID, mustRoleID(t, e, AdminRole)); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	access, err = e.resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if Satisfies(access.Permissions, "ledgers:burn") {
		t.Fatal("wildcard survived role removal")
	}
}

func TestResolverSkipsDanglingAssignments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.register(t, "ada@example.com", "hunter2!")
	role, err := e.admin.CreateRole(ctx, "temp", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := e.admin.AssignRole(ctx, user.ID, role.ID, "test"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := e.admin.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}

	access, err := e.resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions after role deletion: %v", err)
	}
	if hasRole(access.Roles, "temp") {
		t.Fatalf("deleted role still resolved: %v", access.Roles)
	}
}

func TestResolverRejectsEmptyUserID(t *testing.T) {
	e := newEnv(t)
	if _, err := e.resolver.EffectivePermissions(context.Background(), "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := e.resolver.Roles(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
