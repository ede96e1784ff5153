package auth

import (
	"fmt"
	"strings"
)

const (
	// WildcardAction matches any action on a resource.
	WildcardAction = "*"
	// AdminWildcard satisfies every permission check.
	AdminWildcard = "admin:*"
	// AdminRole is the system role whose holders receive AdminWildcard during
	// resolution. The grant is synthesized in exactly one place (Resolver),
	// so guard and handlers share a single rule.
	AdminRole = "admin"
)

// Managed permission catalog, ensured at startup.
const (
	PermissionManageUsers       = "users:manage"
	PermissionManageRoles       = "roles:manage"
	PermissionManagePermissions = "permissions:manage"
	PermissionReadReports       = "reports:read"
	PermissionExportReports     = "reports:export"
)

var BuiltinPermissions = []Permission{
	{Name: PermissionManageUsers, Resource: "users", Action: "manage", Description: "Manage user accounts, role assignments and grants"},
	{Name: PermissionManageRoles, Resource: "roles", Action: "manage", Description: "Create and delete roles"},
	{Name: PermissionManagePermissions, Resource: "permissions", Action: "manage", Description: "Manage the permission catalog and role permissions"},
	{Name: PermissionReadReports, Resource: "reports", Action: "read", Description: "Read reports"},
	{Name: PermissionExportReports, Resource: "reports", Action: "export", Description: "Export reports"},
}

// ParsePermission validates the canonical "resource:action" form and returns
// its parts, lower-cased.
func ParsePermission(name string) (resource, action string, err error) {
	name = strings.TrimSpace(strings.ToLower(name))
	parts := strings.Split(name, ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: permission must be resource:action, got %q", ErrInvalidInput, name)
	}
	resource, action = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if resource == "" || action == "" {
		return "", "", fmt.Errorf("%w: permission must be resource:action, got %q", ErrInvalidInput, name)
	}
	if resource == WildcardAction {
		return "", "", fmt.Errorf("%w: wildcard resource is not allowed", ErrInvalidInput)
	}
	return resource, action, nil
}

// Satisfies reports whether the held set grants the required permission.
// Total and side-effect free; both the guard and query handlers rely on it
// giving identical answers.
func Satisfies(held map[string]struct{}, required string) bool {
	if len(held) == 0 {
		return false
	}
	required = strings.TrimSpace(strings.ToLower(required))
	if _, ok := held[required]; ok {
		return true
	}
	if _, ok := held[AdminWildcard]; ok {
		return true
	}
	resource, _, err := ParsePermission(required)
	if err != nil {
		return false
	}
	_, ok := held[resource+":"+WildcardAction]
	return ok
}

// PermissionSet builds a lookup set from permission names, trimmed and
// lower-cased.
func PermissionSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
