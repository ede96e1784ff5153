package httpapi

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/auth"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type grantPermissionRequest struct {
	Permission string `json:"permission"`
}

type roleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
}

type permissionResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type accessResponse struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func toRoleResponse(role *auth.Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		IsSystem:    role.IsSystem,
		CreatedAt:   role.CreatedAt,
	}
}

func toPermissionResponse(p *auth.Permission) permissionResponse {
	return permissionResponse{
		ID:          p.ID,
		Name:        p.Name,
		Resource:    p.Resource,
		Action:      p.Action,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRoles(w, r)
	case http.MethodPost:
		a.createRole(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermissionManageRoles) {
		return
	}
	roles, err := a.svc.Admin.ListRoles(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermissionManageRoles) {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.svc.Admin.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.create",
		zap.String("role_id", role.ID),
		zap.String("role", role.Name),
	)
	w.Header().Set("Location", "/v1/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, toRoleResponse(role))
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.roleByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "permissions":
		a.setRolePermissions(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) roleByID(w http.ResponseWriter, r *http.Request, roleID string) {
	if !a.ensurePermissions(w, r, auth.PermissionManageRoles) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		role, err := a.svc.Admin.GetRole(r.Context(), roleID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRoleResponse(role))
	case http.MethodDelete:
		if err := a.svc.Admin.DeleteRole(r.Context(), roleID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.delete", zap.String("role_id", roleID))
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) setRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermissionManagePermissions) {
		return
	}
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Admin.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permissions.set",
		zap.String("role_id", roleID),
		zap.Int("count", len(req.Permissions)),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listPermissions(w, r)
	case http.MethodPost:
		a.createPermission(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermissionManagePermissions) {
		return
	}
	offset, err := parsePositiveInt(r.URL.Query().Get("offset"), 0, 0, 1<<30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "offset: "+err.Error())
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 50, 1, 200)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	perms, err := a.svc.Admin.ListPermissions(r.Context(), offset, limit)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": out,
		"offset":      offset,
		"limit":       limit,
	})
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermissionManagePermissions) {
		return
	}
	var req createPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.svc.Admin.CreatePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permission.create", zap.String("permission", perm.Name))
	writeJSON(w, http.StatusCreated, toPermissionResponse(perm))
}

// handleUserResource routes the per-user administration endpoints:
//
//	GET    /v1/users/{id}/access
//	POST   /v1/users/{id}/roles
//	DELETE /v1/users/{id}/roles/{roleID}
//	POST   /v1/users/{id}/permissions
//	DELETE /v1/users/{id}/permissions/{name}
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "access":
		a.userAccess(w, r, userID)
	case len(parts) == 2 && parts[1] == "roles":
		a.assignUserRole(w, r, userID)
	case len(parts) == 3 && parts[1] == "roles":
		a.removeUserRole(w, r, userID, parts[2])
	case len(parts) == 2 && parts[1] == "permissions":
		a.grantUserPermission(w, r, userID)
	case len(parts) == 3 && parts[1] == "permissions":
		a.revokeUserPermission(w, r, userID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) userAccess(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermissionManageUsers) {
		return
	}
	access, err := a.svc.Resolver.EffectivePermissions(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	perms := make([]string, 0, len(access.Permissions))
	for name := range access.Permissions {
		perms = append(perms, name)
	}
	sort.Strings(perms)
	writeJSON(w, http.StatusOK, accessResponse{
		UserID:      userID,
		Roles:       access.Roles,
		Permissions: perms,
	})
}

func (a *API) assignUserRole(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	if !a.ensurePermissions(w, r, auth.PermissionManageUsers) {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assignment, err := a.svc.Admin.AssignRole(r.Context(), userID, req.RoleID, principal.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.assign",
		zap.String("target_user_id", userID),
		zap.String("role_id", assignment.RoleID),
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":     assignment.UserID,
		"role_id":     assignment.RoleID,
		"assigned_by": assignment.AssignedBy,
		"created_at":  assignment.CreatedAt,
	})
}

func (a *API) removeUserRole(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermissionManageUsers) {
		return
	}
	if err := a.svc.Admin.RemoveRole(r.Context(), userID, roleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.unassign",
		zap.String("target_user_id", userID),
		zap.String("role_id", roleID),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) grantUserPermission(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermissionManageUsers) {
		return
	}
	var req grantPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Admin.GrantPermission(r.Context(), userID, req.Permission); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permission.grant",
		zap.String("target_user_id", userID),
		zap.String("permission", req.Permission),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokeUserPermission(w http.ResponseWriter, r *http.Request, userID, permission string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermissionManageUsers) {
		return
	}
	if err := a.svc.Admin.RevokePermission(r.Context(), userID, permission); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permission.revoke",
		zap.String("target_user_id", userID),
		zap.String("permission", permission),
	)
	w.WriteHeader(http.StatusNoContent)
}
