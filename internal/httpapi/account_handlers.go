package httpapi

import (
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/auth"
)

type updateProfileRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"display_name"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type deactivateRequest struct {
	Password string `json:"password"`
}

type meResponse struct {
	userResponse
	Roles       []string             `json:"roles"`
	Permissions []string             `json:"permissions"`
	Connections []connectionResponse `json:"connections"`
}

type connectionResponse struct {
	Provider    string    `json:"provider"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	LinkedAt    time.Time `json:"linked_at"`
}

func toConnectionResponses(conns []*auth.OAuthConnection) []connectionResponse {
	out := make([]connectionResponse, 0, len(conns))
	for _, c := range conns {
		out = append(out, connectionResponse{
			Provider:    c.Provider,
			Email:       c.Email,
			DisplayName: c.DisplayName,
			AvatarURL:   c.AvatarURL,
			LinkedAt:    c.LinkedAt,
		})
	}
	return out
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleGetMe(w, r)
	case http.MethodPatch:
		a.handleUpdateProfile(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleGetMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	user, err := a.svc.Accounts.Profile(r.Context(), principal.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	access, err := a.svc.Resolver.EffectivePermissions(r.Context(), principal.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	conns, err := a.svc.Linking.Connections(r.Context(), principal.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	perms := make([]string, 0, len(access.Permissions))
	for name := range access.Permissions {
		perms = append(perms, name)
	}
	sort.Strings(perms)
	writeJSON(w, http.StatusOK, meResponse{
		userResponse: toUserResponse(user),
		Roles:        access.Roles,
		Permissions:  perms,
		Connections:  toConnectionResponses(conns),
	})
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Accounts.UpdateProfile(r.Context(), principal.UserID, auth.ProfileUpdate{
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.profile.update", zap.String("user_id", user.ID))
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Accounts.ChangePassword(r.Context(), principal.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.password.change", zap.String("user_id", principal.UserID))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req deactivateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Accounts.Deactivate(r.Context(), principal.UserID, req.Password); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.deactivate", zap.String("user_id", principal.UserID))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	count, err := a.svc.Accounts.LogoutAll(r.Context(), principal.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.logout_all",
		zap.String("user_id", principal.UserID),
		zap.Int("revoked", count),
	)
	writeJSON(w, http.StatusOK, map[string]any{"revoked": count})
}
