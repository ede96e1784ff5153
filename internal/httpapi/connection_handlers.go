package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gatekit.org/internal/audit"
)

type linkConnectionRequest struct {
	Provider     string `json:"provider"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

func (a *API) handleConnections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listConnections(w, r)
	case http.MethodPost:
		a.linkConnection(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listConnections(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	conns, err := a.svc.Linking.Connections(r.Context(), principal.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": toConnectionResponses(conns),
	})
}

func (a *API) linkConnection(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req linkConnectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	conn, err := a.svc.Linking.Link(r.Context(), principal.UserID, req.Provider, req.Code, req.CodeVerifier)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.connection.link",
		zap.String("user_id", principal.UserID),
		zap.String("provider", conn.Provider),
	)
	w.Header().Set("Location", "/v1/me/connections/"+conn.Provider)
	writeJSON(w, http.StatusCreated, connectionResponse{
		Provider:    conn.Provider,
		Email:       conn.Email,
		DisplayName: conn.DisplayName,
		AvatarURL:   conn.AvatarURL,
		LinkedAt:    conn.LinkedAt,
	})
}

func (a *API) handleConnectionResource(w http.ResponseWriter, r *http.Request) {
	provider := strings.TrimPrefix(r.URL.Path, "/v1/me/connections/")
	provider = strings.Trim(provider, "/")
	if provider == "" || strings.Contains(provider, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := a.svc.Linking.Unlink(r.Context(), principal.UserID, provider); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.connection.unlink",
		zap.String("user_id", principal.UserID),
		zap.String("provider", provider),
	)
	w.WriteHeader(http.StatusNoContent)
}
