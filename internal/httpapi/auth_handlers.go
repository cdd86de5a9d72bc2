package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"veyra.org/internal/obs"
	"veyra.org/internal/rbac"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authorizeRequest struct {
	Resource       string `json:"resource"`
	Action         string `json:"action"`
	Scope          string `json:"scope"`
	OrganizationID string `json:"organization_id"`
}

type createUserRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	RoleID         string `json:"role_id"`
	OrganizationID string `json:"organization_id"`
}

type grantPermissionRequest struct {
	Permission string `json:"permission"`
	Reason     string `json:"reason"`
}

type changeRoleRequest struct {
	RoleID string `json:"role_id"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := a.svc.Authenticate(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, rbac.ErrAccountLocked):
			obs.ObserveLogin("locked")
			writeError(w, r, http.StatusForbidden, "account locked")
		case errors.Is(err, rbac.ErrUnauthenticated):
			obs.ObserveLogin("failure")
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		default:
			obs.ObserveLogin("error")
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	obs.ObserveLogin("success")
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":              user.ID,
			"organization_id": user.OrganizationID,
			"role_id":         user.RoleID,
			"email":           user.Email,
		},
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, ok := rbac.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := a.svc.Logout(r.Context(), token); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, ok := rbac.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	scope, err := rbac.ParseScope(req.Scope)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown scope")
		return
	}
	decision, err := a.svc.Authorize(r.Context(), token, req.Resource, req.Action, scope, req.OrganizationID)
	obs.ObserveDecision(decision.Allowed, decision.Reason)
	if err != nil && decision.Reason == rbac.ReasonStoreFailure {
		writeError(w, r, http.StatusInternalServerError, "authorization unavailable")
		return
	}
	if err != nil && errors.Is(err, rbac.ErrInvalidInput) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if decision.Allowed {
		writeJSON(w, http.StatusOK, map[string]any{"allowed": true})
		return
	}
	switch decision.Reason {
	case rbac.ReasonInvalidSession:
		writeError(w, r, http.StatusUnauthorized, "invalid session")
	case rbac.ReasonRateLimited:
		obs.ObserveRateLimitDenial()
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter/time.Second)))
		writeError(w, r, http.StatusTooManyRequests, "organization quota exceeded")
	default:
		// account_locked, boundary_violation, missing_permission
		writeError(w, r, http.StatusForbidden, decision.Reason)
	}
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	orgID := principal.User.OrganizationID
	if req.OrganizationID != "" && req.OrganizationID != orgID {
		if principal.Role.ID != rbac.RoleSystemSuperAdmin {
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		orgID = req.OrganizationID
	}
	if !principal.HasPermission(rbac.Permission{Resource: "users", Action: "manage", Scope: rbac.ScopeOrganization}) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	user, err := a.svc.RegisterUser(r.Context(), orgID, req.Email, req.Password, req.RoleID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              user.ID,
		"organization_id": user.OrganizationID,
		"role_id":         user.RoleID,
		"email":           user.Email,
	})
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "permissions":
		if len(parts) == 2 && r.Method == http.MethodPost {
			a.handleGrantPermission(w, r, principal, userID)
			return
		}
		if len(parts) == 3 && r.Method == http.MethodDelete {
			a.handleRevokePermission(w, r, principal, userID, parts[2])
			return
		}
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	case "role":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.handleChangeRole(w, r, principal, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request, principal rbac.Principal, userID string) {
	var req grantPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.GrantPermission(r.Context(), principal.User.ID, userID, req.Permission, req.Reason); err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "granted"})
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request, principal rbac.Principal, userID, key string) {
	if err := a.svc.RevokePermission(r.Context(), principal.User.ID, userID, key, r.URL.Query().Get("reason")); err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (a *API) handleChangeRole(w http.ResponseWriter, r *http.Request, principal rbac.Principal, userID string) {
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangeRole(r.Context(), principal.User.ID, userID, req.RoleID); err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "role_changed"})
}

func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if !principal.HasPermission(rbac.Permission{Resource: "audit", Action: "read", Scope: rbac.ScopeOrganization}) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	orgID := principal.User.OrganizationID
	if v := r.URL.Query().Get("organization_id"); v != "" && v != orgID {
		if principal.Role.ID != rbac.RoleSystemSuperAdmin {
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		orgID = v
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := a.trail.Query(r.Context(), orgID, page, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{
			"id":              rec.ID,
			"organization_id": rec.OrganizationID,
			"user_id":         rec.UserID,
			"action":          rec.Action,
			"resource":        rec.Resource,
			"resource_id":     rec.ResourceID,
			"detail":          rec.Detail,
			"created_at":      rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func handleCoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, rbac.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrForbidden), errors.Is(err, rbac.ErrAccountLocked):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, rbac.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
