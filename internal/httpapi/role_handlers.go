package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"unmgate.org/internal/permission"
)

type checkPermissionRequest struct {
	RoleID    string         `json:"roleId"`
	Resource  string         `json:"resource"`
	Operation string         `json:"operation"`
	Path      string         `json:"path,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRoles(w, r)
	case http.MethodPost:
		a.createRole(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/admin/roles/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getRole(w, r, id)
	case http.MethodPatch:
		a.updateRole(w, r, id)
	case http.MethodDelete:
		a.deleteRole(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.roles.List(r.Context())
	if err != nil {
		handleRoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": roles})
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var role permission.Role
	if err := decodeJSON(w, r, &role); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.roles.Create(r.Context(), role); err != nil {
		handleRoleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/admin/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request, id string) {
	role, err := a.roles.Get(r.Context(), id)
	if err != nil {
		handleRoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request, id string) {
	var patch map[string]any
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	delete(patch, "id")
	role, err := a.roles.Update(r.Context(), id, patch)
	if err != nil {
		handleRoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.roles.Delete(r.Context(), id); err != nil {
		handleRoleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePermissionCheck evaluates an arbitrary (role, resource,
// operation, path) tuple. Meant for admin tooling and debugging.
func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RoleID == "" || req.Resource == "" || req.Operation == "" {
		writeError(w, r, http.StatusBadRequest, "roleId, resource and operation are required")
		return
	}

	decision, err := a.eval.Check(r.Context(), permission.Request{
		RoleID:    req.RoleID,
		Resource:  req.Resource,
		Operation: permission.Operation(req.Operation),
		Path:      req.Path,
		Extra:     req.Context,
	})
	if err != nil {
		if errors.Is(err, permission.ErrCyclicInheritance) {
			writeError(w, r, http.StatusConflict, err.Error())
			return
		}
		handleRoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func handleRoleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, permission.ErrRoleNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, permission.ErrRoleExists):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
