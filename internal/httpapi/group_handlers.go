package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"ascms.org/internal/audit"
	"ascms.org/internal/auth"
)

type groupRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Permissions []auth.PermissionCode `json:"permissions"`
}

type updateGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

type groupPermissionsRequest struct {
	Permissions []auth.PermissionCode `json:"permissions"`
}

type permissionView struct {
	Value       auth.PermissionCode `json:"value"`
	Name        string              `json:"name"`
	Code        string              `json:"code"`
	Description string              `json:"description,omitempty"`
	Active      bool                `json:"active"`
}

func (a *API) handleListGroups(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("includeInactive"))
	groups, err := a.svc.ListGroups(r.Context(), includeInactive)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", groups)
}

func (a *API) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := a.svc.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", g)
}

func (a *API) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !bind(w, r, &req) {
		return
	}
	g, err := a.svc.CreateGroup(r.Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "group.create", map[string]any{
		"group_id":    g.ID,
		"name":        g.Name,
		"permissions": len(g.Permissions),
	})
	w.Header().Set("Location", fmt.Sprintf("/groups/%s", g.ID))
	writeOK(w, r, http.StatusCreated, "group created", g)
}

func (a *API) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req updateGroupRequest
	if !bind(w, r, &req) {
		return
	}
	g, err := a.svc.UpdateGroup(r.Context(), r.PathValue("id"), auth.GroupUpdate{
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "group.update", map[string]any{"group_id": g.ID, "name": g.Name, "active": g.Active})
	writeOK(w, r, http.StatusOK, "group updated", g)
}

func (a *API) handleDeactivateGroup(w http.ResponseWriter, r *http.Request) {
	g, err := a.svc.DeactivateGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "group.deactivate", map[string]any{"group_id": g.ID, "name": g.Name})
	writeOK(w, r, http.StatusOK, "group deactivated", g)
}

func (a *API) handleSetGroupPermissions(w http.ResponseWriter, r *http.Request) {
	var req groupPermissionsRequest
	if !bind(w, r, &req) {
		return
	}
	g, err := a.svc.SetGroupPermissions(r.Context(), r.PathValue("id"), req.Permissions)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "group.permissions.set", map[string]any{
		"group_id":    g.ID,
		"permissions": g.Permissions,
	})
	writeOK(w, r, http.StatusOK, "group permissions updated", g)
}

func (a *API) handleAddGroupPermission(w http.ResponseWriter, r *http.Request) {
	a.changeGroupPermission(w, r, "group.permissions.add", a.svc.AddGroupPermission)
}

func (a *API) handleRemoveGroupPermission(w http.ResponseWriter, r *http.Request) {
	a.changeGroupPermission(w, r, "group.permissions.remove", a.svc.RemoveGroupPermission)
}

type groupPermissionChange func(ctx context.Context, groupID string, perm auth.PermissionCode) (auth.GroupView, error)

func (a *API) changeGroupPermission(w http.ResponseWriter, r *http.Request, event string, change groupPermissionChange) {
	perm, err := auth.ParsePermissionCode(r.PathValue("code"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	g, err := change(r.Context(), r.PathValue("id"), perm)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{"group_id": g.ID, "permission": perm.String()})
	writeOK(w, r, http.StatusOK, "group permissions updated", g)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.svc.ListPermissions(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	views := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		views = append(views, permissionView{
			Value:       p.Value,
			Name:        p.Name,
			Code:        p.Code,
			Description: p.Description,
			Active:      p.Active,
		})
	}
	writeOK(w, r, http.StatusOK, "", views)
}
