package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pkazmin/auth-rbac-service/internal/http/response"
	"github.com/pkazmin/auth-rbac-service/internal/observability"
	"github.com/pkazmin/auth-rbac-service/internal/service"
)

type GroupHandler struct {
	groups *service.GroupService
}

func NewGroupHandler(groups *service.GroupService) *GroupHandler {
	return &GroupHandler{groups: groups}
}

type groupRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_ID", "malformed identifier", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "group name is required", nil)
		return
	}
	view, err := h.groups.Create(req.Name, req.Permissions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "group.create", "group", req.Name)
	response.JSON(w, r, http.StatusCreated, view)
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.groups.List()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, views)
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "groupID")
	if !ok {
		return
	}
	var req groupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "group name is required", nil)
		return
	}
	view, err := h.groups.Update(id, req.Name, req.Permissions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "group.update", "group_id", id.String())
	response.JSON(w, r, http.StatusOK, view)
}

func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.groups.Delete(id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "group.delete", "group_id", id.String())
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

type PermissionHandler struct {
	permissions *service.PermissionService
}

func NewPermissionHandler(permissions *service.PermissionService) *PermissionHandler {
	return &PermissionHandler{permissions: permissions}
}

type permissionRequest struct {
	Name string `json:"name"`
}

func (h *PermissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "permission name is required", nil)
		return
	}
	view, err := h.permissions.Create(req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "permission.create", "permission", req.Name)
	response.JSON(w, r, http.StatusCreated, view)
}

func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.permissions.List()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, views)
}

func (h *PermissionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "permissionID")
	if !ok {
		return
	}
	var req permissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "permission name is required", nil)
		return
	}
	view, err := h.permissions.Update(id, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "permission.update", "permission_id", id.String())
	response.JSON(w, r, http.StatusOK, view)
}

func (h *PermissionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.permissions.Delete(id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "permission.delete", "permission_id", id.String())
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

type UserAdminHandler struct {
	users *service.UserService
}

func NewUserAdminHandler(users *service.UserService) *UserAdminHandler {
	return &UserAdminHandler{users: users}
}

type setGroupsRequest struct {
	GroupIDs []uuid.UUID `json:"group_ids"`
}

// SetGroups replaces the full group membership of a user. Permission
// changes take effect on the next authorized request; no token reissue
// is needed.
func (h *UserAdminHandler) SetGroups(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "userID")
	if !ok {
		return
	}
	var req setGroupsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.users.SetGroups(id, req.GroupIDs); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "user.set_groups", "user_id", id.String(), "groups", len(req.GroupIDs))
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "groups_updated"})
}
