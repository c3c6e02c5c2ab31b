package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ascms.org/internal/audit"
	"ascms.org/internal/auth"
)

type profileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phoneNumber"`
}

type setGroupRequest struct {
	GroupID string `json:"userGroupId"`
}

type bulkStatusRequest struct {
	UserIDs []string `json:"userIds"`
	Status  string   `json:"status"`
}

type bulkGroupRequest struct {
	UserIDs []string `json:"userIds"`
	GroupID string   `json:"userGroupId"`
}

type loginLogView struct {
	ID              string     `json:"id"`
	LoginAt         time.Time  `json:"loginAt"`
	LogoutAt        *time.Time `json:"logoutAt,omitempty"`
	IPAddress       string     `json:"ipAddress"`
	UserAgent       string     `json:"userAgent"`
	Device          string     `json:"device"`
	Browser         string     `json:"browser"`
	OS              string     `json:"os"`
	Successful      bool       `json:"isSuccessful"`
	FailureReason   string     `json:"failureReason,omitempty"`
	SessionDuration int64      `json:"sessionDurationSeconds"`
}

func newLoginLogView(l auth.LoginLog) loginLogView {
	return loginLogView{
		ID:              l.ID,
		LoginAt:         l.LoginAt,
		LogoutAt:        l.LogoutAt,
		IPAddress:       l.Client.IP,
		UserAgent:       l.Client.UserAgent,
		Device:          l.Client.Device,
		Browser:         l.Client.Browser,
		OS:              l.Client.OS,
		Successful:      l.Successful,
		FailureReason:   l.FailureReason,
		SessionDuration: int64(l.SessionDuration() / time.Second),
	}
}

func currentUserID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.GetUser(r.Context(), currentUserID(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", user)
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !bind(w, r, &req) {
		return
	}
	user, err := a.svc.UpdateProfile(r.Context(), currentUserID(r), auth.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "profile updated", user)
}

func (a *API) handleProfileImage(w http.ResponseWriter, r *http.Request) {
	if !a.svc.UploadsEnabled() {
		writeError(w, r, http.StatusServiceUnavailable, "file uploads are not configured")
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	user, err := a.svc.UploadProfileImage(r.Context(), currentUserID(r), file, header.Size)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "profile image updated", user)
}

func (a *API) handleTwoFactor(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.svc.SetTwoFactor(r.Context(), currentUserID(r), enabled)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		msg := "two-factor authentication disabled"
		if enabled {
			msg = "two-factor authentication enabled"
		}
		writeOK(w, r, http.StatusOK, msg, user)
	}
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50, 1, 200)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, 1<<30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	users, err := a.svc.ListUsers(r.Context(), auth.UserFilter{
		Search:  q.Get("search"),
		Status:  auth.UserStatus(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		GroupID: strings.TrimSpace(q.Get("groupId")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", users)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", user)
}

func (a *API) handleGetUserByEmail(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.GetUserByEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", user)
}

func (a *API) handleUserStatistics(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		var err error
		if since, err = parseSince(raw); err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be an RFC 3339 timestamp or a YYYY-MM-DD date")
			return
		}
	}
	stats, err := a.svc.UserStatistics(r.Context(), since)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", stats)
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func (a *API) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusRequest
	if !bind(w, r, &req) {
		return
	}
	status := auth.UserStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status == auth.UserStatusDeactivated {
		p, _ := auth.PrincipalFromContext(r.Context())
		if !p.HasPermission(auth.PermDeleteUser) {
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		for _, id := range req.UserIDs {
			if strings.TrimSpace(id) == p.UserID {
				writeError(w, r, http.StatusBadRequest, "you cannot deactivate your own account")
				return
			}
		}
	}
	users, err := a.svc.BulkSetStatus(r.Context(), req.UserIDs, status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.bulk.status", map[string]any{
		"status": string(status),
		"count":  len(users),
	})
	writeOK(w, r, http.StatusOK, "status updated", users)
}

func (a *API) handleBulkGroup(w http.ResponseWriter, r *http.Request) {
	var req bulkGroupRequest
	if !bind(w, r, &req) {
		return
	}
	users, err := a.svc.BulkSetGroup(r.Context(), req.UserIDs, req.GroupID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.bulk.group", map[string]any{
		"group_id": strings.TrimSpace(req.GroupID),
		"count":    len(users),
	})
	writeOK(w, r, http.StatusOK, "group assigned", users)
}

func (a *API) handleActivateUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.ActivateUser(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.activate", map[string]any{"user_id": user.ID})
	writeOK(w, r, http.StatusOK, "user activated", user)
}

func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == currentUserID(r) {
		writeError(w, r, http.StatusBadRequest, "you cannot deactivate your own account")
		return
	}
	user, err := a.svc.DeactivateUser(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.deactivate", map[string]any{"user_id": user.ID})
	writeOK(w, r, http.StatusOK, "user deactivated", user)
}

func (a *API) handleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.ConfirmEmail(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.email.confirm", map[string]any{"user_id": user.ID})
	writeOK(w, r, http.StatusOK, "email confirmed", user)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.svc.ResetPassword(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.password.reset", map[string]any{"user_id": id})
	writeOK(w, r, http.StatusOK, "password reset, the new password was sent to the user", nil)
}

func (a *API) handleSetUserGroup(w http.ResponseWriter, r *http.Request) {
	var req setGroupRequest
	if !bind(w, r, &req) {
		return
	}
	user, err := a.svc.SetUserGroup(r.Context(), r.PathValue("id"), req.GroupID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.group.assign", map[string]any{
		"user_id":  user.ID,
		"group_id": user.GroupID,
	})
	writeOK(w, r, http.StatusOK, "group assigned", user)
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.svc.UserPermissions(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", perms)
}

func (a *API) handleLoginLogs(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count", 10, 1, 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := a.svc.LoginLogs(r.Context(), r.PathValue("id"), count)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	views := make([]loginLogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, newLoginLogView(l))
	}
	writeOK(w, r, http.StatusOK, "", views)
}
