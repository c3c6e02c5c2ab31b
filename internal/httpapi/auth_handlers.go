package httpapi

import (
	"net/http"
	"time"

	"ascms.org/internal/audit"
	"ascms.org/internal/auth"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phoneNumber"`
	UserType  string `json:"userType"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type tokenResponse struct {
	AccessToken           string        `json:"accessToken"`
	RefreshToken          string        `json:"refreshToken"`
	ExpiresAt             time.Time     `json:"expiresAt"`
	RefreshTokenExpiresAt time.Time     `json:"refreshTokenExpiresAt"`
	User                  auth.UserView `json:"user"`
}

func newTokenResponse(res auth.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken:           res.Tokens.AccessToken,
		RefreshToken:          res.Tokens.RefreshToken,
		ExpiresAt:             res.Tokens.AccessExpiresAt,
		RefreshTokenExpiresAt: res.Tokens.RefreshExpiresAt,
		User:                  res.User,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := a.svc.Register(r.Context(), auth.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		UserType:  req.UserType,
		Client:    clientInfo(r),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id":   res.User.ID,
		"user_type": res.User.UserType,
	})
	writeOK(w, r, http.StatusCreated, "registration successful", newTokenResponse(res))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !bind(w, r, &req) {
		return
	}
	client := clientInfo(r)
	res, err := a.svc.Login(r.Context(), req.Email, req.Password, client)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": res.User.ID,
		"ip":      client.IP,
	})
	writeOK(w, r, http.StatusOK, "login successful", newTokenResponse(res))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := a.svc.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "token refreshed", newTokenResponse(res))
}

func (a *API) handleValidateEmail(w http.ResponseWriter, r *http.Request) {
	unique, err := a.svc.IsEmailUnique(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	msg := "email is available"
	if !unique {
		msg = "email is already registered"
	}
	writeOK(w, r, http.StatusOK, msg, map[string]bool{"isUnique": unique})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := a.svc.Logout(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeOK(w, r, http.StatusOK, "logged out", nil)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !bind(w, r, &req) {
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := a.svc.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.change", nil)
	writeOK(w, r, http.StatusOK, "password changed", nil)
}

func (a *API) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !bind(w, r, &req) {
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := a.svc.RevokeToken(r.Context(), userID, req.RefreshToken); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.revoke", nil)
	writeOK(w, r, http.StatusOK, "token revoked", nil)
}
