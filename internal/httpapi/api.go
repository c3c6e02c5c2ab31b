package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"ascms.org/internal/auth"
	"ascms.org/internal/obs"
)

const serviceName = "ascms-api"

// ReadinessChecker reports whether dependencies can serve traffic.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config tunes the HTTP edge.
type Config struct {
	Version        string
	CORSOrigins    []string
	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer over the auth service.
type API struct {
	mux     *http.ServeMux
	svc     *auth.Service
	ready   ReadinessChecker
	cfg     Config
	limiter *RateLimiter
}

func New(svc *auth.Service, ready ReadinessChecker, cfg Config) *API {
	if ready == nil {
		ready = ReadyProbe{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 6 << 20
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
	a := &API{
		mux:     http.NewServeMux(),
		svc:     svc,
		ready:   ready,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.limited("POST /auth/register", a.handleRegister)
	a.limited("POST /auth/login", a.handleLogin)
	a.limited("POST /auth/refresh-token", a.handleRefresh)
	a.limited("GET /auth/validate-email", a.handleValidateEmail)

	a.authed("POST /auth/logout", a.handleLogout)
	a.authed("POST /auth/change-password", a.handleChangePassword)
	a.authed("POST /auth/revoke-token", a.handleRevokeToken)

	a.authed("GET /users/me", a.handleMe)
	a.authed("PUT /users/me/profile", a.handleUpdateProfile)
	a.authed("POST /users/me/profile-image", a.handleProfileImage)
	a.authed("POST /users/me/two-factor/enable", a.handleTwoFactor(true))
	a.authed("POST /users/me/two-factor/disable", a.handleTwoFactor(false))

	a.guarded("GET /users", auth.PermGetUsers, a.handleListUsers)
	a.guarded("GET /users/by-email", auth.PermGetUserByEmail, a.handleGetUserByEmail)
	a.guarded("GET /users/statistics", auth.PermGetUsers, a.handleUserStatistics)
	a.guarded("POST /users/bulk/status", auth.PermUpdateUser, a.handleBulkStatus)
	a.guarded("POST /users/bulk/group", auth.PermSetRoleToUser, a.handleBulkGroup)
	a.guarded("GET /users/{id}", auth.PermGetUser, a.handleGetUser)
	a.guarded("POST /users/{id}/activate", auth.PermUpdateUser, a.handleActivateUser)
	a.guarded("POST /users/{id}/deactivate", auth.PermDeleteUser, a.handleDeactivateUser)
	a.guarded("POST /users/{id}/confirm-email", auth.PermUpdateUser, a.handleConfirmEmail)
	a.guarded("POST /users/{id}/reset-password", auth.PermResetPassword, a.handleResetPassword)
	a.guarded("PUT /users/{id}/group", auth.PermSetRoleToUser, a.handleSetUserGroup)
	a.guarded("GET /users/{id}/permissions", auth.PermGetPermissionsOfUser, a.handleUserPermissions)
	a.guarded("GET /users/{id}/login-logs", auth.PermGetUserLoginLogs, a.handleLoginLogs)

	a.guarded("GET /groups", auth.PermGetRoles, a.handleListGroups)
	a.guarded("GET /groups/{id}", auth.PermGetRoles, a.handleGetGroup)
	a.guarded("POST /groups", auth.PermAddRole, a.handleCreateGroup)
	a.guarded("PUT /groups/{id}", auth.PermAddRole, a.handleUpdateGroup)
	a.guarded("DELETE /groups/{id}", auth.PermAddRole, a.handleDeactivateGroup)
	a.guarded("PUT /groups/{id}/permissions", auth.PermSetUserPermissions, a.handleSetGroupPermissions)
	a.guarded("POST /groups/{id}/permissions/{code}", auth.PermSetUserPermissions, a.handleAddGroupPermission)
	a.guarded("DELETE /groups/{id}/permissions/{code}", auth.PermSetUserPermissions, a.handleRemoveGroupPermission)

	a.guarded("GET /permissions", auth.PermGetPermissions, a.handleListPermissions)
}

func (a *API) limited(pattern string, h http.HandlerFunc) {
	a.mux.Handle(pattern, a.limiter.Wrap(h))
}

func (a *API) authed(pattern string, h http.HandlerFunc) {
	a.mux.Handle(pattern, withAuth(a.svc, h))
}

func (a *API) guarded(pattern string, perm auth.PermissionCode, h http.HandlerFunc) {
	a.mux.Handle(pattern, withAuth(a.svc, RequirePermission(perm)(h)))
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = CORS(a.cfg.CORSOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(a.cfg.TrustedProxies)(h)
	return RequestID(h)
}

// Close stops background work started by New.
func (a *API) Close() {
	a.limiter.Close()
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, http.StatusOK, "ok", map[string]any{
		"service": serviceName,
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Warn("readiness check failed", map[string]any{"error": err.Error()})
		writeError(w, r, http.StatusServiceUnavailable, "not ready")
		return
	}
	obs.SetReady(true)
	writeOK(w, r, http.StatusOK, "ready", nil)
}
