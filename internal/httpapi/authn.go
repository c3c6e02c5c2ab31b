package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"ascms.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authenticator validates access tokens.
type Authenticator interface {
	Authenticate(token string) (auth.Principal, error)
}

// withAuth requires a valid bearer token and stores the principal in the request context.
func withAuth(authn Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		principal, err := authn.Authenticate(token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				unauthorized(w, r, "invalid or expired token")
				return
			}
			handleServiceError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequirePermission answers 403 unless the principal's token carries perm.
func RequirePermission(perm auth.PermissionCode) func(http.Handler) http.Handler {
	return require(func(p auth.Principal) bool { return p.HasPermission(perm) })
}

// RequireGroup answers 403 unless the principal belongs to the named group.
func RequireGroup(name string) func(http.Handler) http.Handler {
	return require(func(p auth.Principal) bool { return p.InGroup(name) })
}

func require(allowed func(auth.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "authentication required")
				return
			}
			if !allowed(p) {
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="ascms"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
