package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ascms.org/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func withPrincipal(r *http.Request, p auth.Principal) *http.Request {
	return r.WithContext(auth.ContextWithPrincipal(r.Context(), p))
}

func TestRequirePermissionAllowsGranted(t *testing.T) {
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/users", nil), auth.Principal{
		UserID:      "u1",
		Permissions: auth.NewPermissionSet(auth.PermGetUsers),
	})
	rr := httptest.NewRecorder()
	RequirePermission(auth.PermGetUsers)(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequirePermissionRejectsMissing(t *testing.T) {
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/users", nil), auth.Principal{
		UserID:      "u1",
		Permissions: auth.NewPermissionSet(auth.PermGetUser),
	})
	rr := httptest.NewRecorder()
	RequirePermission(auth.PermGetUsers)(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireGroup(t *testing.T) {
	h := RequireGroup(auth.GroupAdmin)(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), auth.Principal{UserID: "u1", GroupName: auth.GroupAdmin}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), auth.Principal{UserID: "u1", GroupName: "admin"}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("group match must be exact, got %d", rr.Code)
	}
}

func TestRequireRejectsMissingPrincipal(t *testing.T) {
	rr := httptest.NewRecorder()
	RequireGroup(auth.GroupAdmin)(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header set")
	}
}

type stubAuthenticator struct {
	principal auth.Principal
	err       error
}

func (s stubAuthenticator) Authenticate(string) (auth.Principal, error) { return s.principal, s.err }

func TestWithAuth(t *testing.T) {
	var got auth.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFromContext(r.Context())
	})
	cases := []struct {
		name   string
		header string
		authn  stubAuthenticator
		want   int
	}{
		{"missing header", "", stubAuthenticator{}, http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", stubAuthenticator{}, http.StatusUnauthorized},
		{"invalid token", "Bearer abc", stubAuthenticator{err: auth.ErrInvalidToken}, http.StatusUnauthorized},
		{"backend failure", "Bearer abc", stubAuthenticator{err: errors.New("boom")}, http.StatusInternalServerError},
		{"valid", "bearer abc", stubAuthenticator{principal: auth.Principal{UserID: "u1"}}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
			if tc.header != "" {
				req.Header.Set(authHeader, tc.header)
			}
			rr := httptest.NewRecorder()
			withAuth(tc.authn, next).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if tc.want == http.StatusOK && got.UserID != "u1" {
				t.Fatalf("principal not stored: %+v", got)
			}
		})
	}
}

func TestHandleServiceErrorHidesInternalDetail(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("%w: name", auth.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: user", auth.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: email", auth.ErrConflict), http.StatusConflict},
		{auth.ErrForbidden, http.StatusForbidden},
		{errors.New("pq: connection refused to 10.1.2.3"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		handleServiceError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		if rr.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
		var body envelope
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if tc.want == http.StatusInternalServerError && (body.Message != "internal server error" || len(body.Errors) != 1 || body.Errors[0] != body.Message) {
			t.Fatalf("internal detail leaked: %+v", body)
		}
	}
}

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		ua                  string
		device, browser, os string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36 Edg/120.0", "Desktop", "Edge", "Windows"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1", "Mobile", "Safari", "iOS"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Desktop", "Firefox", "Linux"},
		{"curl/8.4.0", "Desktop", "curl", "Other"},
	}
	for _, tc := range cases {
		d, b, o := parseUserAgent(tc.ua)
		if d != tc.device || b != tc.browser || o != tc.os {
			t.Fatalf("%q: got %s/%s/%s", tc.ua, d, b, o)
		}
	}
}
