package auth

import (
	"encoding/base64"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSigningKey = "test-signing-key-with-enough-entropy"

func newTestTokens(t *testing.T, now *time.Time) *TokenService {
	t.Helper()
	ts, err := NewTokenService(TokenConfig{SigningKey: testSigningKey, AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	ts.SetClock(func() time.Time { return *now })
	return ts
}

func TestIssueAndParseAccessToken(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestTokens(t, &now)

	user := User{ID: "u1", Email: "ann@example.com", FirstName: "Ann", LastName: "Lee", Type: UserTypeCorporate}
	group := &UserGroup{ID: "g1", Name: GroupCorporate, Active: true, Permissions: NewPermissionSet(PermGetUsers, PermGetUser)}

	token, exp, err := ts.IssueAccessToken(user, group)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := ts.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "ann@example.com" || claims.Name != "Ann Lee" {
		t.Fatalf("unexpected identity claims: %+v", claims)
	}
	if claims.Issuer != DefaultIssuer || !slices.Equal([]string(claims.Audience), []string{DefaultAudience}) {
		t.Fatalf("unexpected issuer/audience: %s %v", claims.Issuer, claims.Audience)
	}
	if claims.GroupName != GroupCorporate || claims.UserType != UserTypeCorporate {
		t.Fatalf("unexpected group claims: %+v", claims)
	}
	if !slices.Equal(claims.Permissions, []PermissionCode{PermGetUser, PermGetUsers}) {
		t.Fatalf("expected sorted permissions, got %v", claims.Permissions)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id")
	}
}

func TestAccessTokenWithoutGroupHasNoPermissions(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestTokens(t, &now)

	token, _, err := ts.IssueAccessToken(User{ID: "u1", Email: "a@example.com"}, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	claims, err := ts.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.Permissions == nil || len(claims.Permissions) != 0 {
		t.Fatalf("expected empty permission list, got %#v", claims.Permissions)
	}
	if claims.Name != "a@example.com" {
		t.Fatalf("display name should fall back to email, got %q", claims.Name)
	}
}

func TestAccessTokenExpiresWithoutSkew(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestTokens(t, &now)
	token, exp, err := ts.IssueAccessToken(User{ID: "u1"}, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	now = exp.Add(-time.Second)
	if _, err := ts.ParseAccessToken(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}
	now = exp
	if _, err := ts.ParseAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiry at exp, got %v", err)
	}
}

func TestParseAccessTokenRejectsForeignTokens(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestTokens(t, &now)

	other, err := NewTokenService(TokenConfig{SigningKey: "another-key", Audience: "someone-else"})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	other.SetClock(func() time.Time { return now })
	foreign, _, err := other.IssueAccessToken(User{ID: "u1"}, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	base := Claims{
		Version:     ClaimsVersion,
		Permissions: []PermissionCode{},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "u1",
			Audience:  jwt.ClaimStrings{DefaultAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	sign := func(c Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(testSigningKey))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	future := base
	future.Version = ClaimsVersion + 1
	noSubject := base
	noSubject.Subject = ""
	noExp := base
	noExp.ExpiresAt = nil
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, base).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	cases := map[string]string{
		"empty":           "",
		"garbage":         "not-a-token",
		"foreign key":     foreign,
		"other version":   sign(future),
		"missing subject": sign(noSubject),
		"missing exp":     sign(noExp),
		"alg none":        unsigned,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ts.ParseAccessToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected invalid token, got %v", err)
			}
		})
	}
	if _, err := ts.ParseAccessToken(sign(base)); err != nil {
		t.Fatalf("well-formed token rejected: %v", err)
	}
}

func TestNewRefreshToken(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestTokens(t, &now)

	raw, rec, err := ts.NewRefreshToken("u1", "10.0.0.1")
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(decoded) != refreshTokenBytes {
		t.Fatalf("expected %d random bytes, got %d (%v)", refreshTokenBytes, len(decoded), err)
	}
	if rec.TokenHash != HashRefreshToken(raw) || rec.TokenHash == raw {
		t.Fatal("record must hold the digest, not the token")
	}
	if rec.UserID != "u1" || rec.CreatedByIP != "10.0.0.1" || !rec.ExpiresAt.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.IsActive(now) || rec.IsActive(rec.ExpiresAt) {
		t.Fatal("token must be active until, and not at, its expiry")
	}

	again, _, err := ts.NewRefreshToken("u1", "")
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if again == raw {
		t.Fatal("refresh tokens must be unique")
	}
}

func TestNewTokenServiceRequiresKey(t *testing.T) {
	if _, err := NewTokenService(TokenConfig{SigningKey: "  "}); err == nil {
		t.Fatal("expected error for blank signing key")
	}
	ts, err := NewTokenService(TokenConfig{SigningKey: "k"})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	if ts.RefreshTTL() != DefaultRefreshTTL || ts.accessTTL != DefaultAccessTTL {
		t.Fatalf("defaults not applied: %v %v", ts.accessTTL, ts.RefreshTTL())
	}
}
