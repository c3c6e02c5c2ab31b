package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ascms.org/internal/ids"
)

const (
	DefaultIssuer     = "AS-CMS"
	DefaultAudience   = "AS-CMS-Users"
	DefaultAccessTTL  = 60 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	// ClaimsVersion is the schema version of Claims. Tokens with another version are rejected.
	ClaimsVersion = 1

	refreshTokenBytes = 64
)

var errMissingSigningKey = errors.New("auth: signing key is not configured")

// Claims is the fixed payload of an access token.
type Claims struct {
	Version     int              `json:"ver"`
	Email       string           `json:"email"`
	Name        string           `json:"name"`
	UserType    UserType         `json:"user_type"`
	GroupID     string           `json:"group_id,omitempty"`
	GroupName   string           `json:"group,omitempty"`
	Permissions []PermissionCode `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService signs and validates access tokens and mints opaque refresh tokens.
// Validation allows no clock skew: a token is rejected from the second its exp is reached.
type TokenService struct {
	key        []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService fails when the signing key is empty.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	key := strings.TrimSpace(cfg.SigningKey)
	if key == "" {
		return nil, errMissingSigningKey
	}
	ts := &TokenService{
		key:        []byte(key),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	if ts.issuer == "" {
		ts.issuer = DefaultIssuer
	}
	if ts.audience == "" {
		ts.audience = DefaultAudience
	}
	if ts.accessTTL <= 0 {
		ts.accessTTL = DefaultAccessTTL
	}
	if ts.refreshTTL <= 0 {
		ts.refreshTTL = DefaultRefreshTTL
	}
	return ts, nil
}

// SetClock overrides the time source.
func (ts *TokenService) SetClock(fn func() time.Time) {
	if fn != nil {
		ts.now = fn
	}
}

func (ts *TokenService) RefreshTTL() time.Duration { return ts.refreshTTL }

// IssueAccessToken signs an access token for user. A nil group yields an explicit empty
// permission list.
func (ts *TokenService) IssueAccessToken(user User, group *UserGroup) (string, time.Time, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := ts.now().UTC()
	exp := now.Add(ts.accessTTL)
	claims := Claims{
		Version:     ClaimsVersion,
		Email:       user.Email,
		Name:        user.DisplayName(),
		UserType:    user.Type,
		Permissions: []PermissionCode{},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{ts.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}
	if group != nil {
		claims.GroupID = group.ID
		claims.GroupName = group.Name
		claims.Permissions = group.Permissions.Codes()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseAccessToken verifies signature, issuer, audience, expiry and schema version.
func (ts *TokenService) ParseAccessToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return ts.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ts.issuer),
		jwt.WithAudience(ts.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(0),
		jwt.WithTimeFunc(ts.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Version != ClaimsVersion || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if claims.Permissions == nil {
		claims.Permissions = []PermissionCode{}
	}
	return claims, nil
}

// NewRefreshToken returns the opaque token handed to the client and the record to persist.
func (ts *TokenService) NewRefreshToken(userID, ip string) (string, RefreshToken, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", RefreshToken{}, fmt.Errorf("generate refresh token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)
	now := ts.now().UTC()
	rec := RefreshToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		TokenHash:   HashRefreshToken(raw),
		ExpiresAt:   now.Add(ts.refreshTTL),
		CreatedAt:   now,
		CreatedByIP: ip,
	}
	return raw, rec, nil
}

// HashRefreshToken is the lookup key stored for a refresh token.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
