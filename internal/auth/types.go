package auth

import (
	"fmt"
	"strings"
	"time"
)

// UserType classifies an account and selects its default group.
type UserType string

const (
	UserTypeIndividual UserType = "Individual"
	UserTypeCorporate  UserType = "Corporate"
)

// ParseUserType accepts either spelling case-insensitively; empty means Individual.
func ParseUserType(s string) (UserType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "individual":
		return UserTypeIndividual, nil
	case "corporate":
		return UserTypeCorporate, nil
	default:
		return "", fmt.Errorf("%w: unsupported user type %q", ErrInvalidInput, s)
	}
}

// UserStatus is the lifecycle state of a user. Users are never removed.
type UserStatus string

const (
	UserStatusActive      UserStatus = "active"
	UserStatusDeactivated UserStatus = "deactivated"
)

// User is a persisted identity record.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	FirstName        string
	LastName         string
	Phone            string
	ProfileImageURL  string
	Type             UserType
	Status           UserStatus
	EmailConfirmed   bool
	TwoFactorEnabled bool
	GroupID          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastLoginAt      *time.Time
}

func (u User) Active() bool { return u.Status == UserStatusActive }

// DisplayName joins first and last name, falling back to the email.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// UserGroup is a named permission bundle (a role).
type UserGroup struct {
	ID          string
	Name        string
	Description string
	Active      bool
	Permissions PermissionSet
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a persisted catalog entry. Two permissions are equal when their Value is equal.
type Permission struct {
	ID          string
	Name        string
	Code        string
	Description string
	Value       PermissionCode
	Active      bool
	CreatedAt   time.Time
}

// RefreshToken is the server-side record of an opaque refresh token.
// Only the SHA-256 digest of the token is kept.
type RefreshToken struct {
	ID          string
	UserID      string
	TokenHash   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	CreatedByIP string
	RevokedAt   *time.Time
	RevokedBy   string
	ReplacedBy  string
}

func (t RefreshToken) Revoked() bool { return t.RevokedAt != nil }

func (t RefreshToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

func (t RefreshToken) IsActive(now time.Time) bool { return !t.Revoked() && !t.Expired(now) }

// Revocation reasons stored in RefreshToken.RevokedBy.
const (
	RevokedByLogin          = "login"
	RevokedByLogout         = "logout"
	RevokedByRotation       = "rotation"
	RevokedByPasswordChange = "password_change"
	RevokedByPasswordReset  = "password_reset"
	RevokedByDeactivation   = "deactivation"
	RevokedByUser           = "user"
)

// ClientInfo describes the caller of a login or refresh.
type ClientInfo struct {
	IP        string
	UserAgent string
	Device    string
	Browser   string
	OS        string
}

// LoginLog records one authentication attempt and, for successful ones, the session end.
type LoginLog struct {
	ID            string
	UserID        string
	LoginAt       time.Time
	LogoutAt      *time.Time
	Client        ClientInfo
	Successful    bool
	FailureReason string
}

// SessionDuration is logout minus login; zero while the session is still open.
func (l LoginLog) SessionDuration() time.Duration {
	if l.LogoutAt == nil {
		return 0
	}
	return l.LogoutAt.Sub(l.LoginAt)
}

// UserView is the public projection of a user returned to callers.
type UserView struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Phone            string     `json:"phoneNumber,omitempty"`
	ProfileImageURL  string     `json:"profileImageUrl,omitempty"`
	UserType         UserType   `json:"userType"`
	Status           UserStatus `json:"status"`
	EmailConfirmed   bool       `json:"emailConfirmed"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	GroupID          string     `json:"userGroupId,omitempty"`
	GroupName        string     `json:"userGroupName,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
}

// NewUserView projects u; group may be nil.
func NewUserView(u User, group *UserGroup) UserView {
	v := UserView{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Phone:            u.Phone,
		ProfileImageURL:  u.ProfileImageURL,
		UserType:         u.Type,
		Status:           u.Status,
		EmailConfirmed:   u.EmailConfirmed,
		TwoFactorEnabled: u.TwoFactorEnabled,
		GroupID:          u.GroupID,
		CreatedAt:        u.CreatedAt,
		LastLoginAt:      u.LastLoginAt,
	}
	if group != nil {
		v.GroupName = group.Name
	}
	return v
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AuthResult is returned by register, login and refresh.
type AuthResult struct {
	Tokens TokenPair
	User   UserView
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
