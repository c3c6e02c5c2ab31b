package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Repositories
	// WithinTx runs fn against repositories bound to one transaction. The transaction
	// commits only when fn returns nil.
	WithinTx(ctx context.Context, fn func(Repositories) error) error
}

// Repositories groups the per-entity stores.
type Repositories interface {
	Users() UserStore
	Groups() GroupStore
	Permissions() PermissionStore
	RefreshTokens() RefreshTokenStore
	LoginLogs() LoginLogStore
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Update(ctx context.Context, id string, upd UserUpdate) (User, error)
	List(ctx context.Context, filter UserFilter) ([]User, error)
	// Stats counts users by status and type, plus those created at or after since.
	Stats(ctx context.Context, since time.Time) (UserStats, error)
}

// UserStats summarizes the user base.
type UserStats struct {
	Total       int64     `json:"total"`
	Active      int64     `json:"active"`
	Deactivated int64     `json:"deactivated"`
	Individual  int64     `json:"individual"`
	Corporate   int64     `json:"corporate"`
	NewSince    int64     `json:"newSince"`
	Since       time.Time `json:"since"`
}

// UserUpdate lists the fields to change; nil fields are left untouched.
type UserUpdate struct {
	FirstName        *string
	LastName         *string
	Phone            *string
	ProfileImageURL  *string
	PasswordHash     *string
	Status           *UserStatus
	EmailConfirmed   *bool
	TwoFactorEnabled *bool
	GroupID          *string
	LastLoginAt      *time.Time
}

func (u UserUpdate) empty() bool {
	return u == UserUpdate{}
}

// UserFilter narrows ListUsers. A zero Limit means the default page size.
type UserFilter struct {
	Search  string
	Status  UserStatus
	GroupID string
	Limit   int
	Offset  int
}

// GroupStore manages user groups and their permission sets.
type GroupStore interface {
	Create(ctx context.Context, g *UserGroup) error
	Find(ctx context.Context, id string) (UserGroup, error)
	FindByName(ctx context.Context, name string) (UserGroup, error)
	List(ctx context.Context, includeInactive bool) ([]UserGroup, error)
	Update(ctx context.Context, id string, upd GroupUpdate) (UserGroup, error)
	SetPermissions(ctx context.Context, groupID string, perms []PermissionCode) error
	AddPermission(ctx context.Context, groupID string, perm PermissionCode) error
	RemovePermission(ctx context.Context, groupID string, perm PermissionCode) error
}

// GroupUpdate lists the group fields to change.
type GroupUpdate struct {
	Name        *string
	Description *string
	Active      *bool
}

// PermissionStore manages the persisted permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, entries []CatalogEntry) error
	List(ctx context.Context) ([]Permission, error)
}

// RefreshTokenStore manages refresh token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	// FindByHash locks the row for the rest of the transaction.
	FindByHash(ctx context.Context, hash string) (RefreshToken, error)
	Revoke(ctx context.Context, id string, at time.Time, by, replacedBy string) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time, by string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// LoginLogStore manages login history.
type LoginLogStore interface {
	Create(ctx context.Context, l *LoginLog) error
	// CloseLatest stamps logout time on the most recent open session of the user.
	CloseLatest(ctx context.Context, userID string, at time.Time) error
	ListForUser(ctx context.Context, userID string, limit int) ([]LoginLog, error)
}
