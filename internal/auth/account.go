package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ascms.org/internal/ids"
	"ascms.org/internal/obs"
)

const (
	defaultLoginLogCount = 10
	maxLoginLogCount     = 100
	defaultPageSize      = 50
	maxPageSize          = 200
	maxBulkUsers         = 200

	defaultStatsWindowDays = 30

	// MaxProfileImageBytes bounds profile image uploads.
	MaxProfileImageBytes = 5 << 20
)

var profileImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// GetUser returns the public view of a user.
func (s *Service) GetUser(ctx context.Context, userID string) (UserView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserView{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	group, err := s.userGroup(ctx, s.store, user)
	if err != nil {
		return UserView{}, err
	}
	return NewUserView(user, group), nil
}

// ListUsers pages through users matching filter.
func (s *Service) ListUsers(ctx context.Context, filter UserFilter) ([]UserView, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	switch filter.Status {
	case "", UserStatusActive, UserStatusDeactivated:
	default:
		return nil, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, filter.Status)
	}
	users, err := s.store.Users().List(ctx, filter)
	if err != nil {
		return nil, err
	}
	groups, err := s.store.Groups().List(ctx, true)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*UserGroup, len(groups))
	for i := range groups {
		byID[groups[i].ID] = &groups[i]
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, NewUserView(u, byID[u.GroupID]))
	}
	return views, nil
}

// GetUserByEmail looks a user up by its (case-insensitive) email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (UserView, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return UserView{}, err
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return UserView{}, err
	}
	group, err := s.userGroup(ctx, s.store, user)
	if err != nil {
		return UserView{}, err
	}
	return NewUserView(user, group), nil
}

// UserStatistics counts users by status and type. A zero since defaults to the last
// 30 days.
func (s *Service) UserStatistics(ctx context.Context, since time.Time) (UserStats, error) {
	now := s.now().UTC()
	if since.IsZero() {
		since = now.AddDate(0, 0, -defaultStatsWindowDays)
	}
	if since.After(now) {
		return UserStats{}, fmt.Errorf("%w: since must not be in the future", ErrInvalidInput)
	}
	return s.store.Users().Stats(ctx, since.UTC())
}

// IsEmailUnique reports whether no account uses email yet.
func (s *Service) IsEmailUnique(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return false, err
	}
	exists, err := s.store.Users().EmailExists(ctx, email)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// ActivateUser moves a user back to the active state.
func (s *Service) ActivateUser(ctx context.Context, userID string) (UserView, error) {
	view, user, err := s.setStatus(ctx, userID, UserStatusActive)
	if err != nil {
		return UserView{}, err
	}
	s.notify("account_activated", func() error { return s.notifier.SendAccountActivated(ctx, recipientOf(user)) })
	return view, nil
}

// DeactivateUser soft-deletes a user and ends all of its refresh chains.
func (s *Service) DeactivateUser(ctx context.Context, userID string) (UserView, error) {
	view, user, err := s.setStatus(ctx, userID, UserStatusDeactivated)
	if err != nil {
		return UserView{}, err
	}
	s.notify("account_deactivated", func() error { return s.notifier.SendAccountDeactivated(ctx, recipientOf(user)) })
	return view, nil
}

func (s *Service) setStatus(ctx context.Context, userID string, status UserStatus) (UserView, User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserView{}, User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	var (
		view UserView
		user User
	)
	err := s.store.WithinTx(ctx, func(r Repositories) error {
		var err error
		view, user, err = s.applyStatus(ctx, r, userID, status)
		return err
	})
	return view, user, err
}

// applyStatus changes the status inside an open transaction. Deactivation ends every
// refresh chain of the user.
func (s *Service) applyStatus(ctx context.Context, r Repositories, userID string, status UserStatus) (UserView, User, error) {
	user, err := r.Users().Update(ctx, userID, UserUpdate{Status: &status})
	if err != nil {
		return UserView{}, User{}, err
	}
	if status == UserStatusDeactivated {
		revoked, err := r.RefreshTokens().RevokeAllForUser(ctx, userID, s.now().UTC(), RevokedByDeactivation)
		if err != nil {
			return UserView{}, User{}, err
		}
		obs.RecordTokensRevoked(RevokedByDeactivation, revoked)
	}
	group, err := s.userGroup(ctx, r, user)
	if err != nil {
		return UserView{}, User{}, err
	}
	return NewUserView(user, group), user, nil
}

// BulkSetStatus applies status to every listed user in one transaction. An unknown
// user aborts the whole batch.
func (s *Service) BulkSetStatus(ctx context.Context, userIDs []string, status UserStatus) ([]UserView, error) {
	switch status {
	case UserStatusActive, UserStatusDeactivated:
	default:
		return nil, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
	}
	ids, err := bulkIDs(userIDs)
	if err != nil {
		return nil, err
	}
	var (
		views []UserView
		users []User
	)
	err = s.store.WithinTx(ctx, func(r Repositories) error {
		views, users = views[:0], users[:0]
		for _, id := range ids {
			view, user, err := s.applyStatus(ctx, r, id, status)
			if err != nil {
				return err
			}
			views = append(views, view)
			users = append(users, user)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if status == UserStatusActive {
			s.notify("account_activated", func() error { return s.notifier.SendAccountActivated(ctx, recipientOf(u)) })
		} else {
			s.notify("account_deactivated", func() error { return s.notifier.SendAccountDeactivated(ctx, recipientOf(u)) })
		}
	}
	return views, nil
}

// BulkSetGroup moves every listed user into one group in a single transaction.
func (s *Service) BulkSetGroup(ctx context.Context, userIDs []string, groupID string) ([]UserView, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	ids, err := bulkIDs(userIDs)
	if err != nil {
		return nil, err
	}
	var (
		views []UserView
		users []User
		group UserGroup
	)
	err = s.store.WithinTx(ctx, func(r Repositories) error {
		views, users = views[:0], users[:0]
		var err error
		group, err = r.Groups().Find(ctx, groupID)
		if err != nil {
			return err
		}
		if !group.Active {
			return fmt.Errorf("%w: group %s is deactivated", ErrInvalidInput, group.Name)
		}
		for _, id := range ids {
			user, err := r.Users().Update(ctx, id, UserUpdate{GroupID: &group.ID})
			if err != nil {
				return err
			}
			views = append(views, NewUserView(user, &group))
			users = append(users, user)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		s.notify("group_assigned", func() error { return s.notifier.SendGroupAssigned(ctx, recipientOf(u), group.Name) })
	}
	return views, nil
}

// bulkIDs trims and de-duplicates ids, keeping their order.
func bulkIDs(userIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(userIDs))
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: user ids must not be blank", ErrInvalidInput)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one user id is required", ErrInvalidInput)
	}
	if len(ids) > maxBulkUsers {
		return nil, fmt.Errorf("%w: at most %d users per request", ErrInvalidInput, maxBulkUsers)
	}
	return ids, nil
}

// SetUserGroup moves a user into another group. The change shows up in the user's
// tokens from the next refresh or login.
func (s *Service) SetUserGroup(ctx context.Context, userID, groupID string) (UserView, error) {
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return UserView{}, fmt.Errorf("%w: user_id and group_id are required", ErrInvalidInput)
	}
	var (
		view  UserView
		user  User
		group UserGroup
	)
	err := s.store.WithinTx(ctx, func(r Repositories) error {
		var err error
		group, err = r.Groups().Find(ctx, groupID)
		if err != nil {
			return err
		}
		if !group.Active {
			return fmt.Errorf("%w: group %s is deactivated", ErrInvalidInput, group.Name)
		}
		user, err = r.Users().Update(ctx, userID, UserUpdate{GroupID: &group.ID})
		if err != nil {
			return err
		}
		view = NewUserView(user, &group)
		return nil
	})
	if err != nil {
		return UserView{}, err
	}
	s.notify("group_assigned", func() error { return s.notifier.SendGroupAssigned(ctx, recipientOf(user), group.Name) })
	return view, nil
}

// ConfirmEmail marks the user's email as confirmed.
func (s *Service) ConfirmEmail(ctx context.Context, userID string) (UserView, error) {
	confirmed := true
	return s.updateUser(ctx, userID, UserUpdate{EmailConfirmed: &confirmed})
}

// SetTwoFactor toggles the two-factor flag.
func (s *Service) SetTwoFactor(ctx context.Context, userID string, enabled bool) (UserView, error) {
	return s.updateUser(ctx, userID, UserUpdate{TwoFactorEnabled: &enabled})
}

// ProfileUpdate carries the self-service profile fields.
type ProfileUpdate struct {
	FirstName string
	LastName  string
	Phone     string
}

// UpdateProfile changes name and phone.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (UserView, error) {
	first := strings.TrimSpace(upd.FirstName)
	last := strings.TrimSpace(upd.LastName)
	phone := strings.TrimSpace(upd.Phone)
	if first == "" || last == "" {
		return UserView{}, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	if len(phone) > 20 {
		return UserView{}, fmt.Errorf("%w: phone number is too long", ErrInvalidInput)
	}
	view, err := s.updateUser(ctx, userID, UserUpdate{FirstName: &first, LastName: &last, Phone: &phone})
	if err != nil {
		return UserView{}, err
	}
	s.notify("profile_updated", func() error {
		return s.notifier.SendProfileUpdated(ctx, Recipient{Email: view.Email, Name: first + " " + last})
	})
	return view, nil
}

// UploadsEnabled reports whether a FileStorage is configured.
func (s *Service) UploadsEnabled() bool { return s.files != nil }

// UploadProfileImage stores an image and records its URL on the user.
func (s *Service) UploadProfileImage(ctx context.Context, userID string, r io.Reader, size int64) (UserView, error) {
	if s.files == nil {
		return UserView{}, errors.New("auth: file storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserView{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if size <= 0 || size > MaxProfileImageBytes {
		return UserView{}, fmt.Errorf("%w: image must be between 1 byte and %d bytes", ErrInvalidInput, MaxProfileImageBytes)
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return UserView{}, fmt.Errorf("%w: unreadable image", ErrInvalidInput)
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	ext, ok := profileImageTypes[contentType]
	if !ok {
		return UserView{}, fmt.Errorf("%w: unsupported image type %s", ErrInvalidInput, contentType)
	}
	if _, err := s.store.Users().Find(ctx, userID); err != nil {
		return UserView{}, err
	}
	key := fmt.Sprintf("profile-images/%s/%s%s", userID, ids.Key(), ext)
	url, err := s.files.Put(ctx, key, io.MultiReader(bytes.NewReader(head), r), size, contentType)
	if err != nil {
		return UserView{}, fmt.Errorf("store profile image: %w", err)
	}
	return s.updateUser(ctx, userID, UserUpdate{ProfileImageURL: &url})
}

func (s *Service) updateUser(ctx context.Context, userID string, upd UserUpdate) (UserView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserView{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	var view UserView
	err := s.store.WithinTx(ctx, func(r Repositories) error {
		user, err := r.Users().Update(ctx, userID, upd)
		if err != nil {
			return err
		}
		group, err := s.userGroup(ctx, r, user)
		if err != nil {
			return err
		}
		view = NewUserView(user, group)
		return nil
	})
	return view, err
}

// UserPermissions returns the permissions currently granted through the user's group.
func (s *Service) UserPermissions(ctx context.Context, userID string) ([]PermissionCode, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	group, err := s.userGroup(ctx, s.store, user)
	if err != nil {
		return nil, err
	}
	group = tokenGroup(group)
	if group == nil {
		return []PermissionCode{}, nil
	}
	return group.Permissions.Codes(), nil
}

// HasPermission checks the stored grants of an active user, not a token snapshot.
func (s *Service) HasPermission(ctx context.Context, userID string, perm PermissionCode) (bool, error) {
	user, err := s.store.Users().Find(ctx, strings.TrimSpace(userID))
	if err != nil {
		return false, err
	}
	if !user.Active() {
		return false, nil
	}
	perms, err := s.UserPermissions(ctx, user.ID)
	if err != nil {
		return false, err
	}
	return NewPermissionSet(perms...).Has(perm), nil
}

// IsUserInGroup reports whether the user currently belongs to the named group.
func (s *Service) IsUserInGroup(ctx context.Context, userID, groupName string) (bool, error) {
	user, err := s.store.Users().Find(ctx, strings.TrimSpace(userID))
	if err != nil {
		return false, err
	}
	group, err := s.userGroup(ctx, s.store, user)
	if err != nil || group == nil {
		return false, err
	}
	return group.Name == groupName, nil
}

// LoginLogs returns the latest login attempts of a user, newest first.
func (s *Service) LoginLogs(ctx context.Context, userID string, count int) ([]LoginLog, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if count <= 0 {
		count = defaultLoginLogCount
	}
	if count > maxLoginLogCount {
		count = maxLoginLogCount
	}
	if _, err := s.store.Users().Find(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.LoginLogs().ListForUser(ctx, userID, count)
}

// Now exposes the service clock to callers that compute durations.
func (s *Service) Now() time.Time { return s.now() }
