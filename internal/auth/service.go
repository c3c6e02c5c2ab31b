package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ascms.org/internal/obs"
)

// Service coordinates registration, login, token refresh, logout and password flows.
// Every public operation runs in a single store transaction.
type Service struct {
	store     Store
	tokens    *TokenService
	hasher    Hasher
	passwords PasswordGenerator
	notifier  Notifier
	files     FileStorage
	now       func() time.Time

	decoyOnce sync.Once
	decoyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithHasher replaces the bcrypt hasher.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

// WithPasswordGenerator replaces the generator used by ResetPassword.
func WithPasswordGenerator(g PasswordGenerator) ServiceOption {
	return func(s *Service) error {
		if g == nil {
			return errors.New("auth: password generator is nil")
		}
		s.passwords = g
		return nil
	}
}

// WithNotifier sets the notification sender.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithFileStorage enables profile image uploads.
func WithFileStorage(fs FileStorage) ServiceOption {
	return func(s *Service) error {
		s.files = fs
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	svc := &Service{
		store:     store,
		tokens:    tokens,
		hasher:    BcryptHasher{},
		passwords: RandomPasswordGenerator{},
		notifier:  nopNotifier{},
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the token service used for access token validation.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Authenticate validates an access token and returns the principal it describes.
func (s *Service) Authenticate(token string) (Principal, error) {
	claims, err := s.tokens.ParseAccessToken(token)
	if err != nil {
		return Principal{}, err
	}
	return PrincipalFromClaims(claims), nil
}

// RegisterRequest carries the fields accepted at registration.
type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	UserType  string
	Client    ClientInfo
}

// Register creates an account in the default group of its type and signs it in.
// Registration does not write a login log.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	email := normalizeEmail(req.Email)
	if err := validateEmail(email); err != nil {
		return AuthResult{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return AuthResult{}, err
	}
	userType, err := ParseUserType(req.UserType)
	if err != nil {
		return AuthResult{}, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return AuthResult{}, err
	}

	var (
		result AuthResult
		user   User
	)
	err = s.store.WithinTx(ctx, func(r Repositories) error {
		exists, err := r.Users().EmailExists(ctx, email)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: email is already registered", ErrConflict)
		}
		group, err := s.ensureGroup(ctx, r, DefaultGroupFor(userType))
		if err != nil {
			return err
		}
		now := s.now().UTC()
		user = User{
			ID:           uuid.NewString(),
			Email:        email,
			PasswordHash: hash,
			FirstName:    strings.TrimSpace(req.FirstName),
			LastName:     strings.TrimSpace(req.LastName),
			Phone:        strings.TrimSpace(req.Phone),
			Type:         userType,
			Status:       UserStatusActive,
			GroupID:      group.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := r.Users().Create(ctx, &user); err != nil {
			return err
		}
		pair, _, err := s.issuePair(ctx, r, user, &group, req.Client.IP)
		if err != nil {
			return err
		}
		result = AuthResult{Tokens: pair, User: NewUserView(user, &group)}
		return nil
	})
	if err != nil {
		obs.RecordAuthEvent("register", "failure")
		return AuthResult{}, err
	}
	obs.RecordAuthEvent("register", "success")
	s.notify("welcome", func() error { return s.notifier.SendWelcome(ctx, recipientOf(user)) })
	return result, nil
}

// Login verifies credentials and starts a new session. Unknown email, deactivated
// account and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string, client ClientInfo) (AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		obs.RecordAuthEvent("login", "failure")
		return AuthResult{}, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.hasher.Verify(password, s.decoy())
		obs.RecordAuthEvent("login", "failure")
		return AuthResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return AuthResult{}, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.recordFailedLogin(ctx, user, client, "invalid password")
		return AuthResult{}, ErrInvalidCredentials
	}
	if !user.Active() {
		s.recordFailedLogin(ctx, user, client, "account deactivated")
		return AuthResult{}, ErrInvalidCredentials
	}

	var result AuthResult
	err = s.store.WithinTx(ctx, func(r Repositories) error {
		now := s.now().UTC()
		revoked, err := r.RefreshTokens().RevokeAllForUser(ctx, user.ID, now, RevokedByLogin)
		if err != nil {
			return err
		}
		obs.RecordTokensRevoked(RevokedByLogin, revoked)
		updated, err := r.Users().Update(ctx, user.ID, UserUpdate{LastLoginAt: &now})
		if err != nil {
			return err
		}
		entry := LoginLog{
			ID:         uuid.NewString(),
			UserID:     user.ID,
			LoginAt:    now,
			Client:     client,
			Successful: true,
		}
		if err := r.LoginLogs().Create(ctx, &entry); err != nil {
			return err
		}
		group, err := s.userGroup(ctx, r, updated)
		if err != nil {
			return err
		}
		pair, _, err := s.issuePair(ctx, r, updated, group, client.IP)
		if err != nil {
			return err
		}
		result = AuthResult{Tokens: pair, User: NewUserView(updated, group)}
		return nil
	})
	if err != nil {
		obs.RecordAuthEvent("login", "failure")
		return AuthResult{}, err
	}
	obs.RecordAuthEvent("login", "success")
	return result, nil
}

// Refresh rotates a refresh token: the presented token is revoked and linked to its
// successor, and a new access token reflecting current permissions is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (AuthResult, error) {
	raw := strings.TrimSpace(refreshToken)
	if raw == "" {
		obs.RecordAuthEvent("refresh", "failure")
		return AuthResult{}, ErrInvalidToken
	}
	var (
		result AuthResult
		replay *RefreshToken
	)
	err := s.store.WithinTx(ctx, func(r Repositories) error {
		rec, err := r.RefreshTokens().FindByHash(ctx, HashRefreshToken(raw))
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if !rec.IsActive(now) {
			if rec.Revoked() && rec.RevokedBy == RevokedByRotation {
				replay = &rec
			}
			return ErrInvalidToken
		}
		user, err := r.Users().Find(ctx, rec.UserID)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if !user.Active() {
			return ErrInvalidToken
		}
		group, err := s.userGroup(ctx, r, user)
		if err != nil {
			return err
		}
		pair, next, err := s.issuePair(ctx, r, user, group, client.IP)
		if err != nil {
			return err
		}
		if err := r.RefreshTokens().Revoke(ctx, rec.ID, now, RevokedByRotation, next.ID); err != nil {
			return err
		}
		obs.RecordTokensRevoked(RevokedByRotation, 1)
		result = AuthResult{Tokens: pair, User: NewUserView(user, group)}
		return nil
	})
	if replay != nil {
		obs.Warn("refresh token reuse detected", map[string]any{
			"user_id":     replay.UserID,
			"token_id":    replay.ID,
			"replaced_by": replay.ReplacedBy,
			"ip":          client.IP,
		})
	}
	if err != nil {
		obs.RecordAuthEvent("refresh", "failure")
		return AuthResult{}, err
	}
	obs.RecordAuthEvent("refresh", "success")
	return result, nil
}

// Logout revokes every active refresh token of the user and closes the latest session.
func (s *Service) Logout(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	err := s.store.WithinTx(ctx, func(r Repositories) error {
		now := s.now().UTC()
		revoked, err := r.RefreshTokens().RevokeAllForUser(ctx, userID, now, RevokedByLogout)
		if err != nil {
			return err
		}
		obs.RecordTokensRevoked(RevokedByLogout, revoked)
		return r.LoginLogs().CloseLatest(ctx, userID, now)
	})
	if err != nil {
		return err
	}
	obs.RecordAuthEvent("logout", "success")
	return nil
}

// ChangePassword replaces the password after verifying the current one and ends every
// refresh chain of the user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if current == "" {
		return fmt.Errorf("%w: current password is required", ErrInvalidInput)
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	if current == next {
		return fmt.Errorf("%w: new password must differ from the current one", ErrInvalidInput)
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, user.PasswordHash) {
		return fmt.Errorf("%w: current password is incorrect", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(r Repositories) error {
		if _, err := r.Users().Update(ctx, userID, UserUpdate{PasswordHash: &hash}); err != nil {
			return err
		}
		revoked, err := r.RefreshTokens().RevokeAllForUser(ctx, userID, s.now().UTC(), RevokedByPasswordChange)
		if err != nil {
			return err
		}
		obs.RecordTokensRevoked(RevokedByPasswordChange, revoked)
		return nil
	})
}

// ResetPassword assigns a generated password and hands it to the notifier. Delivery
// happens before commit, so a failed delivery leaves the old password in place.
func (s *Service) ResetPassword(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	password, err := s.passwords.Generate()
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(r Repositories) error {
		user, err := r.Users().Update(ctx, userID, UserUpdate{PasswordHash: &hash})
		if err != nil {
			return err
		}
		revoked, err := r.RefreshTokens().RevokeAllForUser(ctx, userID, s.now().UTC(), RevokedByPasswordReset)
		if err != nil {
			return err
		}
		obs.RecordTokensRevoked(RevokedByPasswordReset, revoked)
		if err := s.notifier.SendPasswordReset(ctx, recipientOf(user), password); err != nil {
			return fmt.Errorf("deliver password reset: %w", err)
		}
		return nil
	})
}

// RevokeToken revokes one refresh token owned by userID.
func (s *Service) RevokeToken(ctx context.Context, userID, refreshToken string) error {
	raw := strings.TrimSpace(refreshToken)
	if raw == "" {
		return fmt.Errorf("%w: refresh token is required", ErrInvalidInput)
	}
	return s.store.WithinTx(ctx, func(r Repositories) error {
		rec, err := r.RefreshTokens().FindByHash(ctx, HashRefreshToken(raw))
		if err != nil {
			return err
		}
		if rec.UserID != userID {
			return fmt.Errorf("%w: refresh token", ErrNotFound)
		}
		now := s.now().UTC()
		if !rec.IsActive(now) {
			return fmt.Errorf("%w: refresh token is not active", ErrInvalidInput)
		}
		if err := r.RefreshTokens().Revoke(ctx, rec.ID, now, RevokedByUser, ""); err != nil {
			return err
		}
		obs.RecordTokensRevoked(RevokedByUser, 1)
		return nil
	})
}

// PurgeExpiredTokens deletes refresh tokens that expired before the given time.
// Nothing in the service calls it on a schedule.
func (s *Service) PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.store.WithinTx(ctx, func(r Repositories) error {
		var err error
		n, err = r.RefreshTokens().DeleteExpired(ctx, before)
		return err
	})
	return n, err
}

func (s *Service) issuePair(ctx context.Context, r Repositories, user User, group *UserGroup, ip string) (TokenPair, RefreshToken, error) {
	access, accessExp, err := s.tokens.IssueAccessToken(user, tokenGroup(group))
	if err != nil {
		return TokenPair{}, RefreshToken{}, err
	}
	raw, rec, err := s.tokens.NewRefreshToken(user.ID, ip)
	if err != nil {
		return TokenPair{}, RefreshToken{}, err
	}
	if err := r.RefreshTokens().Create(ctx, &rec); err != nil {
		return TokenPair{}, RefreshToken{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, rec, nil
}

// tokenGroup drops the permissions of a deactivated group.
func tokenGroup(g *UserGroup) *UserGroup {
	if g == nil || g.Active {
		return g
	}
	inactive := *g
	inactive.Permissions = PermissionSet{}
	return &inactive
}

func (s *Service) userGroup(ctx context.Context, r Repositories, user User) (*UserGroup, error) {
	if user.GroupID == "" {
		obs.Warn("user has no group, issuing token without permissions", map[string]any{"user_id": user.ID})
		return nil, nil
	}
	g, err := r.Groups().Find(ctx, user.GroupID)
	if errors.Is(err, ErrNotFound) {
		obs.Warn("user group missing, issuing token without permissions", map[string]any{
			"user_id":  user.ID,
			"group_id": user.GroupID,
		})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Service) ensureGroup(ctx context.Context, r Repositories, name string) (UserGroup, error) {
	g, err := r.Groups().FindByName(ctx, name)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return UserGroup{}, err
	}
	now := s.now().UTC()
	g = UserGroup{
		ID:          uuid.NewString(),
		Name:        name,
		Description: defaultGroupDescription(name),
		Active:      true,
		Permissions: PermissionSet{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.Groups().Create(ctx, &g); err != nil {
		return UserGroup{}, err
	}
	obs.Info("user group provisioned", map[string]any{"group": name})
	return g, nil
}

func (s *Service) recordFailedLogin(ctx context.Context, user User, client ClientInfo, reason string) {
	obs.RecordAuthEvent("login", "failure")
	err := s.store.WithinTx(ctx, func(r Repositories) error {
		return r.LoginLogs().Create(ctx, &LoginLog{
			ID:            uuid.NewString(),
			UserID:        user.ID,
			LoginAt:       s.now().UTC(),
			Client:        client,
			FailureReason: reason,
		})
	})
	if err != nil {
		obs.Error("record failed login", map[string]any{"user_id": user.ID, "error": err.Error()})
	}
}

// decoy returns a hash to verify against when the email is unknown, so the response
// time does not reveal whether the account exists.
func (s *Service) decoy() string {
	s.decoyOnce.Do(func() {
		s.decoyHash, _ = s.hasher.Hash(uuid.NewString())
	})
	return s.decoyHash
}

func (s *Service) notify(kind string, fn func() error) {
	if err := fn(); err != nil {
		obs.Error("notification failed", map[string]any{"kind": kind, "error": err.Error()})
	}
}
