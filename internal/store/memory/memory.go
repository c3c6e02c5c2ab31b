// Package memory implements auth.Store in process memory. It backs the API when no
// database is configured and serves as the store in tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ascms.org/internal/auth"
)

var _ auth.Store = (*Store)(nil)

type state struct {
	users  map[string]auth.User
	groups map[string]auth.UserGroup
	perms  map[auth.PermissionCode]auth.Permission
	tokens map[string]auth.RefreshToken
	logs   []auth.LoginLog
}

func newState() *state {
	return &state{
		users:  map[string]auth.User{},
		groups: map[string]auth.UserGroup{},
		perms:  map[auth.PermissionCode]auth.Permission{},
		tokens: map[string]auth.RefreshToken{},
	}
}

func (s *state) clone() *state {
	out := &state{
		users:  maps.Clone(s.users),
		groups: make(map[string]auth.UserGroup, len(s.groups)),
		perms:  maps.Clone(s.perms),
		tokens: maps.Clone(s.tokens),
		logs:   slices.Clone(s.logs),
	}
	for id, g := range s.groups {
		g.Permissions = g.Permissions.Clone()
		out.groups[id] = g
	}
	return out
}

// Store keeps all records in memory. Transactions run one at a time against a copy of
// the data that replaces the original on commit.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
	now  func() time.Time
}

func New() *Store {
	return &Store{data: newState(), now: time.Now}
}

// SetClock overrides the time used for created/updated stamps.
func (s *Store) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(auth.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&repos{store: s, tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Users() auth.UserStore                 { return userRepo{&repos{store: s}} }
func (s *Store) Groups() auth.GroupStore               { return groupRepo{&repos{store: s}} }
func (s *Store) Permissions() auth.PermissionStore     { return permRepo{&repos{store: s}} }
func (s *Store) RefreshTokens() auth.RefreshTokenStore { return tokenRepo{&repos{store: s}} }
func (s *Store) LoginLogs() auth.LoginLogStore         { return logRepo{&repos{store: s}} }

// repos is bound either to a transaction copy (tx != nil) or to the live data.
type repos struct {
	store *Store
	tx    *state
}

func (r *repos) Users() auth.UserStore                 { return userRepo{r} }
func (r *repos) Groups() auth.GroupStore               { return groupRepo{r} }
func (r *repos) Permissions() auth.PermissionStore     { return permRepo{r} }
func (r *repos) RefreshTokens() auth.RefreshTokenStore { return tokenRepo{r} }
func (r *repos) LoginLogs() auth.LoginLogStore         { return logRepo{r} }

func (r *repos) read(fn func(*state) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return fn(r.store.data)
}

func (r *repos) write(fn func(*state) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.data)
}

func (r *repos) now() time.Time { return r.store.now().UTC() }

// Users --------------------------------------------------------------------
type userRepo struct{ *repos }

func (r userRepo) Create(_ context.Context, u *auth.User) error {
	return r.write(func(st *state) error {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if _, ok := st.users[u.ID]; ok {
			return fmt.Errorf("%w: user %s exists", auth.ErrConflict, u.ID)
		}
		for _, other := range st.users {
			if strings.EqualFold(other.Email, u.Email) {
				return fmt.Errorf("%w: email is already registered", auth.ErrConflict)
			}
		}
		if u.GroupID != "" {
			if _, ok := st.groups[u.GroupID]; !ok {
				return fmt.Errorf("%w: group %s", auth.ErrNotFound, u.GroupID)
			}
		}
		now := r.now()
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		if u.UpdatedAt.IsZero() {
			u.UpdatedAt = now
		}
		st.users[u.ID] = *u
		return nil
	})
}

func (r userRepo) Find(_ context.Context, id string) (auth.User, error) {
	var u auth.User
	err := r.read(func(st *state) error {
		var ok bool
		if u, ok = st.users[id]; !ok {
			return fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
		}
		return nil
	})
	return u, err
}

func (r userRepo) FindByEmail(_ context.Context, email string) (auth.User, error) {
	var u auth.User
	err := r.read(func(st *state) error {
		for _, candidate := range st.users {
			if strings.EqualFold(candidate.Email, email) {
				u = candidate
				return nil
			}
		}
		return fmt.Errorf("%w: user", auth.ErrNotFound)
	})
	return u, err
}

func (r userRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, auth.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (r userRepo) Update(_ context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	var u auth.User
	err := r.write(func(st *state) error {
		var ok bool
		if u, ok = st.users[id]; !ok {
			return fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
		}
		if upd.GroupID != nil {
			if _, ok := st.groups[*upd.GroupID]; !ok {
				return fmt.Errorf("%w: group %s", auth.ErrNotFound, *upd.GroupID)
			}
			u.GroupID = *upd.GroupID
		}
		if upd.FirstName != nil {
			u.FirstName = *upd.FirstName
		}
		if upd.LastName != nil {
			u.LastName = *upd.LastName
		}
		if upd.Phone != nil {
			u.Phone = *upd.Phone
		}
		if upd.ProfileImageURL != nil {
			u.ProfileImageURL = *upd.ProfileImageURL
		}
		if upd.PasswordHash != nil {
			u.PasswordHash = *upd.PasswordHash
		}
		if upd.Status != nil {
			u.Status = *upd.Status
		}
		if upd.EmailConfirmed != nil {
			u.EmailConfirmed = *upd.EmailConfirmed
		}
		if upd.TwoFactorEnabled != nil {
			u.TwoFactorEnabled = *upd.TwoFactorEnabled
		}
		if upd.LastLoginAt != nil {
			at := *upd.LastLoginAt
			u.LastLoginAt = &at
		}
		u.UpdatedAt = r.now()
		st.users[id] = u
		return nil
	})
	return u, err
}

func (r userRepo) List(_ context.Context, filter auth.UserFilter) ([]auth.User, error) {
	var out []auth.User
	err := r.read(func(st *state) error {
		search := strings.ToLower(filter.Search)
		for _, u := range st.users {
			if filter.Status != "" && u.Status != filter.Status {
				continue
			}
			if filter.GroupID != "" && u.GroupID != filter.GroupID {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(u.Email+" "+u.FirstName+" "+u.LastName), search) {
				continue
			}
			out = append(out, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b auth.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (r userRepo) Stats(_ context.Context, since time.Time) (auth.UserStats, error) {
	st := auth.UserStats{Since: since}
	err := r.read(func(s *state) error {
		for _, u := range s.users {
			st.Total++
			switch u.Status {
			case auth.UserStatusActive:
				st.Active++
			case auth.UserStatusDeactivated:
				st.Deactivated++
			}
			switch u.Type {
			case auth.UserTypeIndividual:
				st.Individual++
			case auth.UserTypeCorporate:
				st.Corporate++
			}
			if !u.CreatedAt.Before(since) {
				st.NewSince++
			}
		}
		return nil
	})
	return st, err
}

// Groups -------------------------------------------------------------------
type groupRepo struct{ *repos }

func (r groupRepo) Create(_ context.Context, g *auth.UserGroup) error {
	return r.write(func(st *state) error {
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		for _, other := range st.groups {
			if other.ID == g.ID || strings.EqualFold(other.Name, g.Name) {
				return fmt.Errorf("%w: group %s exists", auth.ErrConflict, g.Name)
			}
		}
		if g.Permissions == nil {
			g.Permissions = auth.PermissionSet{}
		}
		now := r.now()
		if g.CreatedAt.IsZero() {
			g.CreatedAt = now
		}
		if g.UpdatedAt.IsZero() {
			g.UpdatedAt = now
		}
		stored := *g
		stored.Permissions = g.Permissions.Clone()
		st.groups[g.ID] = stored
		return nil
	})
}

func (r groupRepo) Find(_ context.Context, id string) (auth.UserGroup, error) {
	var g auth.UserGroup
	err := r.read(func(st *state) error {
		found, ok := st.groups[id]
		if !ok {
			return fmt.Errorf("%w: group %s", auth.ErrNotFound, id)
		}
		g = found
		g.Permissions = found.Permissions.Clone()
		return nil
	})
	return g, err
}

func (r groupRepo) FindByName(_ context.Context, name string) (auth.UserGroup, error) {
	var g auth.UserGroup
	err := r.read(func(st *state) error {
		for _, candidate := range st.groups {
			if strings.EqualFold(candidate.Name, name) {
				g = candidate
				g.Permissions = candidate.Permissions.Clone()
				return nil
			}
		}
		return fmt.Errorf("%w: group %s", auth.ErrNotFound, name)
	})
	return g, err
}

func (r groupRepo) List(_ context.Context, includeInactive bool) ([]auth.UserGroup, error) {
	var out []auth.UserGroup
	err := r.read(func(st *state) error {
		for _, g := range st.groups {
			if !includeInactive && !g.Active {
				continue
			}
			g.Permissions = g.Permissions.Clone()
			out = append(out, g)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b auth.UserGroup) int { return strings.Compare(a.Name, b.Name) })
	return out, err
}

func (r groupRepo) Update(_ context.Context, id string, upd auth.GroupUpdate) (auth.UserGroup, error) {
	var g auth.UserGroup
	err := r.write(func(st *state) error {
		var ok bool
		if g, ok = st.groups[id]; !ok {
			return fmt.Errorf("%w: group %s", auth.ErrNotFound, id)
		}
		if upd.Name != nil {
			for otherID, other := range st.groups {
				if otherID != id && strings.EqualFold(other.Name, *upd.Name) {
					return fmt.Errorf("%w: group %s exists", auth.ErrConflict, *upd.Name)
				}
			}
			g.Name = *upd.Name
		}
		if upd.Description != nil {
			g.Description = *upd.Description
		}
		if upd.Active != nil {
			g.Active = *upd.Active
		}
		g.UpdatedAt = r.now()
		st.groups[id] = g
		g.Permissions = g.Permissions.Clone()
		return nil
	})
	return g, err
}

func (r groupRepo) SetPermissions(_ context.Context, groupID string, perms []auth.PermissionCode) error {
	return r.mutatePermissions(groupID, func(auth.PermissionSet) auth.PermissionSet {
		return auth.NewPermissionSet(perms...)
	})
}

func (r groupRepo) AddPermission(_ context.Context, groupID string, perm auth.PermissionCode) error {
	return r.mutatePermissions(groupID, func(set auth.PermissionSet) auth.PermissionSet {
		set.Add(perm)
		return set
	})
}

func (r groupRepo) RemovePermission(_ context.Context, groupID string, perm auth.PermissionCode) error {
	return r.mutatePermissions(groupID, func(set auth.PermissionSet) auth.PermissionSet {
		set.Remove(perm)
		return set
	})
}

func (r groupRepo) mutatePermissions(groupID string, fn func(auth.PermissionSet) auth.PermissionSet) error {
	return r.write(func(st *state) error {
		g, ok := st.groups[groupID]
		if !ok {
			return fmt.Errorf("%w: group %s", auth.ErrNotFound, groupID)
		}
		g.Permissions = fn(g.Permissions.Clone())
		g.UpdatedAt = r.now()
		st.groups[groupID] = g
		return nil
	})
}

// Permissions --------------------------------------------------------------
type permRepo struct{ *repos }

func (r permRepo) Ensure(_ context.Context, entries []auth.CatalogEntry) error {
	return r.write(func(st *state) error {
		for _, e := range entries {
			p, ok := st.perms[e.Value]
			if !ok {
				p = auth.Permission{ID: uuid.NewString(), Value: e.Value, CreatedAt: r.now()}
			}
			p.Name = e.Name
			p.Code = e.Code
			p.Description = e.Description
			p.Active = true
			st.perms[e.Value] = p
		}
		return nil
	})
}

func (r permRepo) List(_ context.Context) ([]auth.Permission, error) {
	var out []auth.Permission
	err := r.read(func(st *state) error {
		out = slices.Collect(maps.Values(st.perms))
		return nil
	})
	slices.SortFunc(out, func(a, b auth.Permission) int { return int(a.Value - b.Value) })
	return out, err
}

// Refresh tokens -----------------------------------------------------------
type tokenRepo struct{ *repos }

func (r tokenRepo) Create(_ context.Context, tok *auth.RefreshToken) error {
	return r.write(func(st *state) error {
		if _, ok := st.users[tok.UserID]; !ok {
			return fmt.Errorf("%w: user %s", auth.ErrNotFound, tok.UserID)
		}
		for _, other := range st.tokens {
			if other.ID == tok.ID || other.TokenHash == tok.TokenHash {
				return fmt.Errorf("%w: refresh token exists", auth.ErrConflict)
			}
		}
		st.tokens[tok.ID] = *tok
		return nil
	})
}

func (r tokenRepo) FindByHash(_ context.Context, hash string) (auth.RefreshToken, error) {
	var tok auth.RefreshToken
	err := r.read(func(st *state) error {
		for _, candidate := range st.tokens {
			if candidate.TokenHash == hash {
				tok = candidate
				return nil
			}
		}
		return fmt.Errorf("%w: refresh token", auth.ErrNotFound)
	})
	return tok, err
}

func (r tokenRepo) Revoke(_ context.Context, id string, at time.Time, by, replacedBy string) error {
	return r.write(func(st *state) error {
		tok, ok := st.tokens[id]
		if !ok {
			return fmt.Errorf("%w: refresh token %s", auth.ErrNotFound, id)
		}
		if replacedBy != "" {
			if _, ok := st.tokens[replacedBy]; !ok {
				return fmt.Errorf("%w: replacement token %s", auth.ErrNotFound, replacedBy)
			}
		}
		tok.RevokedAt = &at
		tok.RevokedBy = by
		tok.ReplacedBy = replacedBy
		st.tokens[id] = tok
		return nil
	})
}

func (r tokenRepo) RevokeAllForUser(_ context.Context, userID string, at time.Time, by string) (int64, error) {
	var n int64
	err := r.write(func(st *state) error {
		for id, tok := range st.tokens {
			if tok.UserID != userID || !tok.IsActive(at) {
				continue
			}
			revokedAt := at
			tok.RevokedAt = &revokedAt
			tok.RevokedBy = by
			st.tokens[id] = tok
			n++
		}
		return nil
	})
	return n, err
}

func (r tokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.write(func(st *state) error {
		for id, tok := range st.tokens {
			if tok.ExpiresAt.Before(before) {
				delete(st.tokens, id)
				n++
			}
		}
		for id, tok := range st.tokens {
			if _, ok := st.tokens[tok.ReplacedBy]; tok.ReplacedBy != "" && !ok {
				tok.ReplacedBy = ""
				st.tokens[id] = tok
			}
		}
		return nil
	})
	return n, err
}

// Login logs ---------------------------------------------------------------
type logRepo struct{ *repos }

func (r logRepo) Create(_ context.Context, l *auth.LoginLog) error {
	return r.write(func(st *state) error {
		if _, ok := st.users[l.UserID]; !ok {
			return fmt.Errorf("%w: user %s", auth.ErrNotFound, l.UserID)
		}
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		st.logs = append(st.logs, *l)
		return nil
	})
}

func (r logRepo) CloseLatest(_ context.Context, userID string, at time.Time) error {
	return r.write(func(st *state) error {
		latest := -1
		for i, l := range st.logs {
			if l.UserID != userID || !l.Successful || l.LogoutAt != nil {
				continue
			}
			if latest < 0 || !l.LoginAt.Before(st.logs[latest].LoginAt) {
				latest = i
			}
		}
		if latest >= 0 {
			closed := at
			st.logs[latest].LogoutAt = &closed
		}
		return nil
	})
}

func (r logRepo) ListForUser(_ context.Context, userID string, limit int) ([]auth.LoginLog, error) {
	var out []auth.LoginLog
	err := r.read(func(st *state) error {
		for i := len(st.logs) - 1; i >= 0; i-- {
			if st.logs[i].UserID == userID {
				out = append(out, st.logs[i])
			}
		}
		return nil
	})
	slices.SortStableFunc(out, func(a, b auth.LoginLog) int { return b.LoginAt.Compare(a.LoginAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func page[T any](items []T, offset, limit int) []T {
	offset = max(offset, 0)
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
