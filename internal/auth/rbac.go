package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ascms.org/internal/obs"
)

// GroupView is a group as returned to administrators.
type GroupView struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Active      bool             `json:"active"`
	Permissions []PermissionCode `json:"permissions"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func newGroupView(g UserGroup) GroupView {
	return GroupView{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Active:      g.Active,
		Permissions: g.Permissions.Codes(),
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

func isDefaultGroup(name string) bool {
	for _, g := range DefaultGroups {
		if strings.EqualFold(g.Name, name) {
			return true
		}
	}
	return false
}

func (s *Service) ListGroups(ctx context.Context, includeInactive bool) ([]GroupView, error) {
	groups, err := s.store.Groups().List(ctx, includeInactive)
	if err != nil {
		return nil, err
	}
	views := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, newGroupView(g))
	}
	return views, nil
}

func (s *Service) GetGroup(ctx context.Context, groupID string) (GroupView, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return GroupView{}, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	g, err := s.store.Groups().Find(ctx, groupID)
	if err != nil {
		return GroupView{}, err
	}
	return newGroupView(g), nil
}

// CreateGroup adds an active group with the given permissions.
func (s *Service) CreateGroup(ctx context.Context, name, description string, perms []PermissionCode) (GroupView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return GroupView{}, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	set, err := permissionSetOf(perms)
	if err != nil {
		return GroupView{}, err
	}
	now := s.now().UTC()
	g := UserGroup{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Active:      true,
		Permissions: set,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.store.WithinTx(ctx, func(r Repositories) error {
		if _, err := r.Groups().FindByName(ctx, name); err == nil {
			return fmt.Errorf("%w: group %s already exists", ErrConflict, name)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return r.Groups().Create(ctx, &g)
	})
	if err != nil {
		return GroupView{}, err
	}
	return newGroupView(g), nil
}

// UpdateGroup renames, describes or (re)activates a group. Default groups keep their
// name and cannot be deactivated.
func (s *Service) UpdateGroup(ctx context.Context, groupID string, upd GroupUpdate) (GroupView, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return GroupView{}, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return GroupView{}, fmt.Errorf("%w: group name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	var view GroupView
	err := s.store.WithinTx(ctx, func(r Repositories) error {
		current, err := r.Groups().Find(ctx, groupID)
		if err != nil {
			return err
		}
		if isDefaultGroup(current.Name) {
			if upd.Name != nil && *upd.Name != current.Name {
				return fmt.Errorf("%w: default group %s cannot be renamed", ErrInvalidInput, current.Name)
			}
			if upd.Active != nil && !*upd.Active {
				return fmt.Errorf("%w: default group %s cannot be deactivated", ErrInvalidInput, current.Name)
			}
		}
		if upd.Name != nil && !strings.EqualFold(*upd.Name, current.Name) {
			if _, err := r.Groups().FindByName(ctx, *upd.Name); err == nil {
				return fmt.Errorf("%w: group %s already exists", ErrConflict, *upd.Name)
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		g, err := r.Groups().Update(ctx, groupID, upd)
		if err != nil {
			return err
		}
		view = newGroupView(g)
		return nil
	})
	return view, err
}

// DeactivateGroup soft-deletes a group. Its members keep their membership but their
// next tokens carry no permissions.
func (s *Service) DeactivateGroup(ctx context.Context, groupID string) (GroupView, error) {
	inactive := false
	return s.UpdateGroup(ctx, groupID, GroupUpdate{Active: &inactive})
}

// SetGroupPermissions replaces the permission set of a group.
func (s *Service) SetGroupPermissions(ctx context.Context, groupID string, perms []PermissionCode) (GroupView, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return GroupView{}, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	set, err := permissionSetOf(perms)
	if err != nil {
		return GroupView{}, err
	}
	return s.changeGroup(ctx, groupID, func(r Repositories) error {
		return r.Groups().SetPermissions(ctx, groupID, set.Codes())
	})
}

// AddGroupPermission grants one permission; granting an existing one is a no-op.
func (s *Service) AddGroupPermission(ctx context.Context, groupID string, perm PermissionCode) (GroupView, error) {
	groupID = strings.TrimSpace(groupID)
	if !perm.Known() {
		return GroupView{}, fmt.Errorf("%w: unknown permission %d", ErrInvalidInput, perm)
	}
	return s.changeGroup(ctx, groupID, func(r Repositories) error {
		return r.Groups().AddPermission(ctx, groupID, perm)
	})
}

// RemoveGroupPermission revokes one permission; removing a missing one is a no-op.
func (s *Service) RemoveGroupPermission(ctx context.Context, groupID string, perm PermissionCode) (GroupView, error) {
	groupID = strings.TrimSpace(groupID)
	if !perm.Known() {
		return GroupView{}, fmt.Errorf("%w: unknown permission %d", ErrInvalidInput, perm)
	}
	return s.changeGroup(ctx, groupID, func(r Repositories) error {
		return r.Groups().RemovePermission(ctx, groupID, perm)
	})
}

func (s *Service) changeGroup(ctx context.Context, groupID string, fn func(Repositories) error) (GroupView, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return GroupView{}, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	var view GroupView
	err := s.store.WithinTx(ctx, func(r Repositories) error {
		if _, err := r.Groups().Find(ctx, groupID); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		g, err := r.Groups().Find(ctx, groupID)
		if err != nil {
			return err
		}
		view = newGroupView(g)
		return nil
	})
	return view, err
}

// ListPermissions returns the persisted permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.Permissions().List(ctx)
}

// EnsureCatalog writes the static permission catalog and the default groups. An Admin
// group without any permission is granted the whole catalog.
func (s *Service) EnsureCatalog(ctx context.Context) error {
	entries := Catalog()
	return s.store.WithinTx(ctx, func(r Repositories) error {
		if err := r.Permissions().Ensure(ctx, entries); err != nil {
			return err
		}
		for _, dg := range DefaultGroups {
			g, err := s.ensureGroup(ctx, r, dg.Name)
			if err != nil {
				return err
			}
			if dg.Name != GroupAdmin || len(g.Permissions) > 0 {
				continue
			}
			all := make([]PermissionCode, 0, len(entries))
			for _, e := range entries {
				all = append(all, e.Value)
			}
			if err := r.Groups().SetPermissions(ctx, g.ID, all); err != nil {
				return err
			}
			obs.Info("admin group granted full catalog", map[string]any{"permissions": len(all)})
		}
		return nil
	})
}

func permissionSetOf(perms []PermissionCode) (PermissionSet, error) {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		if !p.Known() {
			return nil, fmt.Errorf("%w: unknown permission %d", ErrInvalidInput, p)
		}
		set.Add(p)
	}
	return set, nil
}
