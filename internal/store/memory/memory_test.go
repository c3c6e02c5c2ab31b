package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ascms.org/internal/auth"
)

func seedUser(t *testing.T, s *Store, email string) auth.User {
	t.Helper()
	u := auth.User{Email: email, Status: auth.UserStatusActive, Type: auth.UserTypeIndividual}
	if err := s.Users().Create(context.Background(), &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(r auth.Repositories) error {
		u := auth.User{Email: "a@example.com"}
		if err := r.Users().Create(ctx, &u); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	exists, err := s.Users().EmailExists(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("email exists: %v", err)
	}
	if exists {
		t.Fatal("rolled back user must not be visible")
	}
}

func TestWithinTxCommits(t *testing.T) {
	s := New()
	ctx := context.Background()
	var id string
	err := s.WithinTx(ctx, func(r auth.Repositories) error {
		u := auth.User{Email: "b@example.com"}
		if err := r.Users().Create(ctx, &u); err != nil {
			return err
		}
		id = u.ID
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if _, err := s.Users().Find(ctx, id); err != nil {
		t.Fatalf("committed user missing: %v", err)
	}
}

func TestUserEmailIsUniqueCaseInsensitive(t *testing.T) {
	s := New()
	seedUser(t, s, "dup@example.com")
	u := auth.User{Email: "DUP@example.com"}
	if err := s.Users().Create(context.Background(), &u); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUserUpdateUnknownGroup(t *testing.T) {
	s := New()
	u := seedUser(t, s, "c@example.com")
	missing := "nope"
	if _, err := s.Users().Update(context.Background(), u.ID, auth.UserUpdate{GroupID: &missing}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListUsersFiltersAndPages(t *testing.T) {
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { now = now.Add(time.Second); return now })
	seedUser(t, s, "ann@example.com")
	seedUser(t, s, "bob@example.com")
	carl := seedUser(t, s, "carl@example.com")
	deactivated := auth.UserStatusDeactivated
	if _, err := s.Users().Update(context.Background(), carl.ID, auth.UserUpdate{Status: &deactivated}); err != nil {
		t.Fatalf("update: %v", err)
	}

	active, err := s.Users().List(context.Background(), auth.UserFilter{Status: auth.UserStatusActive})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 || active[0].Email != "ann@example.com" {
		t.Fatalf("unexpected active users: %+v", active)
	}
	paged, err := s.Users().List(context.Background(), auth.UserFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paged) != 1 || paged[0].Email != "bob@example.com" {
		t.Fatalf("unexpected page: %+v", paged)
	}
	found, err := s.Users().List(context.Background(), auth.UserFilter{Search: "CARL"})
	if err != nil || len(found) != 1 {
		t.Fatalf("search: %v %+v", err, found)
	}
}

func TestUserStatsCountsByStatusTypeAndAge(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := day.Add(-48 * time.Hour)
	s.SetClock(func() time.Time { return now })

	seedUser(t, s, "old@example.com")
	now = day
	corp := auth.User{Email: "corp@example.com", Status: auth.UserStatusDeactivated, Type: auth.UserTypeCorporate}
	if err := s.Users().Create(ctx, &corp); err != nil {
		t.Fatalf("create corporate: %v", err)
	}
	now = day.Add(time.Hour)
	seedUser(t, s, "new@example.com")

	st, err := s.Users().Stats(ctx, day)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := auth.UserStats{Total: 3, Active: 2, Deactivated: 1, Individual: 2, Corporate: 1, NewSince: 2, Since: day}
	if st != want {
		t.Fatalf("stats: got %+v want %+v", st, want)
	}
}

func TestGroupPermissionsAreCopied(t *testing.T) {
	s := New()
	ctx := context.Background()
	g := auth.UserGroup{Name: "Editors", Active: true, Permissions: auth.NewPermissionSet(auth.PermGetUser)}
	if err := s.Groups().Create(ctx, &g); err != nil {
		t.Fatalf("create group: %v", err)
	}
	g.Permissions.Add(auth.PermDeleteUser)

	stored, err := s.Groups().Find(ctx, g.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Permissions.Has(auth.PermDeleteUser) {
		t.Fatal("caller mutation leaked into the store")
	}
	if err := s.Groups().AddPermission(ctx, g.ID, auth.PermGetUsers); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Groups().RemovePermission(ctx, g.ID, auth.PermGetUser); err != nil {
		t.Fatalf("remove: %v", err)
	}
	stored, _ = s.Groups().Find(ctx, g.ID)
	if got := stored.Permissions.Codes(); len(got) != 1 || got[0] != auth.PermGetUsers {
		t.Fatalf("unexpected permissions: %v", got)
	}
	dupe := auth.UserGroup{Name: "editors"}
	if err := s.Groups().Create(ctx, &dupe); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "tok@example.com")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := auth.RefreshToken{ID: "t1", UserID: u.ID, TokenHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	second := auth.RefreshToken{ID: "t2", UserID: u.ID, TokenHash: "h2", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	expired := auth.RefreshToken{ID: "t3", UserID: u.ID, TokenHash: "h3", ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}
	for _, tok := range []*auth.RefreshToken{&first, &second, &expired} {
		if err := s.RefreshTokens().Create(ctx, tok); err != nil {
			t.Fatalf("create token: %v", err)
		}
	}
	if err := s.RefreshTokens().Revoke(ctx, "t1", now, auth.RevokedByRotation, "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found for unknown successor, got %v", err)
	}
	if err := s.RefreshTokens().Revoke(ctx, "t1", now, auth.RevokedByRotation, "t2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	n, err := s.RefreshTokens().RevokeAllForUser(ctx, u.ID, now, auth.RevokedByLogout)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the active token revoked, got %d", n)
	}
	tok, err := s.RefreshTokens().FindByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if tok.RevokedBy != auth.RevokedByRotation || tok.ReplacedBy != "t2" {
		t.Fatalf("rotation record overwritten: %+v", tok)
	}
	deleted, err := s.RefreshTokens().DeleteExpired(ctx, now)
	if err != nil || deleted != 1 {
		t.Fatalf("delete expired: %d %v", deleted, err)
	}
	if _, err := s.RefreshTokens().FindByHash(ctx, "h3"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expired token should be gone, got %v", err)
	}
}

func TestLoginLogsCloseLatestAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "log@example.com")
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, ok := range []bool{true, false, true} {
		l := auth.LoginLog{UserID: u.ID, LoginAt: t0.Add(time.Duration(i) * time.Hour), Successful: ok}
		if err := s.LoginLogs().Create(ctx, &l); err != nil {
			t.Fatalf("create log: %v", err)
		}
	}
	logout := t0.Add(3 * time.Hour)
	if err := s.LoginLogs().CloseLatest(ctx, u.ID, logout); err != nil {
		t.Fatalf("close: %v", err)
	}
	logs, err := s.LoginLogs().ListForUser(ctx, u.ID, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if !logs[0].LoginAt.Equal(t0.Add(2*time.Hour)) || logs[0].LogoutAt == nil {
		t.Fatalf("latest session not closed: %+v", logs[0])
	}
	if logs[0].SessionDuration() != time.Hour {
		t.Fatalf("unexpected duration %v", logs[0].SessionDuration())
	}
	if logs[1].Successful || logs[1].LogoutAt != nil {
		t.Fatalf("failed attempt must stay open: %+v", logs[1])
	}
}

func TestWithinTxHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.WithinTx(ctx, func(auth.Repositories) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancellation before fn, got %v called=%v", err, called)
	}
}
