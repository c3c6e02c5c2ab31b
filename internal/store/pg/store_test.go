package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"ascms.org/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var userCols = []string{"id", "email", "password_hash", "first_name", "last_name", "phone", "profile_image_url",
	"user_type", "status", "email_confirmed", "two_factor_enabled", "group_id", "created_at", "updated_at", "last_login_at"}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from refresh_tokens where expires_at").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	var deleted int64
	err := s.WithinTx(context.Background(), func(r auth.Repositories) error {
		var err error
		deleted, err = r.RefreshTokens().DeleteExpired(context.Background(), time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(auth.Repositories) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestWithinTxWithoutDatabase(t *testing.T) {
	s := &Store{}
	if err := s.WithinTx(context.Background(), func(auth.Repositories) error { return nil }); !errors.Is(err, errUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestUserCreateMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	u := auth.User{ID: "u1", Email: "a@example.com", Type: auth.UserTypeIndividual, Status: auth.UserStatusActive}
	if err := s.Users().Create(context.Background(), &u); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUserFindNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select .* from users where id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := s.Users().Find(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUserUpdateBuildsPartialSet(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	status := auth.UserStatusDeactivated
	first := "Ann"

	mock.ExpectQuery(regexp.QuoteMeta("update users set first_name = $1, status = $2, updated_at = now() where id = $3 returning")).
		WithArgs("Ann", status, "u1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(
			"u1", "a@example.com", "hash", "Ann", "Lee", "", "",
			"Individual", "deactivated", false, false, "g1", now, now, nil))

	u, err := s.Users().Update(context.Background(), "u1", auth.UserUpdate{FirstName: &first, Status: &status})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if u.Status != auth.UserStatusDeactivated || u.GroupID != "g1" || u.LastLoginAt != nil {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestUserListFilters(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("where (lower(email) like $1 or lower(first_name) like $1 or lower(last_name) like $1) and status = $2 order by created_at, id limit $3 offset $4")).
		WithArgs("%ann%", auth.UserStatusActive, 10, 20).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(
			"u1", "ann@example.com", "hash", "Ann", "Lee", "", "",
			"Individual", "active", true, false, nil, now, now, now))

	users, err := s.Users().List(context.Background(), auth.UserFilter{Search: "Ann", Status: auth.UserStatusActive, Limit: 10, Offset: 20})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(users) != 1 || users[0].GroupID != "" || users[0].LastLoginAt == nil {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestUserStatsScansCounts(t *testing.T) {
	s, mock := newMock(t)
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("count(*) filter (where created_at >= $1)")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "deactivated", "individual", "corporate", "new"}).
			AddRow(10, 8, 2, 7, 3, 4))

	st, err := s.Users().Stats(context.Background(), since)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := auth.UserStats{Total: 10, Active: 8, Deactivated: 2, Individual: 7, Corporate: 3, NewSince: 4, Since: since}
	if st != want {
		t.Fatalf("stats: got %+v want %+v", st, want)
	}
}

func TestGroupFindLoadsPermissions(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select .* from user_groups where id = \\$1").WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "active", "created_at", "updated_at"}).
			AddRow("g1", "Admin", "Administrators", true, now, now))
	mock.ExpectQuery("select permission_value from group_permissions where group_id = \\$1").WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"permission_value"}).AddRow(0).AddRow(9))

	g, err := s.Groups().Find(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !g.Permissions.Has(auth.PermGetUser) || !g.Permissions.Has(auth.PermGetUsers) || len(g.Permissions) != 2 {
		t.Fatalf("unexpected permissions: %v", g.Permissions.Codes())
	}
}

func TestGroupSetPermissionsReplacesSet(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update user_groups set updated_at = now\\(\\) where id = \\$1").WithArgs("g1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from group_permissions where group_id = \\$1").WithArgs("g1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("insert into group_permissions").WithArgs("g1", auth.PermGetUser).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into group_permissions").WithArgs("g1", auth.PermDeleteUser).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Groups().SetPermissions(context.Background(), "g1", []auth.PermissionCode{auth.PermGetUser, auth.PermDeleteUser})
	if err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
}

func TestGroupAddPermissionUnknownGroup(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update user_groups set updated_at").WithArgs("nope").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Groups().AddPermission(context.Background(), "nope", auth.PermGetUser); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRefreshTokenFindByHashLocksRow(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("from refresh_tokens where token_hash = \\$1 for update").WithArgs("hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "created_at", "created_by_ip", "revoked_at", "revoked_by", "replaced_by"}).
			AddRow("t1", "u1", "hash", now.Add(time.Hour), now, "10.0.0.1", now, "rotation", "t2"))

	tok, err := s.RefreshTokens().FindByHash(context.Background(), "hash")
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if !tok.Revoked() || tok.RevokedBy != auth.RevokedByRotation || tok.ReplacedBy != "t2" {
		t.Fatalf("unexpected token: %+v", tok)
	}
}

func TestRefreshTokenRevokeMissingSuccessor(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update refresh_tokens").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := s.RefreshTokens().Revoke(context.Background(), "t1", time.Now(), auth.RevokedByRotation, "t9")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRevokeAllForUserReturnsCount(t *testing.T) {
	s, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectExec("update refresh_tokens .* where user_id = \\$1 and revoked_at is null and expires_at > \\$2").
		WithArgs("u1", at, auth.RevokedByLogout).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.RefreshTokens().RevokeAllForUser(context.Background(), "u1", at, auth.RevokedByLogout)
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestLoginLogListScansNullLogout(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("from login_logs where user_id = \\$1 order by login_at desc limit \\$2").WithArgs("u1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "login_at", "logout_at", "ip_address", "user_agent", "device", "browser", "os", "successful", "failure_reason"}).
			AddRow("l2", "u1", now, nil, "10.0.0.1", "curl/8", "Desktop", "Other", "Other", false, "invalid password").
			AddRow("l1", "u1", now.Add(-time.Hour), now.Add(-time.Minute), "10.0.0.1", "curl/8", "Desktop", "Other", "Other", true, ""))

	logs, err := s.LoginLogs().ListForUser(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(logs) != 2 || logs[0].LogoutAt != nil || logs[1].LogoutAt == nil {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	if logs[0].FailureReason != "invalid password" {
		t.Fatalf("unexpected failure reason %q", logs[0].FailureReason)
	}
}

func TestPermissionEnsureUpserts(t *testing.T) {
	s, mock := newMock(t)
	entries := []auth.CatalogEntry{
		{Value: auth.PermGetUser, Name: "GetUser", Code: "USR_GET"},
		{Value: auth.PermGetUsers, Name: "GetUsers", Code: "USR_LIST"},
	}
	for _, e := range entries {
		mock.ExpectExec("insert into permissions .* on conflict \\(value\\) do update").
			WithArgs(sqlmock.AnyArg(), e.Value, e.Name, e.Code, e.Description).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	if err := s.Permissions().Ensure(context.Background(), entries); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
}
