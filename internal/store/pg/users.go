package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ascms.org/internal/auth"
)

const userColumns = `id, email, password_hash, first_name, last_name, phone, profile_image_url,
	user_type, status, email_confirmed, two_factor_enabled, group_id, created_at, updated_at, last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u         auth.User
		groupID   sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone, &u.ProfileImageURL,
		&u.Type, &u.Status, &u.EmailConfirmed, &u.TwoFactorEnabled, &groupID, &u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if err != nil {
		return auth.User{}, err
	}
	u.GroupID = groupID.String
	u.LastLoginAt = timePtr(lastLogin)
	return u, nil
}

type userStore struct{ q queryer }

func (s userStore) Create(ctx context.Context, u *auth.User) error {
	row := s.q.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, first_name, last_name, phone, profile_image_url,
			user_type, status, email_confirmed, two_factor_enabled, group_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		returning created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone, u.ProfileImageURL,
		u.Type, u.Status, u.EmailConfirmed, u.TwoFactorEnabled, nullIfEmpty(u.GroupID))
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return mapErr(err, "user")
	}
	return nil
}

func (s userStore) Find(ctx context.Context, id string) (auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	return u, mapErr(err, "user")
}

func (s userStore) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = lower($1)`, email))
	return u, mapErr(err, "user")
}

func (s userStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `select exists(select 1 from users where lower(email) = lower($1))`, email).Scan(&exists)
	return exists, err
}

func (s userStore) Update(ctx context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	var b setBuilder
	if upd.FirstName != nil {
		b.add("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		b.add("last_name", *upd.LastName)
	}
	if upd.Phone != nil {
		b.add("phone", *upd.Phone)
	}
	if upd.ProfileImageURL != nil {
		b.add("profile_image_url", *upd.ProfileImageURL)
	}
	if upd.PasswordHash != nil {
		b.add("password_hash", *upd.PasswordHash)
	}
	if upd.Status != nil {
		b.add("status", *upd.Status)
	}
	if upd.EmailConfirmed != nil {
		b.add("email_confirmed", *upd.EmailConfirmed)
	}
	if upd.TwoFactorEnabled != nil {
		b.add("two_factor_enabled", *upd.TwoFactorEnabled)
	}
	if upd.GroupID != nil {
		b.add("group_id", nullIfEmpty(*upd.GroupID))
	}
	if upd.LastLoginAt != nil {
		b.add("last_login_at", *upd.LastLoginAt)
	}
	if len(b.clauses) == 0 {
		return s.Find(ctx, id)
	}
	b.clauses = append(b.clauses, "updated_at = now()")
	query := fmt.Sprintf(`update users set %s where id = $%d returning %s`,
		strings.Join(b.clauses, ", "), b.next(), userColumns)
	u, err := scanUser(s.q.QueryRowContext(ctx, query, append(b.args, id)...))
	return u, mapErr(err, "user")
}

func (s userStore) List(ctx context.Context, filter auth.UserFilter) ([]auth.User, error) {
	var (
		where []string
		args  []any
	)
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(lower(email) like $%d or lower(first_name) like $%d or lower(last_name) like $%d)", n, n, n))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.GroupID != "" {
		args = append(args, filter.GroupID)
		where = append(where, fmt.Sprintf("group_id = $%d", len(args)))
	}
	query := `select ` + userColumns + ` from users`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, max(filter.Offset, 0))
	query += fmt.Sprintf(` order by created_at, id limit $%d offset $%d`, len(args)-1, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s userStore) Stats(ctx context.Context, since time.Time) (auth.UserStats, error) {
	st := auth.UserStats{Since: since}
	err := s.q.QueryRowContext(ctx, `
		select count(*),
			count(*) filter (where status = 'active'),
			count(*) filter (where status = 'deactivated'),
			count(*) filter (where user_type = 'Individual'),
			count(*) filter (where user_type = 'Corporate'),
			count(*) filter (where created_at >= $1)
		from users
	`, since).Scan(&st.Total, &st.Active, &st.Deactivated, &st.Individual, &st.Corporate, &st.NewSince)
	return st, err
}
