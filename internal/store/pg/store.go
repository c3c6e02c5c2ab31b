package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ascms.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var errUnavailable = errors.New("database connection unavailable")

var _ auth.Store = (*Store)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PoolConfig tunes the database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type Store struct {
	db *sql.DB
}

func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 50
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 25
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 15 * time.Minute
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = 5 * time.Minute
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers; used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errUnavailable
	}
	return s.db.PingContext(ctx)
}

func (s *Store) WithinTx(ctx context.Context, fn func(auth.Repositories) error) error {
	if s.db == nil {
		return errUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&repos{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) repos() *repos { return &repos{q: s.db} }

func (s *Store) Users() auth.UserStore                 { return s.repos().Users() }
func (s *Store) Groups() auth.GroupStore               { return s.repos().Groups() }
func (s *Store) Permissions() auth.PermissionStore     { return s.repos().Permissions() }
func (s *Store) RefreshTokens() auth.RefreshTokenStore { return s.repos().RefreshTokens() }
func (s *Store) LoginLogs() auth.LoginLogStore         { return s.repos().LoginLogs() }

type repos struct {
	q queryer
}

func (r *repos) Users() auth.UserStore                 { return userStore{r.q} }
func (r *repos) Groups() auth.GroupStore               { return groupStore{r.q} }
func (r *repos) Permissions() auth.PermissionStore     { return permissionStore{r.q} }
func (r *repos) RefreshTokens() auth.RefreshTokenStore { return tokenStore{r.q} }
func (r *repos) LoginLogs() auth.LoginLogStore         { return loginLogStore{r.q} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapErr translates driver errors into the auth error taxonomy.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", auth.ErrNotFound, what)
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s already exists", auth.ErrConflict, what)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s references a missing record", auth.ErrNotFound, what)
		}
	}
	return err
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", auth.ErrNotFound, what)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// setBuilder accumulates "col = $n" clauses for partial updates.
type setBuilder struct {
	clauses []string
	args    []any
}

func (b *setBuilder) add(column string, value any) {
	b.args = append(b.args, value)
	b.clauses = append(b.clauses, fmt.Sprintf("%s = $%d", column, len(b.args)))
}

func (b *setBuilder) next() int { return len(b.args) + 1 }
