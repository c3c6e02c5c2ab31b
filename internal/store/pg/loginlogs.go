package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"ascms.org/internal/auth"
)

type loginLogStore struct{ q queryer }

func (s loginLogStore) Create(ctx context.Context, l *auth.LoginLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into login_logs (id, user_id, login_at, logout_at, ip_address, user_agent, device, browser, os,
			successful, failure_reason)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, l.ID, l.UserID, l.LoginAt, nullTime(l.LogoutAt), l.Client.IP, l.Client.UserAgent, l.Client.Device,
		l.Client.Browser, l.Client.OS, l.Successful, l.FailureReason)
	return mapErr(err, "login log")
}

func (s loginLogStore) CloseLatest(ctx context.Context, userID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		update login_logs set logout_at = $2
		where id = (
			select id from login_logs
			where user_id = $1 and successful and logout_at is null
			order by login_at desc
			limit 1
		)
	`, userID, at)
	return err
}

func (s loginLogStore) ListForUser(ctx context.Context, userID string, limit int) ([]auth.LoginLog, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, user_id, login_at, logout_at, ip_address, user_agent, device, browser, os, successful, failure_reason
		from login_logs
		where user_id = $1
		order by login_at desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []auth.LoginLog{}
	for rows.Next() {
		var (
			l      auth.LoginLog
			logout sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.LoginAt, &logout, &l.Client.IP, &l.Client.UserAgent,
			&l.Client.Device, &l.Client.Browser, &l.Client.OS, &l.Successful, &l.FailureReason); err != nil {
			return nil, err
		}
		l.LogoutAt = timePtr(logout)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
