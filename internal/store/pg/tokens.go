package pg

import (
	"context"
	"database/sql"
	"time"

	"ascms.org/internal/auth"
)

type tokenStore struct{ q queryer }

func (s tokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.q.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, created_at, created_by_ip)
		values ($1, $2, $3, $4, $5, $6)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt, tok.CreatedByIP)
	return mapErr(err, "refresh token")
}

func (s tokenStore) FindByHash(ctx context.Context, hash string) (auth.RefreshToken, error) {
	var (
		tok        auth.RefreshToken
		revokedAt  sql.NullTime
		revokedBy  sql.NullString
		replacedBy sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, created_by_ip, revoked_at, revoked_by, replaced_by
		from refresh_tokens
		where token_hash = $1
		for update
	`, hash).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.CreatedByIP,
		&revokedAt, &revokedBy, &replacedBy)
	if err != nil {
		return auth.RefreshToken{}, mapErr(err, "refresh token")
	}
	tok.RevokedAt = timePtr(revokedAt)
	tok.RevokedBy = revokedBy.String
	tok.ReplacedBy = replacedBy.String
	return tok, nil
}

func (s tokenStore) Revoke(ctx context.Context, id string, at time.Time, by, replacedBy string) error {
	res, err := s.q.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = $2, revoked_by = $3, replaced_by = $4
		where id = $1
	`, id, at, by, nullIfEmpty(replacedBy))
	if err != nil {
		return mapErr(err, "refresh token")
	}
	return requireAffected(res, "refresh token")
}

func (s tokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time, by string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = $2, revoked_by = $3
		where user_id = $1 and revoked_at is null and expires_at > $2
	`, userID, at, by)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s tokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `delete from refresh_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
