package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatekit.org/internal/auth"
)

type refreshTokenStore Store

func (s *refreshTokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, issued_at, expires_at, revoked, user_agent, ip_address)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.IssuedAt, tok.ExpiresAt, tok.Revoked, tok.UserAgent, tok.IPAddress)
	return mapWriteError(err)
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	var tok auth.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, issued_at, expires_at, revoked, user_agent, ip_address
		from refresh_tokens
		where id = $1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.IssuedAt, &tok.ExpiresAt, &tok.Revoked, &tok.UserAgent, &tok.IPAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// MarkRevoked claims the token: the conditional update loses to a concurrent
// RevokeAllForUser, and the zero-row result surfaces as ErrNotFound.
func (s *refreshTokenStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true
		where id = $1 and revoked = false
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true
		where user_id = $1 and revoked = false
	`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
