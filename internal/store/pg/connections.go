package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatekit.org/internal/auth"
)

type connectionStore Store

// Create relies on the unique index over (provider, provider_user_id) plus
// (user_id, provider) to detect races atomically.
func (s *connectionStore) Create(ctx context.Context, conn *auth.OAuthConnection) error {
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_connections (user_id, provider, provider_user_id, email, display_name, avatar_url, linked_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, conn.UserID, conn.Provider, conn.ProviderUserID, conn.Email, conn.DisplayName, conn.AvatarURL, conn.LinkedAt)
	return mapWriteError(err)
}

func (s *connectionStore) FindByProviderIdentity(ctx context.Context, provider, providerUserID string) (*auth.OAuthConnection, error) {
	var conn auth.OAuthConnection
	err := s.db.QueryRowContext(ctx, `
		select user_id, provider, provider_user_id, email, display_name, avatar_url, linked_at
		from oauth_connections
		where provider = $1 and provider_user_id = $2
	`, provider, providerUserID).Scan(
		&conn.UserID, &conn.Provider, &conn.ProviderUserID,
		&conn.Email, &conn.DisplayName, &conn.AvatarURL, &conn.LinkedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (s *connectionStore) ListByUser(ctx context.Context, userID string) ([]*auth.OAuthConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, provider, provider_user_id, email, display_name, avatar_url, linked_at
		from oauth_connections
		where user_id = $1
		order by linked_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.OAuthConnection
	for rows.Next() {
		var conn auth.OAuthConnection
		if err := rows.Scan(
			&conn.UserID, &conn.Provider, &conn.ProviderUserID,
			&conn.Email, &conn.DisplayName, &conn.AvatarURL, &conn.LinkedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &conn)
	}
	return result, rows.Err()
}

func (s *connectionStore) Delete(ctx context.Context, userID, provider string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from oauth_connections where user_id = $1 and provider = $2
	`, userID, provider)
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
