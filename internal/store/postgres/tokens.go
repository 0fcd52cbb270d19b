package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/store"
)

func (s *Store) GetToken(ctx context.Context, userID string) (*model.OAuthToken, error) {
	var t model.OAuthToken
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, access_token, refresh_token, token_type, expires_at, obtained_at
		 FROM oauth_tokens WHERE user_id = $1`,
		userID,
	).Scan(&t.UserID, &t.AccessToken, &t.RefreshToken, &t.TokenType, &t.ExpiresAt, &t.ObtainedAt)
	if err != nil {
		return nil, classify("get token", err)
	}

	return &t, nil
}

// SaveToken stores the pair from a fresh handshake, replacing any previous row.
func (s *Store) SaveToken(ctx context.Context, t *model.OAuthToken) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO oauth_tokens (user_id, access_token, refresh_token, token_type, expires_at, obtained_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   token_type = EXCLUDED.token_type,
		   expires_at = EXCLUDED.expires_at,
		   obtained_at = EXCLUDED.obtained_at`,
		t.UserID, t.AccessToken, t.RefreshToken, t.TokenType, t.ExpiresAt, t.ObtainedAt,
	)
	return classify("save token", err)
}

// ReplaceToken updates the row only while it still holds old's refresh token.
func (s *Store) ReplaceToken(ctx context.Context, old, next *model.OAuthToken) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_tokens SET
		   access_token = $2, refresh_token = $3, token_type = $4, expires_at = $5, obtained_at = $6
		 WHERE user_id = $1 AND refresh_token = $7`,
		next.UserID, next.AccessToken, next.RefreshToken, next.TokenType, next.ExpiresAt, next.ObtainedAt,
		old.RefreshToken,
	)
	if err != nil {
		return classify("replace token", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}

	return nil
}

func (s *Store) DeleteToken(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return classify("delete token", err)
	}
	if tag.RowsAffected() == 0 {
		return classify("delete token", pgx.ErrNoRows)
	}
	return nil
}
