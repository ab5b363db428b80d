package oauth

import (
	"context"
	"fmt"
	"time"

	"pulseboard/internal/db"
	"pulseboard/internal/security"
)

// Token is a persisted provider credential. Access and refresh tokens are
// sealed at rest; the frontend only ever sees the derived connected flag.
type Token struct {
	UserID            string
	Provider          string
	ProviderAccountID string
	SiteURL           string
	AccessToken       string
	RefreshToken      string
	Scope             string
	ExpiresAt         *time.Time
}

// Expired reports whether the token has a known expiry in the past.
func (t Token) Expired() bool {
	return t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt)
}

// Store persists tokens keyed (user_id, provider): reconnecting replaces the
// old credential instead of duplicating it.
type Store struct {
	db  *db.DB
	key []byte // AES key; empty disables sealing (local dev only)
}

func NewStore(dbConn *db.DB, encryptionKey []byte) *Store {
	return &Store{db: dbConn, key: encryptionKey}
}

func (s *Store) seal(v string) (string, error) {
	if v == "" || len(s.key) != 32 {
		return v, nil
	}
	return security.SealToken(v, s.key)
}

func (s *Store) open(v string) (string, error) {
	if v == "" || len(s.key) != 32 {
		return v, nil
	}
	return security.OpenToken(v, s.key)
}

// Upsert inserts or replaces the credential for (user, provider).
func (s *Store) Upsert(ctx context.Context, t Token) error {
	access, err := s.seal(t.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := s.seal(t.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO oauth_tokens
		    (user_id, provider, provider_account_id, site_url, access_token, refresh_token, scope, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		    provider_account_id = EXCLUDED.provider_account_id,
		    site_url            = EXCLUDED.site_url,
		    access_token        = EXCLUDED.access_token,
		    refresh_token       = EXCLUDED.refresh_token,
		    scope               = EXCLUDED.scope,
		    expires_at          = EXCLUDED.expires_at,
		    updated_at          = NOW()`,
		t.UserID, t.Provider, t.ProviderAccountID, t.SiteURL,
		access, nullable(refresh), t.Scope, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// Get returns the unsealed credential for (user, provider).
func (s *Store) Get(ctx context.Context, userID, provider string) (Token, error) {
	var t Token
	var refresh *string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT user_id, provider, provider_account_id, site_url, access_token, refresh_token, scope, expires_at
		 FROM oauth_tokens
		 WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&t.UserID, &t.Provider, &t.ProviderAccountID, &t.SiteURL, &t.AccessToken, &refresh, &t.Scope, &t.ExpiresAt)
	if err != nil {
		return Token{}, err
	}

	if t.AccessToken, err = s.open(t.AccessToken); err != nil {
		return Token{}, fmt.Errorf("open access token: %w", err)
	}
	if refresh != nil {
		if t.RefreshToken, err = s.open(*refresh); err != nil {
			return Token{}, fmt.Errorf("open refresh token: %w", err)
		}
	}
	return t, nil
}

// Connected derives the connection status: a non-expired token row exists.
// Status is computed per request, never stored.
func (s *Store) Connected(ctx context.Context, userID, provider string) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(
		    SELECT 1 FROM oauth_tokens
		    WHERE user_id = $1 AND provider = $2
		      AND (expires_at IS NULL OR expires_at > NOW())
		 )`,
		userID, provider,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Delete disconnects a provider for a user.
func (s *Store) Delete(ctx context.Context, userID, provider string) error {
	_, err := s.db.Pool.Exec(ctx,
		`DELETE FROM oauth_tokens WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	)
	return err
}

// ListUserIDs returns every user with a live credential for a provider.
// The sync worker iterates this.
func (s *Store) ListUserIDs(ctx context.Context, provider string) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT user_id FROM oauth_tokens
		 WHERE provider = $1 AND (expires_at IS NULL OR expires_at > NOW())
		 ORDER BY user_id`,
		provider,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
