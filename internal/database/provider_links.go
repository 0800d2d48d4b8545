package database

import (
	"database/sql"
	"fmt"
	"time"
)

// ProviderLink is one user's connection to one external provider.
// Credential columns hold vault blobs, never plaintext.
type ProviderLink struct {
	ID              int64
	UserID          string
	Provider        string
	InstanceID      string
	ExternalUserID  *string
	ClientIDEnc     *string
	ClientSecretEnc *string
	AccessTokenEnc  *string
	RefreshTokenEnc *string
	TokenExpiresAt  *int64
	OAuthState      *string
	IsActive        bool
	LastSyncAt      *int64
	CreatedAt       int64
	UpdatedAt       int64
}

const linkColumns = `id, user_id, provider, instance_id, external_user_id,
       client_id_enc, client_secret_enc, access_token_enc, refresh_token_enc,
       token_expires_at, oauth_state, is_active, last_sync_at, created_at, updated_at`

func scanLink(row interface{ Scan(...any) error }) (*ProviderLink, error) {
	var l ProviderLink
	err := row.Scan(
		&l.ID, &l.UserID, &l.Provider, &l.InstanceID, &l.ExternalUserID,
		&l.ClientIDEnc, &l.ClientSecretEnc, &l.AccessTokenEnc, &l.RefreshTokenEnc,
		&l.TokenExpiresAt, &l.OAuthState, &l.IsActive, &l.LastSyncAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLink returns the link for (user, provider) with the default instance,
// or nil if none exists.
func (db *DB) GetLink(userID, provider string) (*ProviderLink, error) {
	return db.GetLinkInstance(userID, provider, "")
}

// GetLinkInstance returns the link for (user, provider, instance), or nil.
func (db *DB) GetLinkInstance(userID, provider, instanceID string) (*ProviderLink, error) {
	row := db.conn.QueryRow(`
		SELECT `+linkColumns+`
		FROM provider_links
		WHERE user_id = ? AND provider = ? AND instance_id = ?
	`, userID, provider, instanceID)

	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider link: %w", err)
	}
	return link, nil
}

// GetLinkByOAuthState resolves a pending OAuth callback to its link.
// Returns nil if no link holds the given state nonce.
func (db *DB) GetLinkByOAuthState(provider, state string) (*ProviderLink, error) {
	if state == "" {
		return nil, nil
	}

	row := db.conn.QueryRow(`
		SELECT `+linkColumns+`
		FROM provider_links
		WHERE provider = ? AND oauth_state = ?
	`, provider, state)

	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider link by state: %w", err)
	}
	return link, nil
}

// EnsureLink creates the (user, provider) link row if it does not exist
// and returns it.
func (db *DB) EnsureLink(userID, provider string) (*ProviderLink, error) {
	now := time.Now().Unix()
	_, err := db.conn.Exec(`
		INSERT INTO provider_links (user_id, provider, instance_id, created_at, updated_at)
		VALUES (?, ?, '', ?, ?)
		ON CONFLICT(user_id, provider, instance_id) DO NOTHING
	`, userID, provider, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure provider link: %w", err)
	}

	return db.GetLink(userID, provider)
}

// SetLinkClientCredentials stores encrypted OAuth client credentials.
func (db *DB) SetLinkClientCredentials(linkID int64, clientIDEnc, clientSecretEnc string) error {
	_, err := db.conn.Exec(`
		UPDATE provider_links
		SET client_id_enc = ?, client_secret_enc = ?, updated_at = ?
		WHERE id = ?
	`, clientIDEnc, clientSecretEnc, time.Now().Unix(), linkID)
	if err != nil {
		return fmt.Errorf("failed to set client credentials: %w", err)
	}
	return nil
}

// SetLinkOAuthState persists the anti-CSRF nonce for a pending flow.
func (db *DB) SetLinkOAuthState(linkID int64, state string) error {
	_, err := db.conn.Exec(`
		UPDATE provider_links
		SET oauth_state = ?, updated_at = ?
		WHERE id = ?
	`, state, time.Now().Unix(), linkID)
	if err != nil {
		return fmt.Errorf("failed to set oauth state: %w", err)
	}
	return nil
}

// ConsumeLinkOAuthState atomically clears the stored nonce if it matches.
// Returns false when the nonce does not match (potential CSRF).
func (db *DB) ConsumeLinkOAuthState(linkID int64, state string) (bool, error) {
	if state == "" {
		return false, nil
	}

	result, err := db.conn.Exec(`
		UPDATE provider_links
		SET oauth_state = NULL, updated_at = ?
		WHERE id = ? AND oauth_state = ?
	`, time.Now().Unix(), linkID, state)
	if err != nil {
		return false, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// ActivateLink stores encrypted tokens and marks the link active.
// expiresAt of 0 means the token never expires. An empty externalUserID
// preserves the previously known provider-side identity.
func (db *DB) ActivateLink(linkID int64, externalUserID, accessTokenEnc, refreshTokenEnc string, expiresAt int64) error {
	var expires *int64
	if expiresAt > 0 {
		expires = &expiresAt
	}

	_, err := db.conn.Exec(`
		UPDATE provider_links
		SET external_user_id = COALESCE(NULLIF(?, ''), external_user_id),
		    access_token_enc = ?,
		    refresh_token_enc = NULLIF(?, ''),
		    token_expires_at = ?,
		    is_active = 1,
		    updated_at = ?
		WHERE id = ?
	`, externalUserID, accessTokenEnc, refreshTokenEnc, expires, time.Now().Unix(), linkID)
	if err != nil {
		return fmt.Errorf("failed to activate link: %w", err)
	}
	return nil
}

// UpdateLinkTokens overwrites the stored token pair. The row is the single
// source of truth for tokens, so concurrent refreshes are last-write-wins.
func (db *DB) UpdateLinkTokens(linkID int64, accessTokenEnc, refreshTokenEnc string, expiresAt int64) error {
	var expires *int64
	if expiresAt > 0 {
		expires = &expiresAt
	}

	_, err := db.conn.Exec(`
		UPDATE provider_links
		SET access_token_enc = ?, refresh_token_enc = NULLIF(?, ''), token_expires_at = ?, updated_at = ?
		WHERE id = ?
	`, accessTokenEnc, refreshTokenEnc, expires, time.Now().Unix(), linkID)
	if err != nil {
		return fmt.Errorf("failed to update link tokens: %w", err)
	}
	return nil
}

// TouchLinkLastSync records a successful sync completion time.
func (db *DB) TouchLinkLastSync(linkID int64, at time.Time) error {
	_, err := db.conn.Exec(`
		UPDATE provider_links
		SET last_sync_at = ?, updated_at = ?
		WHERE id = ?
	`, at.Unix(), time.Now().Unix(), linkID)
	if err != nil {
		return fmt.Errorf("failed to touch last sync: %w", err)
	}
	return nil
}

// DisconnectLink clears all credential material and deactivates the link.
// The row and its last_sync_at history are preserved.
func (db *DB) DisconnectLink(linkID int64) error {
	_, err := db.conn.Exec(`
		UPDATE provider_links
		SET client_id_enc = NULL,
		    client_secret_enc = NULL,
		    access_token_enc = NULL,
		    refresh_token_enc = NULL,
		    token_expires_at = NULL,
		    oauth_state = NULL,
		    is_active = 0,
		    updated_at = ?
		WHERE id = ?
	`, time.Now().Unix(), linkID)
	if err != nil {
		return fmt.Errorf("failed to disconnect link: %w", err)
	}
	return nil
}

// CountActiveLinksByProvider returns the number of active links per provider.
func (db *DB) CountActiveLinksByProvider() (map[string]int64, error) {
	rows, err := db.conn.Query(`
		SELECT provider, COUNT(*)
		FROM provider_links
		WHERE is_active = 1
		GROUP BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count active links: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var provider string
		var count int64
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, fmt.Errorf("failed to scan link count: %w", err)
		}
		counts[provider] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating link counts: %w", err)
	}
	return counts, nil
}

// ListLinks returns all links for a user across providers.
func (db *DB) ListLinks(userID string) ([]*ProviderLink, error) {
	rows, err := db.conn.Query(`
		SELECT `+linkColumns+`
		FROM provider_links
		WHERE user_id = ?
		ORDER BY provider, instance_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider links: %w", err)
	}
	defer rows.Close()

	var links []*ProviderLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider links: %w", err)
	}
	return links, nil
}
