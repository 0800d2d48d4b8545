// Package tokens manages the credential lifecycle for provider links:
// authorization URLs, code exchange, proactive refresh, and API key
// connects. Plaintext secrets exist only transiently inside this
// package; everything at rest goes through the vault.
package tokens

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"healthsync/internal/database"
	"healthsync/internal/metrics"
	"healthsync/internal/provider"
	"healthsync/internal/vault"
)

// Refresh this far before expiry so a token never dies mid-sync
const refreshMargin = 5 * time.Minute

var (
	// ErrCredentialMissing means no usable credentials are configured
	// for the link; the user must (re)connect
	ErrCredentialMissing = errors.New("no credentials configured for provider")

	// ErrInvalidState means the OAuth callback state did not match any
	// pending flow
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrInvalidAPIKey means the provider rejected the submitted key
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// Manager handles credential storage and the OAuth2 lifecycle
type Manager struct {
	db         *database.DB
	vault      *vault.Vault
	registry   *provider.Registry
	logger     *slog.Logger
	httpClient *http.Client
}

// NewManager creates a token lifecycle manager
func NewManager(db *database.DB, v *vault.Vault, registry *provider.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		db:         db,
		vault:      v,
		registry:   registry,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StoreClientCredentials saves a user's OAuth client id/secret for a
// provider, creating the link row if needed.
func (m *Manager) StoreClientCredentials(userID, providerName, clientID, clientSecret string) error {
	if _, err := m.registry.Get(providerName); err != nil {
		return err
	}

	link, err := m.db.EnsureLink(userID, providerName)
	if err != nil {
		return err
	}

	idEnc, err := m.vault.Encrypt(clientID)
	if err != nil {
		return fmt.Errorf("failed to encrypt client id: %w", err)
	}
	secretEnc, err := m.vault.Encrypt(clientSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt client secret: %w", err)
	}

	return m.db.SetLinkClientCredentials(link.ID, idEnc, secretEnc)
}

// ConnectAPIKey validates a static API key against the provider and
// stores it encrypted. A 401 from the provider surfaces as
// ErrInvalidAPIKey, distinct from transport failures.
func (m *Manager) ConnectAPIKey(ctx context.Context, userID, providerName, apiKey string) error {
	adapter, err := m.registry.Get(providerName)
	if err != nil {
		return err
	}

	validator, ok := adapter.(provider.KeyValidator)
	if !ok {
		return fmt.Errorf("provider %s does not accept api keys", providerName)
	}

	if err := validator.ValidateKey(ctx, provider.Account{AccessToken: apiKey}); err != nil {
		if provider.IsUnauthorized(err) {
			return ErrInvalidAPIKey
		}
		return fmt.Errorf("failed to validate api key: %w", err)
	}

	link, err := m.db.EnsureLink(userID, providerName)
	if err != nil {
		return err
	}

	keyEnc, err := m.vault.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}

	if err := m.db.ActivateLink(link.ID, "", keyEnc, "", 0); err != nil {
		return err
	}

	m.logger.Info("api key connected", "user_id", userID, "provider", providerName)
	return nil
}

// BuildAuthorizationURL starts an OAuth flow: generates and persists a
// fresh state nonce, then returns the provider's consent URL.
func (m *Manager) BuildAuthorizationURL(userID, providerName, redirectURI string) (string, error) {
	adapter, err := m.registry.Get(providerName)
	if err != nil {
		return "", err
	}

	link, err := m.db.EnsureLink(userID, providerName)
	if err != nil {
		return "", err
	}

	conf, err := m.oauthConfig(adapter, link, redirectURI)
	if err != nil {
		return "", err
	}

	state, err := newStateNonce()
	if err != nil {
		return "", err
	}
	if err := m.db.SetLinkOAuthState(link.ID, state); err != nil {
		return "", err
	}

	var opts []oauth2.AuthCodeOption
	if adapter.Capabilities().TokensExpire {
		opts = append(opts, oauth2.AccessTypeOffline)
	}

	return conf.AuthCodeURL(state, opts...), nil
}

// ExchangeCode completes an OAuth flow resolved from the callback state.
// The state is consumed atomically first, so a replayed callback fails
// before any token material is touched.
func (m *Manager) ExchangeCode(ctx context.Context, providerName, state, code, redirectURI string) error {
	adapter, err := m.registry.Get(providerName)
	if err != nil {
		return err
	}

	link, err := m.db.GetLinkByOAuthState(providerName, state)
	if err != nil {
		return err
	}
	if link == nil {
		return ErrInvalidState
	}

	ok, err := m.db.ConsumeLinkOAuthState(link.ID, state)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}

	conf, err := m.oauthConfig(adapter, link, redirectURI)
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	externalUserID, err := m.resolveExternalUserID(ctx, adapter, link, token.AccessToken)
	if err != nil {
		return err
	}

	accessEnc, err := m.vault.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc := ""
	if token.RefreshToken != "" {
		refreshEnc, err = m.vault.Encrypt(token.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	var expiresAt int64
	if adapter.Capabilities().TokensExpire && !token.Expiry.IsZero() {
		expiresAt = token.Expiry.Unix()
	}

	if err := m.db.ActivateLink(link.ID, externalUserID, accessEnc, refreshEnc, expiresAt); err != nil {
		return err
	}

	m.logger.Info("oauth connected",
		"user_id", link.UserID, "provider", providerName, "external_user_id", externalUserID)
	return nil
}

// GetValidAccessToken returns a usable account for the link, refreshing
// the token first when it is inside the expiry margin. Providers whose
// tokens never expire skip refresh entirely.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID, providerName string) (provider.Account, *database.ProviderLink, error) {
	adapter, err := m.registry.Get(providerName)
	if err != nil {
		return provider.Account{}, nil, err
	}

	link, err := m.db.GetLink(userID, providerName)
	if err != nil {
		return provider.Account{}, nil, err
	}
	if link == nil || !link.IsActive || link.AccessTokenEnc == nil {
		return provider.Account{}, nil, ErrCredentialMissing
	}

	if adapter.Capabilities().TokensExpire && m.needsRefresh(link) {
		if err := m.refresh(ctx, adapter, link); err != nil {
			metrics.TokenRefreshesTotal.WithLabelValues(providerName, metrics.ResultFailure).Inc()
			return provider.Account{}, nil, fmt.Errorf("failed to refresh token: %w", err)
		}
		metrics.TokenRefreshesTotal.WithLabelValues(providerName, metrics.ResultSuccess).Inc()

		link, err = m.db.GetLink(userID, providerName)
		if err != nil {
			return provider.Account{}, nil, err
		}
	}

	accessToken, err := m.vault.Decrypt(*link.AccessTokenEnc)
	if err != nil {
		return provider.Account{}, nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	externalUserID := ""
	if link.ExternalUserID != nil {
		externalUserID = *link.ExternalUserID
	}

	return provider.Account{AccessToken: accessToken, ExternalUserID: externalUserID}, link, nil
}

func (m *Manager) needsRefresh(link *database.ProviderLink) bool {
	if link.TokenExpiresAt == nil {
		return false
	}
	return time.Now().Add(refreshMargin).Unix() >= *link.TokenExpiresAt
}

func (m *Manager) refresh(ctx context.Context, adapter provider.Adapter, link *database.ProviderLink) error {
	if link.RefreshTokenEnc == nil {
		return errors.New("no refresh token stored")
	}

	refreshToken, err := m.vault.Decrypt(*link.RefreshTokenEnc)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	conf, err := m.oauthConfig(adapter, link, "")
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}

	// Some providers rotate the refresh token, others omit it from the
	// refresh response; keep the old one when omitted
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	accessEnc, err := m.vault.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, err := m.vault.Encrypt(newRefresh)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	var expiresAt int64
	if !token.Expiry.IsZero() {
		expiresAt = token.Expiry.Unix()
	}

	if err := m.db.UpdateLinkTokens(link.ID, accessEnc, refreshEnc, expiresAt); err != nil {
		return err
	}

	m.logger.Info("token refreshed", "provider", link.Provider, "link_id", link.ID)
	return nil
}

// resolveExternalUserID finds the provider-side identity for a fresh
// token. Registrars get a registration call whose "already registered"
// answer keeps the id we know; otherwise the profile endpoint is asked.
func (m *Manager) resolveExternalUserID(ctx context.Context, adapter provider.Adapter, link *database.ProviderLink, accessToken string) (string, error) {
	acc := provider.Account{AccessToken: accessToken}

	if registrar, ok := adapter.(provider.UserRegistrar); ok {
		id, err := registrar.RegisterUser(ctx, acc, link.UserID)
		if err != nil {
			return "", fmt.Errorf("failed to register user with provider: %w", err)
		}
		return id, nil
	}

	if adapter.Capabilities().Profile {
		profile, err := adapter.FetchProfile(ctx, acc)
		if err != nil {
			return "", fmt.Errorf("failed to fetch provider profile: %w", err)
		}
		return profile.ExternalUserID, nil
	}

	return "", nil
}

func (m *Manager) oauthConfig(adapter provider.Adapter, link *database.ProviderLink, redirectURI string) (*oauth2.Config, error) {
	configurer, ok := adapter.(provider.OAuthConfigurer)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support oauth", adapter.Name())
	}
	if link.ClientIDEnc == nil || link.ClientSecretEnc == nil {
		return nil, ErrCredentialMissing
	}

	clientID, err := m.vault.Decrypt(*link.ClientIDEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt client id: %w", err)
	}
	clientSecret, err := m.vault.Decrypt(*link.ClientSecretEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt client secret: %w", err)
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     configurer.OAuthEndpoint(),
		Scopes:       configurer.OAuthScopes(),
		RedirectURL:  redirectURI,
	}, nil
}

func newStateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
