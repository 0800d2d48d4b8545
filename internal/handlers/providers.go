// Package handlers exposes the provider connect/sync/status HTTP
// surface. The acting user arrives in the X-User-ID header from the
// host application; this service does no session handling of its own.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"healthsync/internal/database"
	"healthsync/internal/engine"
	"healthsync/internal/middleware"
	"healthsync/internal/provider"
	"healthsync/internal/tokens"
)

const userIDHeader = "X-User-ID"

// ProviderHandler handles all provider lifecycle endpoints
type ProviderHandler struct {
	db           *database.DB
	tokenManager *tokens.Manager
	orchestrator *engine.Orchestrator
	logger       *slog.Logger
}

// NewProviderHandler creates a provider handler
func NewProviderHandler(db *database.DB, tm *tokens.Manager, orch *engine.Orchestrator, logger *slog.Logger) *ProviderHandler {
	return &ProviderHandler{
		db:           db,
		tokenManager: tm,
		orchestrator: orch,
		logger:       logger,
	}
}

// Routes builds the HTTP router
func (h *ProviderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Metrics)

	r.Route("/api/providers/{provider}", func(r chi.Router) {
		r.Post("/connect", h.HandleConnect)
		r.Get("/callback", h.HandleCallback)
		r.Post("/sync", h.HandleSync)
		r.Get("/status", h.HandleStatus)
		r.Delete("/", h.HandleDisconnect)
	})
	r.Get("/health", h.HandleHealth)

	return r
}

type connectRequest struct {
	APIKey       string `json:"api_key,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// HandleConnect accepts either a static API key or OAuth client
// credentials. Keys are validated and stored immediately; client
// credentials produce an authorization URL for the user to visit.
func (h *ProviderHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return
	}
	providerName := chi.URLParam(r, "provider")

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case req.APIKey != "":
		if err := h.tokenManager.ConnectAPIKey(r.Context(), userID, providerName, req.APIKey); err != nil {
			h.writeProviderError(w, providerName, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"connected": true})

	case req.ClientID != "" && req.ClientSecret != "":
		if err := h.tokenManager.StoreClientCredentials(userID, providerName, req.ClientID, req.ClientSecret); err != nil {
			h.writeProviderError(w, providerName, err)
			return
		}

		authURL, err := h.tokenManager.BuildAuthorizationURL(userID, providerName, callbackURI(r, providerName))
		if err != nil {
			h.writeProviderError(w, providerName, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"authorization_url": authURL})

	default:
		h.writeError(w, http.StatusBadRequest, "provide api_key or client_id and client_secret")
	}
}

// HandleCallback completes an OAuth flow. The user is identified by the
// state nonce, not by header; the provider redirects the browser here
// directly.
func (h *ProviderHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("oauth authorization denied", "provider", providerName, "error", errParam)
		h.writeError(w, http.StatusBadRequest, "authorization denied: "+errParam)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		h.writeError(w, http.StatusBadRequest, "missing code or state parameter")
		return
	}

	err := h.tokenManager.ExchangeCode(r.Context(), providerName, state, code, callbackURI(r, providerName))
	if err != nil {
		h.logger.Error("oauth callback failed", "provider", providerName, "error", err)
		if errors.Is(err, tokens.ErrInvalidState) {
			h.writeError(w, http.StatusBadRequest, "invalid or expired authorization request, please reconnect")
			return
		}
		h.writeError(w, http.StatusBadGateway, "failed to complete authorization")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>Connected</title>
	<style>
		body {
			font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif;
			max-width: 600px;
			margin: 100px auto;
			padding: 20px;
			text-align: center;
		}
		h1 { color: #2a9d8f; }
		p { color: #666; line-height: 1.6; }
		code {
			background: #f4f4f4;
			padding: 2px 6px;
			border-radius: 3px;
			font-family: monospace;
		}
	</style>
</head>
<body>
	<h1>✓ Account Connected</h1>
	<p>Your <code>%s</code> account is now linked.</p>
	<p>Data will arrive with the next sync. You can close this window.</p>
</body>
</html>`, providerName)
}

type syncRequest struct {
	Mode string `json:"mode"`
}

// HandleSync runs a sync for the acting user and provider
func (h *ProviderHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return
	}
	providerName := chi.URLParam(r, "provider")

	req := syncRequest{Mode: string(engine.ModeIncremental)}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.orchestrator.Sync(r.Context(), userID, providerName, engine.Mode(req.Mode))
	if err != nil {
		h.writeProviderError(w, providerName, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleStatus reports the link state for the acting user and provider
func (h *ProviderHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return
	}
	providerName := chi.URLParam(r, "provider")

	link, err := h.db.GetLink(userID, providerName)
	if err != nil {
		h.logger.Error("failed to read link status", "provider", providerName, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}

	status := map[string]any{
		"connected":      link != nil,
		"isActive":       link != nil && link.IsActive,
		"lastSyncAt":     nil,
		"tokenExpiresAt": nil,
	}
	if link != nil {
		if link.LastSyncAt != nil {
			status["lastSyncAt"] = *link.LastSyncAt
		}
		if link.TokenExpiresAt != nil {
			status["tokenExpiresAt"] = *link.TokenExpiresAt
		}
	}

	h.writeJSON(w, http.StatusOK, status)
}

// HandleDisconnect clears credentials but keeps the link row and its
// sync history
func (h *ProviderHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return
	}
	providerName := chi.URLParam(r, "provider")

	link, err := h.db.GetLink(userID, providerName)
	if err != nil {
		h.logger.Error("failed to read link", "provider", providerName, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	if link == nil {
		h.writeError(w, http.StatusNotFound, "provider not connected")
		return
	}

	if err := h.db.DisconnectLink(link.ID); err != nil {
		h.logger.Error("failed to disconnect link", "provider", providerName, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}

	h.logger.Info("provider disconnected", "user_id", userID, "provider", providerName)
	h.writeJSON(w, http.StatusOK, map[string]any{"disconnected": true})
}

// HandleHealth reports service and database health
func (h *ProviderHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Health(); err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// writeProviderError maps engine and credential errors onto status
// codes, keeping the most specific cause visible to the caller.
func (h *ProviderHandler) writeProviderError(w http.ResponseWriter, providerName string, err error) {
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		h.writeError(w, http.StatusNotFound, "unknown provider")
	case errors.Is(err, tokens.ErrInvalidAPIKey):
		h.writeError(w, http.StatusUnauthorized, "provider rejected the api key")
	case errors.Is(err, tokens.ErrCredentialMissing):
		h.writeError(w, http.StatusBadRequest, "provider not connected, connect first")
	case errors.Is(err, engine.ErrInvalidMode):
		h.writeError(w, http.StatusBadRequest, "mode must be full or incremental")
	case errors.Is(err, engine.ErrRateLimited):
		h.writeError(w, http.StatusServiceUnavailable, "provider rate limited, retry later")
	case errors.Is(err, engine.ErrNoReplayBundle):
		h.writeError(w, http.StatusNotFound, "no captured data to replay")
	default:
		h.logger.Error("request failed", "provider", providerName, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *ProviderHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *ProviderHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// callbackURI rebuilds this service's callback URL from the incoming
// request so the exchange uses the same redirect the consent used
func callbackURI(r *http.Request, providerName string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/providers/%s/callback", scheme, r.Host, providerName)
}
