package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/tradiehq/integrations/internal/oauth"
	"github.com/tradiehq/integrations/internal/tokens"
)

// HandleAuthorize starts the ServiceM8 authorization flow: it mints a state
// nonce bound to the caller and returns the provider consent-screen URL for
// the SPA to navigate to.
func HandleAuthorize(manager *tokens.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())

		authURL, err := manager.BeginAuthorize(r.Context(), userID)
		if err != nil {
			log.Printf("Integrations: failed to start authorization for user %s: %v", userID, err)
			http.Error(w, "Failed to start authorization", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"url": authURL})
	}
}

// ExchangeRequest carries the authorization code and the state value the
// provider echoed back through the redirect.
type ExchangeRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// HandleExchange completes the authorization-code grant for the caller.
func HandleExchange(manager *tokens.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())

		var req ExchangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if req.Code == "" || req.State == "" {
			http.Error(w, "code and state are required", http.StatusBadRequest)
			return
		}

		err := manager.CompleteExchange(r.Context(), userID, req.Code, req.State)
		switch {
		case err == nil:
		case errors.Is(err, tokens.ErrInvalidState):
			log.Printf("Integrations: rejected exchange with invalid state for user %s", userID)
			http.Error(w, "Invalid or expired authorization attempt", http.StatusBadRequest)
			return
		case errors.Is(err, oauth.ErrInvalidGrant):
			log.Printf("Integrations: provider rejected authorization code for user %s: %v", userID, err)
			http.Error(w, "Authorization code was rejected", http.StatusBadRequest)
			return
		default:
			log.Printf("Integrations: exchange failed for user %s: %v", userID, err)
			http.Error(w, "Failed to connect ServiceM8", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"connected": true})
	}
}

// TokenResponse carries a live access token to an internal consumer.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// HandleGetActiveToken returns a currently-valid ServiceM8 access token for
// the caller, refreshing transparently when needed.
func HandleGetActiveToken(manager *tokens.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())

		accessToken, err := manager.ActiveToken(r.Context(), userID)
		switch {
		case err == nil:
		case errors.Is(err, tokens.ErrNotConnected):
			http.Error(w, "ServiceM8 is not connected", http.StatusNotFound)
			return
		default:
			log.Printf("Integrations: failed to get active token for user %s: %v", userID, err)
			http.Error(w, "Failed to get access token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: accessToken})
	}
}

// StatusResponse is the SPA-facing connection state. Never includes tokens.
type StatusResponse struct {
	Connected bool       `json:"connected"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// HandleGetStatus reports whether the caller has a ServiceM8 connection.
func HandleGetStatus(manager *tokens.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())

		connected, expiresAt, err := manager.Status(r.Context(), userID)
		if err != nil {
			log.Printf("Integrations: failed to get status for user %s: %v", userID, err)
			http.Error(w, "Failed to get connection status", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(StatusResponse{Connected: connected, ExpiresAt: expiresAt})
	}
}

// DisconnectResponse reports whether a stored connection was removed.
type DisconnectResponse struct {
	Deleted bool `json:"deleted"`
}

// HandleDisconnect deletes the caller's stored connection. Idempotent.
func HandleDisconnect(manager *tokens.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())

		deleted, err := manager.Disconnect(r.Context(), userID)
		if err != nil {
			log.Printf("Integrations: failed to disconnect user %s: %v", userID, err)
			http.Error(w, "Failed to disconnect", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(DisconnectResponse{Deleted: deleted})
	}
}
