package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradiehq/integrations/internal/config"
	"github.com/tradiehq/integrations/internal/oauth"
	"github.com/tradiehq/integrations/internal/secrets"
	"github.com/tradiehq/integrations/internal/store/storetest"
	"github.com/tradiehq/integrations/internal/tokens"
)

// newTestRouter wires the full HTTP surface against a provider stub and
// in-memory stores.
func newTestRouter(t *testing.T, stub http.HandlerFunc) http.Handler {
	t.Helper()

	provider := httptest.NewServer(stub)
	t.Cleanup(provider.Close)

	cfg := &config.Config{
		JWTSecret:   testJWTSecret,
		Environment: "development",
		CORSOrigins: []string{"http://localhost:3000"},
		ServiceM8: config.ServiceM8Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURI:  "https://app.example.com/integrations/servicem8/callback",
			AuthURL:      "https://go.servicem8.com/oauth/authorize",
			TokenURL:     provider.URL,
		},
		Tokens: config.TokenConfig{
			EncryptionKey: "test-token-encryption-key",
			ExpiryBuffer:  time.Minute,
		},
	}

	codec, err := secrets.NewCodec(cfg.Tokens.EncryptionKey)
	require.NoError(t, err)

	connections := storetest.NewConnectionStore()
	sessions := storetest.NewStateStore()
	client := oauth.NewClient(cfg.ServiceM8)
	manager := tokens.NewManager(client, connections, sessions, codec, cfg.Tokens.ExpiryBuffer)

	return NewRouter(cfg, manager)
}

func doJSON(t *testing.T, handler http.Handler, method, path, bearer, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestIntegrationEndpointsRequireAuth(t *testing.T) {
	router := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {})

	for _, probe := range []struct{ method, path string }{
		{http.MethodGet, "/api/integrations/servicem8/authorize"},
		{http.MethodPost, "/api/integrations/servicem8/exchange"},
		{http.MethodPost, "/api/integrations/servicem8/token"},
		{http.MethodGet, "/api/integrations/servicem8/status"},
		{http.MethodPost, "/api/integrations/servicem8/disconnect"},
	} {
		rec, _ := doJSON(t, router, probe.method, probe.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, probe.path)
	}
}

func TestConnectFlow(t *testing.T) {
	router := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"A1","refresh_token":"R1","expires_in":3600}`))
	})

	bearer := signToken(t, testJWTSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	// Not connected yet.
	rec, status := doJSON(t, router, http.MethodGet, "/api/integrations/servicem8/status", bearer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, status["connected"])

	rec, _ = doJSON(t, router, http.MethodPost, "/api/integrations/servicem8/token", bearer, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Start the flow and pull the state nonce out of the consent URL.
	rec, body := doJSON(t, router, http.MethodGet, "/api/integrations/servicem8/authorize", bearer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	authURL, ok := body["url"].(string)
	require.True(t, ok)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	// Complete the exchange.
	rec, body = doJSON(t, router, http.MethodPost, "/api/integrations/servicem8/exchange", bearer,
		`{"code":"abc","state":"`+state+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["connected"])

	// The live token is returned, never stored in plaintext.
	rec, body = doJSON(t, router, http.MethodPost, "/api/integrations/servicem8/token", bearer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A1", body["accessToken"])

	rec, status = doJSON(t, router, http.MethodGet, "/api/integrations/servicem8/status", bearer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, status["connected"])
	assert.NotEmpty(t, status["expiresAt"])

	// Disconnect twice: deleted=true then deleted=false.
	rec, body = doJSON(t, router, http.MethodPost, "/api/integrations/servicem8/disconnect", bearer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["deleted"])

	rec, body = doJSON(t, router, http.MethodPost, "/api/integrations/servicem8/disconnect", bearer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["deleted"])

	rec, _ = doJSON(t, router, http.MethodPost, "/api/integrations/servicem8/token", bearer, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExchangeRejectsBadState(t *testing.T) {
	router := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called with an unverified state")
	})

	bearer := signToken(t, testJWTSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	rec, _ := doJSON(t, router, http.MethodPost, "/api/integrations/servicem8/exchange", bearer,
		`{"code":"abc","state":"never-issued"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/api/integrations/servicem8/exchange", bearer,
		`{"code":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExchangeInvalidGrant(t *testing.T) {
	router := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	bearer := signToken(t, testJWTSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	rec, body := doJSON(t, router, http.MethodGet, "/api/integrations/servicem8/authorize", bearer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	parsed, err := url.Parse(body["url"].(string))
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	rec, _ = doJSON(t, router, http.MethodPost, "/api/integrations/servicem8/exchange", bearer,
		`{"code":"expired-code","state":"`+state+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	// Provider error detail stays server-side.
	assert.NotContains(t, rec.Body.String(), "invalid_grant")
}
