package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tradiehq/integrations/internal/config"
)

var (
	// ErrInvalidGrant means the provider rejected the authorization code or
	// refresh token. Permanent for that credential; retrying cannot succeed.
	ErrInvalidGrant = errors.New("oauth: provider rejected grant")
	// ErrProviderUnavailable covers network failures and provider 5xx
	// responses. Transient; the caller decides retry policy.
	ErrProviderUnavailable = errors.New("oauth: provider unavailable")
	// ErrMalformedResponse means the token endpoint returned 2xx but the body
	// did not match the expected schema.
	ErrMalformedResponse = errors.New("oauth: malformed token response")
)

// defaultExpiresIn is applied when the provider omits expires_in.
const defaultExpiresIn = 3600

// Grant is the result of a successful token-endpoint exchange.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Client performs authorization-code and refresh-token grants against the
// ServiceM8 token endpoint.
type Client struct {
	config     config.ServiceM8Config
	httpClient *http.Client
}

// NewClient creates a ServiceM8 OAuth client with a bounded request timeout
// so a hanging provider never blocks unrelated requests.
func NewClient(cfg config.ServiceM8Config) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GenerateState generates a random state parameter for CSRF protection
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}

// AuthorizationURL returns the provider consent-screen URL for the given state.
func (c *Client) AuthorizationURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.config.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", c.config.RedirectURI)
	params.Set("state", state)

	return c.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode completes the authorization-code grant.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Grant, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", ErrInvalidGrant)
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.config.RedirectURI)
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)

	grant, err := c.postToken(ctx, data)
	if err != nil {
		return nil, err
	}
	// The code grant must mint a refresh token; without one the connection
	// could never be silently renewed.
	if grant.RefreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh_token", ErrMalformedResponse)
	}
	return grant, nil
}

// Refresh completes the refresh-token grant. The returned grant's
// RefreshToken may be empty when the provider does not rotate it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrInvalidGrant)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)

	return c.postToken(ctx, data)
}

func (c *Client) postToken(ctx context.Context, data url.Values) (*Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: token endpoint returned %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		// 4xx: the grant itself was rejected. The body may carry an OAuth
		// error code but is never surfaced past the log.
		return nil, fmt.Errorf("%w: token endpoint returned %d", ErrInvalidGrant, resp.StatusCode)
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if result.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	}
	if result.ExpiresIn <= 0 {
		// Explicit fallback: treat a missing expires_in as one hour rather
		// than minting a token that never refreshes.
		log.Println("OAuth: token response missing expires_in, assuming 3600s")
		result.ExpiresIn = defaultExpiresIn
	}

	return &Grant{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}, nil
}
