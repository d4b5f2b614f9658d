package tokens

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tradiehq/integrations/internal/models"
	"github.com/tradiehq/integrations/internal/oauth"
	"github.com/tradiehq/integrations/internal/secrets"
	"github.com/tradiehq/integrations/internal/store"
)

// ErrNotConnected is returned when a user has no usable ServiceM8 connection.
var ErrNotConnected = errors.New("tokens: not connected")

// ErrInvalidState is returned when an exchange carries a state nonce the
// server never issued for this user (or one that already got used).
var ErrInvalidState = errors.New("tokens: invalid or expired state")

// sessionTTL bounds how long a started authorization flow stays valid.
const sessionTTL = 10 * time.Minute

// Manager owns the ServiceM8 credential lifecycle: starting the authorization
// flow, completing the code exchange, handing out live access tokens, and
// disconnecting. It is the only component that runs the read/maybe-refresh/
// write sequence, serialized per user.
type Manager struct {
	client      *oauth.Client
	connections store.ConnectionStore
	sessions    store.StateStore
	codec       *secrets.Codec

	// expiryBuffer is subtracted from expires_at so a token is refreshed
	// before it can expire mid-flight of the consumer's follow-up request.
	expiryBuffer time.Duration

	locks userLocks
}

// NewManager creates a credential lifecycle Manager.
func NewManager(client *oauth.Client, connections store.ConnectionStore, sessions store.StateStore, codec *secrets.Codec, expiryBuffer time.Duration) *Manager {
	return &Manager{
		client:       client,
		connections:  connections,
		sessions:     sessions,
		codec:        codec,
		expiryBuffer: expiryBuffer,
	}
}

// BeginAuthorize mints an unguessable state nonce bound to the user, persists
// it, and returns the provider consent-screen URL for the SPA to navigate to.
func (m *Manager) BeginAuthorize(ctx context.Context, userID string) (string, error) {
	state, err := oauth.GenerateState()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}

	session := &models.OAuthSession{
		State:     state,
		UserID:    userID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(sessionTTL),
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return "", err
	}

	return m.client.AuthorizationURL(state), nil
}

// CompleteExchange finishes the authorization-code grant: verifies the state
// nonce against the one issued to this user, exchanges the code, and persists
// the encrypted tokens. The destination user comes from the authenticated
// caller, never from the state value.
func (m *Manager) CompleteExchange(ctx context.Context, userID, code, state string) error {
	if err := m.sessions.Consume(ctx, userID, state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidState
		}
		return err
	}

	grant, err := m.client.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}

	if err := m.persistGrant(ctx, userID, grant); err != nil {
		return err
	}

	log.Printf("Tokens: ServiceM8 connected for user %s", userID)
	return nil
}

// ActiveToken returns an access token that is currently valid for the user,
// transparently refreshing when the stored token is inside the expiry buffer.
// The plaintext token is returned to the caller only; it is never persisted.
func (m *Manager) ActiveToken(ctx context.Context, userID string) (string, error) {
	// Serialize check-expiry -> refresh -> persist per user. Two concurrent
	// refreshes would otherwise both spend the old refresh token and one
	// write would clobber the other's freshly-issued one.
	lock := m.locks.get(userID)
	lock.Lock()
	defer lock.Unlock()

	conn, err := m.connections.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotConnected
	}
	if err != nil {
		return "", err
	}

	expiring := !time.Now().Before(conn.ExpiresAt.Add(-m.expiryBuffer))
	if !expiring {
		accessToken, err := m.codec.Decrypt(conn.EncryptedAccessToken)
		if err != nil {
			// Corrupted ciphertext can never be forced to unexpire.
			return "", m.invalidate(ctx, userID, err)
		}
		return accessToken, nil
	}

	refreshToken, err := m.codec.Decrypt(conn.EncryptedRefreshToken)
	if err != nil {
		return "", m.invalidate(ctx, userID, err)
	}

	grant, err := m.client.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidGrant) {
			// Silent renewal can never succeed again with this refresh
			// token; force a clean re-authorization.
			return "", m.invalidate(ctx, userID, err)
		}
		// Transient failure must not look like permanent disconnection:
		// the stored connection stays as-is for the next caller to retry.
		return "", err
	}

	// Some providers do not rotate the refresh token on every refresh;
	// carry the previous one forward rather than storing a blank.
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}

	if err := m.persistGrant(ctx, userID, grant); err != nil {
		return "", err
	}

	log.Printf("Tokens: refreshed ServiceM8 access token for user %s", userID)
	return grant.AccessToken, nil
}

// Disconnect deletes the user's stored connection. Idempotent; reports
// whether a row was actually removed.
func (m *Manager) Disconnect(ctx context.Context, userID string) (bool, error) {
	deleted, err := m.connections.Delete(ctx, userID)
	if err != nil {
		return false, err
	}
	if deleted {
		log.Printf("Tokens: ServiceM8 disconnected for user %s", userID)
	}
	return deleted, nil
}

// Status reports whether the user has a stored connection and when its access
// token expires. No token material is exposed.
func (m *Manager) Status(ctx context.Context, userID string) (bool, *time.Time, error) {
	conn, err := m.connections.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	expiresAt := conn.ExpiresAt
	return true, &expiresAt, nil
}

func (m *Manager) persistGrant(ctx context.Context, userID string, grant *oauth.Grant) error {
	encryptedAccess, err := m.codec.Encrypt(grant.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	encryptedRefresh, err := m.codec.Encrypt(grant.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	return m.connections.Upsert(ctx, &models.Connection{
		UserID:                userID,
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		ExpiresAt:             grant.ExpiresAt,
	})
}

// invalidate deletes a permanently unusable connection and reports the user
// as not connected. The cause is logged server-side only.
func (m *Manager) invalidate(ctx context.Context, userID string, cause error) error {
	log.Printf("Tokens: invalidating ServiceM8 connection for user %s: %v", userID, cause)
	if _, err := m.connections.Delete(ctx, userID); err != nil {
		log.Printf("Tokens: failed to delete invalid connection for user %s: %v", userID, err)
	}
	return ErrNotConnected
}
