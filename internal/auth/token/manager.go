// Package token manages OAuth client-credential tokens per account scope:
// expiry tracking, lazy refresh, and encrypted persistence at the resolved
// scope.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/marketbridge/apsis-sync/internal/apiclient"
	"github.com/marketbridge/apsis-sync/internal/crypto"
	"github.com/marketbridge/apsis-sync/internal/scope"
)

// Typed negative results. Callers consume these to skip sync silently;
// neither is an operational error.
var (
	ErrDisabled           = errors.New("account sync disabled for scope")
	ErrMissingCredentials = errors.New("no api credentials configured for scope")
)

// expiryFormat is the persisted layout of the token expiry, always UTC.
const expiryFormat = time.RFC3339

// Manager resolves credentials through the scope chain and keeps one valid
// token cached per resolved scope. Concurrent refreshes are tolerated
// (last write wins); token issuance is idempotent on the remote side.
type Manager struct {
	cfg      *scope.ConfigStore
	resolver *scope.Resolver
	gateway  *apiclient.Client
	enc      *crypto.Encryptor
	now      func() time.Time
}

// NewManager creates a token manager.
func NewManager(cfg *scope.ConfigStore, resolver *scope.Resolver, gateway *apiclient.Client, enc *crypto.Encryptor) *Manager {
	return &Manager{
		cfg:      cfg,
		resolver: resolver,
		gateway:  gateway,
		enc:      enc,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetToken returns a valid access token for the store's resolved scope.
// Returns ErrDisabled when the scope is switched off and
// ErrMissingCredentials when no client id/secret is configured anywhere in
// the chain; both mean "nothing to do", not failure.
func (m *Manager) GetToken(ctx context.Context, storeID uint) (string, error) {
	if enabled, _ := m.resolver.Lookup(storeID, scope.PathAccountEnabled); enabled != "1" {
		return "", ErrDisabled
	}

	resolved, err := m.resolver.Resolve(storeID)
	if err != nil {
		return "", err
	}

	clientID, _ := m.cfg.Get(resolved, scope.PathOAuthClientID)
	secretBlob, _ := m.cfg.Get(resolved, scope.PathOAuthClientSecret)
	if clientID == "" || secretBlob == "" {
		return "", ErrMissingCredentials
	}

	if tok := m.cachedToken(resolved); tok != "" {
		return tok, nil
	}

	clientSecret, err := m.enc.Decrypt(secretBlob)
	if err != nil {
		return "", fmt.Errorf("decrypt client secret for %s: %w", resolved, err)
	}

	return m.refresh(ctx, resolved, clientID, clientSecret)
}

// cachedToken returns the persisted token at the resolved scope when its
// expiry is still in the future, otherwise "".
func (m *Manager) cachedToken(resolved scope.Ref) string {
	expiryRaw, ok := m.cfg.Get(resolved, scope.PathOAuthTokenExpiry)
	if !ok {
		return ""
	}
	expiry, err := time.Parse(expiryFormat, expiryRaw)
	if err != nil || !expiry.After(m.now()) {
		return ""
	}

	blob, ok := m.cfg.Get(resolved, scope.PathOAuthToken)
	if !ok || blob == "" {
		return ""
	}
	tok, err := m.enc.Decrypt(blob)
	if err != nil {
		log.Printf("⚠️ Cached token at %s is unreadable, refreshing: %v", resolved, err)
		return ""
	}
	return tok
}

// refresh performs the client-credentials grant and persists the new token
// and expiry (issue time + expires_in) at the resolved scope. The two config
// values are overwritten wholesale; the token is never mutated in place.
func (m *Manager) refresh(ctx context.Context, resolved scope.Ref, clientID, clientSecret string) (string, error) {
	issuedAt := m.now()
	tok, res := m.gateway.GetAccessToken(ctx, clientID, clientSecret)
	switch res.Outcome {
	case apiclient.TransportFailure:
		return "", fmt.Errorf("token endpoint unreachable for %s: %s", resolved, res.Message)
	case apiclient.RemoteError:
		return "", fmt.Errorf("token grant rejected for %s: %s", resolved, res.Message)
	}

	blob, err := m.enc.Encrypt(tok.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt token for %s: %w", resolved, err)
	}
	expiry := issuedAt.Add(time.Duration(tok.ExpiresIn) * time.Second)

	if err := m.cfg.Save(resolved, scope.PathOAuthToken, blob); err != nil {
		return "", fmt.Errorf("persist token for %s: %w", resolved, err)
	}
	if err := m.cfg.Save(resolved, scope.PathOAuthTokenExpiry, expiry.Format(expiryFormat)); err != nil {
		return "", fmt.Errorf("persist token expiry for %s: %w", resolved, err)
	}

	log.Printf("✅ Refreshed token for scope %s (expires: %s)", resolved, expiry.Format(expiryFormat))
	return tok.AccessToken, nil
}

// SaveCredentials stores a client id and secret (encrypted) at a scope.
// Clears any cached token so the next GetToken re-authenticates.
func (m *Manager) SaveCredentials(ref scope.Ref, clientID, clientSecret string) error {
	blob, err := m.enc.Encrypt(clientSecret)
	if err != nil {
		return err
	}
	if err := m.cfg.Save(ref, scope.PathOAuthClientID, clientID); err != nil {
		return err
	}
	if err := m.cfg.Save(ref, scope.PathOAuthClientSecret, blob); err != nil {
		return err
	}
	if err := m.cfg.Delete(ref, scope.PathOAuthToken); err != nil {
		return err
	}
	return m.cfg.Delete(ref, scope.PathOAuthTokenExpiry)
}
