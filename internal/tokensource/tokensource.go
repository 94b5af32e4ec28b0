// Package tokensource implements federation.TokenSource against an OAuth2
// client-credentials grant, for peers that authenticate the shared instance
// rather than accepting a per-peer federation_token (spec §4.2.3).
package tokensource

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/amityvox/registry-federation/internal/cache"
)

// refreshBuffer is subtracted from a token's reported expiry so GetToken
// refreshes slightly before the issuer would reject it.
const refreshBuffer = 60 * time.Second

// cacheKey is the single slot this source caches under; one
// ClientCredentialsSource corresponds to one set of client credentials.
const cacheKey = "token"

// ClientCredentialsSource is a federation.TokenSource backed by an OAuth2
// client-credentials grant. Successful tokens are cached until shortly
// before they expire; a 401/403 from a peer clears the cache immediately
// via ClearToken so the next call re-authenticates instead of replaying a
// token the peer just rejected. Transport-level failures talking to the
// token endpoint are not cached as failures and simply surface to the
// caller, who retries on its own schedule.
type ClientCredentialsSource struct {
	cfg    clientcredentials.Config
	cache  *cache.TTLCache[string]
	logger *slog.Logger
}

// New builds a ClientCredentialsSource. clientID/clientSecret/tokenURL/scopes
// with an empty clientID means federation is not configured to use a shared
// token source; IsConfigured reports false and GetToken always misses.
func New(clientID, clientSecret, tokenURL string, scopes []string, logger *slog.Logger) *ClientCredentialsSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientCredentialsSource{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		},
		// One entry ever lives in this cache (cacheKey); max size 1 keeps
		// the generic TTLCache's eviction bookkeeping a no-op in practice.
		cache:  cache.NewTTLCache[string](refreshBuffer, 1),
		logger: logger,
	}
}

// IsConfigured reports whether this source has credentials to mint tokens.
func (s *ClientCredentialsSource) IsConfigured() bool {
	return s.cfg.ClientID != "" && s.cfg.TokenURL != ""
}

// GetToken returns a cached or freshly minted bearer token. The second
// return value is false if this source isn't configured or the token
// endpoint could not be reached.
func (s *ClientCredentialsSource) GetToken(ctx context.Context) (string, bool) {
	if !s.IsConfigured() {
		return "", false
	}
	if tok, ok := s.cache.Get(cacheKey); ok {
		return tok, true
	}

	tok, err := s.cfg.Token(ctx)
	if err != nil {
		s.logger.Warn("client credentials token request failed", slog.String("token_url", s.cfg.TokenURL), slog.String("error", err.Error()))
		return "", false
	}
	if tok.AccessToken == "" {
		return "", false
	}

	ttl := refreshBuffer
	if !tok.Expiry.IsZero() {
		if remaining := time.Until(tok.Expiry) - refreshBuffer; remaining > 0 {
			ttl = remaining
		}
	}
	s.cache.SetWithTTL(cacheKey, tok.AccessToken, ttl)
	return tok.AccessToken, true
}

// ClearToken invalidates the cached token, forcing the next GetToken call to
// re-authenticate. Callers invoke this after a peer responds 401/403 to a
// request that carried this source's token.
func (s *ClientCredentialsSource) ClearToken() {
	s.cache.Invalidate(cacheKey)
}
