// Package authn provides a concrete AuthGateway for the federation package:
// a bearer-token validator that turns an OAuth2-issued JWT access token
// into a federation.Principal. Authentication policy itself (issuer trust,
// key rotation) is deliberately minimal — this is the seam the spec.md
// federation layer reaches through, not a general-purpose auth system.
package authn

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amityvox/registry-federation/internal/federation"
)

// claims is the minimal access-token shape this gateway understands: a
// subject, an OAuth2 client_id, a space-delimited scope string, and an
// optional groups list, matching the claim names the peer-registry
// ecosystem's client-credentials tokens carry.
type claims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id"`
	Scope    string   `json:"scope"`
	Groups   []string `json:"groups"`
}

// JWTGateway validates bearer tokens signed with a single shared HMAC
// secret. Multi-issuer/JWKS support is out of scope for this seam; a
// deployment that needs it supplies its own AuthGateway implementation.
type JWTGateway struct {
	secret []byte
}

// NewJWTGateway builds a JWTGateway that verifies tokens against secret.
func NewJWTGateway(secret string) *JWTGateway {
	return &JWTGateway{secret: []byte(secret)}
}

// Authenticate implements federation.AuthGateway.
func (g *JWTGateway) Authenticate(r *http.Request) (federation.Principal, error) {
	token := extractBearerToken(r)
	if token == "" {
		return federation.Principal{}, errors.New("missing bearer token")
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return federation.Principal{}, fmt.Errorf("parsing bearer token: %w", err)
	}
	if !parsed.Valid {
		return federation.Principal{}, errors.New("bearer token not valid")
	}

	var scopes []string
	if c.Scope != "" {
		scopes = strings.Fields(c.Scope)
	}

	return federation.Principal{
		Username: c.Subject,
		ClientID: c.ClientID,
		Scopes:   scopes,
		Groups:   c.Groups,
	}, nil
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
