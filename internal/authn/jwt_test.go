package authn

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, c claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return s
}

func TestJWTGateway_Authenticate(t *testing.T) {
	secret := "test-secret"
	gw := NewJWTGateway(secret)

	tok := signToken(t, secret, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "peer-client",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ClientID: "client-abc",
		Scope:    "federation-service federation/read",
		Groups:   []string{"team-a"},
	})

	r := httptest.NewRequest(http.MethodGet, "/api/federation/servers", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	p, err := gw.Authenticate(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ClientID != "client-abc" {
		t.Errorf("expected client_id client-abc, got %q", p.ClientID)
	}
	if !p.HasScope("federation-service") || !p.HasScope("federation/read") {
		t.Errorf("expected both scopes present, got %v", p.Scopes)
	}
	if len(p.Groups) != 1 || p.Groups[0] != "team-a" {
		t.Errorf("expected groups [team-a], got %v", p.Groups)
	}
}

func TestJWTGateway_MissingToken(t *testing.T) {
	gw := NewJWTGateway("secret")
	r := httptest.NewRequest(http.MethodGet, "/api/federation/servers", nil)

	if _, err := gw.Authenticate(r); err == nil {
		t.Fatal("expected error for missing bearer token")
	}
}

func TestJWTGateway_WrongSecret(t *testing.T) {
	gw := NewJWTGateway("right-secret")
	tok := signToken(t, "wrong-secret", claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x"},
	})

	r := httptest.NewRequest(http.MethodGet, "/api/federation/servers", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	if _, err := gw.Authenticate(r); err == nil {
		t.Fatal("expected error for token signed with wrong secret")
	}
}

func TestJWTGateway_Expired(t *testing.T) {
	secret := "test-secret"
	gw := NewJWTGateway(secret)
	tok := signToken(t, secret, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "peer-client",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	r := httptest.NewRequest(http.MethodGet, "/api/federation/servers", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	if _, err := gw.Authenticate(r); err == nil {
		t.Fatal("expected error for expired token")
	}
}
