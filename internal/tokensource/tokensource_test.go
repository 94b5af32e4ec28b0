package tokensource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func tokenServer(t *testing.T, accessToken string, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
}

func TestClientCredentialsSource_NotConfigured(t *testing.T) {
	s := New("", "", "", nil, nil)
	if s.IsConfigured() {
		t.Fatal("expected source with no client ID to report unconfigured")
	}
	if _, ok := s.GetToken(context.Background()); ok {
		t.Fatal("expected GetToken to miss on unconfigured source")
	}
}

func TestClientCredentialsSource_GetToken(t *testing.T) {
	srv := tokenServer(t, "abc123", 3600)
	defer srv.Close()

	s := New("client-id", "client-secret", srv.URL, []string{"federation-service"}, nil)
	if !s.IsConfigured() {
		t.Fatal("expected configured source")
	}

	tok, ok := s.GetToken(context.Background())
	if !ok || tok != "abc123" {
		t.Fatalf("expected token abc123, got %q (ok=%v)", tok, ok)
	}

	// Second call should hit the cache rather than the token endpoint again.
	tok2, ok2 := s.GetToken(context.Background())
	if !ok2 || tok2 != "abc123" {
		t.Fatalf("expected cached token abc123, got %q (ok=%v)", tok2, ok2)
	}
}

func TestClientCredentialsSource_ClearToken(t *testing.T) {
	srv := tokenServer(t, "abc123", 3600)
	defer srv.Close()

	s := New("client-id", "client-secret", srv.URL, nil, nil)
	if _, ok := s.GetToken(context.Background()); !ok {
		t.Fatal("expected initial GetToken to succeed")
	}
	s.ClearToken()
	if _, ok := s.cache.Get(cacheKey); ok {
		t.Fatal("expected cache to be empty after ClearToken")
	}
}

func TestClientCredentialsSource_TokenEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New("client-id", "client-secret", srv.URL, nil, nil)
	if _, ok := s.GetToken(context.Background()); ok {
		t.Fatal("expected GetToken to fail when token endpoint errors")
	}
}
