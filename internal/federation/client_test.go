package federation

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(endpoint string) *Client {
	cfg := &PeerConfig{
		PeerID:          "alpha",
		Name:            "Alpha",
		Endpoint:        endpoint,
		FederationToken: "test-token",
	}
	return NewClient(cfg, nil, 0, 1, slog.Default())
}

func TestClient_FetchServers_WrappedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [{"path": "/foo"}], "sync_generation": 3, "total_count": 1}`))
	}))
	defer srv.Close()

	records, err := testClient(srv.URL).FetchServers(context.Background(), 0)
	if err != nil {
		t.Fatalf("FetchServers: %v", err)
	}
	if len(records) != 1 || records[0].Path != "/foo" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestClient_FetchServers_RawListEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"path": "/bar"}]`))
	}))
	defer srv.Close()

	records, err := testClient(srv.URL).FetchServers(context.Background(), 0)
	if err != nil {
		t.Fatalf("FetchServers: %v", err)
	}
	if len(records) != 1 || records[0].Path != "/bar" {
		t.Errorf("unexpected records: %+v", records)
	}
}

// A peer returning a shape that doesn't match the export envelope schema
// (neither a bare array nor {items: [...]}) must degrade the same way a
// transport failure does: (nil, nil), not a hard error.
func TestClient_FetchServers_MalformedEnvelopeCoercesToEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"unexpected": "shape"}`))
	}))
	defer srv.Close()

	records, err := testClient(srv.URL).FetchServers(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected nil error for malformed envelope, got %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records for malformed envelope, got %+v", records)
	}
}

func TestClient_FetchServers_NotFoundCoercesToEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	records, err := testClient(srv.URL).FetchServers(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected nil error for 404, got %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records for 404, got %+v", records)
	}
}

func TestClient_FetchServers_UnauthorizedClearsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := &PeerConfig{PeerID: "alpha", Name: "Alpha", Endpoint: srv.URL, FederationToken: "test-token"}
	source := &fakeTokenSource{token: "shared-token", configured: true}
	client := NewClient(cfg, source, 0, 1, slog.Default())
	// FederationToken set on the peer takes precedence, so the token
	// source is never consulted for the request itself, but a 401 still
	// clears whatever cached token the shared source is holding.
	if _, err := client.FetchServers(context.Background(), 0); err != nil {
		t.Fatalf("FetchServers: %v", err)
	}
	if !source.cleared {
		t.Error("expected ClearToken to be called on 401")
	}
}

type fakeTokenSource struct {
	token      string
	configured bool
	cleared    bool
}

func (f *fakeTokenSource) IsConfigured() bool { return f.configured }
func (f *fakeTokenSource) GetToken(ctx context.Context) (string, bool) {
	return f.token, f.token != ""
}
func (f *fakeTokenSource) ClearToken() { f.cleared = true }
