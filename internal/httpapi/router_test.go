package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/amityvox/registry-federation/internal/federation"
	"github.com/amityvox/registry-federation/internal/recordstore"
)

type noopAuth struct{}

func (noopAuth) Authenticate(r *http.Request) (federation.Principal, error) {
	return federation.Principal{Username: "test", Scopes: []string{"federation-service"}}, nil
}

// fakePeerStore is a minimal in-memory federation.PeerStore for router
// smoke tests; internal/peerstore has its own dedicated tests against the
// real filesystem-backed implementation.
type fakePeerStore struct {
	mu     sync.Mutex
	peers  map[string]*federation.PeerConfig
	status map[string]*federation.PeerSyncStatus
}

func newFakePeerStore() *fakePeerStore {
	return &fakePeerStore{
		peers:  map[string]*federation.PeerConfig{},
		status: map[string]*federation.PeerSyncStatus{},
	}
}

func (m *fakePeerStore) GetPeer(ctx context.Context, id string) (*federation.PeerConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.peers[id]
	if !ok {
		return nil, &federation.NotFoundError{PeerID: id}
	}
	return cfg, nil
}

func (m *fakePeerStore) ListPeers(ctx context.Context, enabledOnly *bool) ([]*federation.PeerConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*federation.PeerConfig, 0, len(m.peers))
	for _, cfg := range m.peers {
		if enabledOnly != nil && cfg.Enabled != *enabledOnly {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (m *fakePeerStore) SavePeer(ctx context.Context, cfg *federation.PeerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[cfg.PeerID] = cfg
	return nil
}

func (m *fakePeerStore) DeletePeer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
	return nil
}

func (m *fakePeerStore) GetSyncState(ctx context.Context, id string) (*federation.PeerSyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.status[id]
	if !ok {
		return nil, &federation.NotFoundError{PeerID: id}
	}
	return status, nil
}

func (m *fakePeerStore) SaveSyncState(ctx context.Context, id string, status *federation.PeerSyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = status
	return nil
}

func (m *fakePeerStore) DeleteSyncState(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.status, id)
	return nil
}

func (m *fakePeerStore) ListAllSyncStates(ctx context.Context) (map[string]*federation.PeerSyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*federation.PeerSyncStatus, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out, nil
}

func newTestRouter() *federation.Service {
	return federation.NewService(federation.Config{
		Peers:      newFakePeerStore(),
		Servers:    recordstore.New(),
		Agents:     recordstore.NewAgentStore(),
		Scans:      recordstore.NewScanStore(),
		RegistryID: "registry-under-test",
	})
}

func TestNewRouter_HealthEndpoint(t *testing.T) {
	svc := newTestRouter()
	r := NewRouter(Deps{
		Service:    svc,
		Scheduler:  federation.NewScheduler(svc, 0, nil),
		Auth:       noopAuth{},
		RegistryID: "registry-under-test",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/federation/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from health endpoint, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNewRouter_ListPeersOnEmptyStore(t *testing.T) {
	svc := newTestRouter()
	r := NewRouter(Deps{
		Service:    svc,
		Scheduler:  federation.NewScheduler(svc, 0, nil),
		Auth:       noopAuth{},
		RegistryID: "registry-under-test",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/peers/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing peers, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNewRouter_CORSHeaders(t *testing.T) {
	svc := newTestRouter()
	r := NewRouter(Deps{
		Service:     svc,
		Scheduler:   federation.NewScheduler(svc, 0, nil),
		Auth:        noopAuth{},
		RegistryID:  "registry-under-test",
		CORSOrigins: []string{"https://console.example.com"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/federation/health", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want the configured origin", got)
	}
}

func TestNewRouter_CORSDisabledWhenUnconfigured(t *testing.T) {
	svc := newTestRouter()
	r := NewRouter(Deps{
		Service:    svc,
		Scheduler:  federation.NewScheduler(svc, 0, nil),
		Auth:       noopAuth{},
		RegistryID: "registry-under-test",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/federation/health", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS header when CORSOrigins is empty, got %q", got)
	}
}

func TestNewRouter_RateLimitHeaders(t *testing.T) {
	svc := newTestRouter()
	r := NewRouter(Deps{
		Service:    svc,
		Scheduler:  federation.NewScheduler(svc, 0, nil),
		Auth:       noopAuth{},
		RegistryID: "registry-under-test",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/federation/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("expected X-RateLimit-Limit header to be set")
	}
}
