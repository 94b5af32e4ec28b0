package federation

import (
	"context"
	"net/http"
)

// RecordStore is the shape server_store and agent_store both expose (spec
// §6.1). Storage of the underlying records is explicitly out of scope for
// this layer; the federation subsystem only ever reaches storage through
// this interface.
type RecordStore interface {
	ListAll(ctx context.Context) (map[string]*Record, error)
	Get(ctx context.Context, path string) (*Record, error)
	IsEnabled(ctx context.Context, path string) (bool, error)
	Create(ctx context.Context, rec *Record) error
	Update(ctx context.Context, path string, rec *Record) error
	Delete(ctx context.Context, path string) error
	SetState(ctx context.Context, path string, enabled bool) error
}

// ServerStore holds MCP server records.
type ServerStore interface {
	RecordStore
}

// AgentStore holds A2A agent records. It exposes the same shape as
// ServerStore plus an agent-flavored enabled check, per spec §6.1.
type AgentStore interface {
	RecordStore
	IsAgentEnabled(ctx context.Context, path string) (bool, error)
}

// PeerStore persists PeerConfig and PeerSyncStatus (spec §6.1, §6.4).
type PeerStore interface {
	GetPeer(ctx context.Context, id string) (*PeerConfig, error)
	ListPeers(ctx context.Context, enabledOnly *bool) ([]*PeerConfig, error)
	SavePeer(ctx context.Context, cfg *PeerConfig) error
	DeletePeer(ctx context.Context, id string) error

	GetSyncState(ctx context.Context, id string) (*PeerSyncStatus, error)
	SaveSyncState(ctx context.Context, id string, status *PeerSyncStatus) error
	DeleteSyncState(ctx context.Context, id string) error
	ListAllSyncStates(ctx context.Context) (map[string]*PeerSyncStatus, error)
}

// TokenSource issues and caches bearer tokens for outbound OAuth2
// client-credentials calls (spec §4.2.3). A nil-valued, unconfigured source
// is a valid zero value: IsConfigured reports false and GetToken returns
// ("", false).
type TokenSource interface {
	GetToken(ctx context.Context) (string, bool)
	IsConfigured() bool
	ClearToken()
}

// AuthGateway converts an inbound HTTP request into a validated Principal.
// Authentication itself (spec §6.1 auth_gateway) is out of scope; this is
// the seam the export/admin handlers call through.
type AuthGateway interface {
	Authenticate(r *http.Request) (Principal, error)
}

// ScanStore holds security-scan records keyed by the server path they were
// run against (supplemented collaborator, spec §4.5.4). Like RecordStore,
// scan persistence itself is out of scope; this is the seam the
// security-scans export endpoint reads through.
type ScanStore interface {
	ListScans(ctx context.Context) ([]Record, error)
}
