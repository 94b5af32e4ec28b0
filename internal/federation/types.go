// Package federation implements the registry's peer-to-peer federation layer:
// the peer registry, the sync engine that pulls MCP server and A2A agent
// records from peers, the cooperative scheduler that drives periodic sync,
// the inbound export endpoints peers pull from, and the audit log that
// tracks who connected and what was shared.
package federation

import (
	"encoding/json"
	"sort"
	"time"
)

// SyncMode controls which items a peer's sync pulls in.
type SyncMode string

const (
	SyncModeAll       SyncMode = "all"
	SyncModeWhitelist SyncMode = "whitelist"
	SyncModeTagFilter SyncMode = "tag_filter"
)

// Visibility controls which peers may receive a given record on export.
type Visibility string

const (
	VisibilityPublic          Visibility = "public"
	VisibilityGroupRestricted Visibility = "group-restricted"
	VisibilityInternal        Visibility = "internal"
)

// PeerConfig describes a single peer registry this instance federates with.
// The validate tags are checked by a go-playground/validator instance in
// ValidatePeerConfig, after the bespoke ValidatePeerID check and ahead of
// the hand-written endpoint-scheme and interval checks (spec §3.1); they
// catch the plain structural mistakes (missing name, interval out of range).
type PeerConfig struct {
	PeerID              string     `json:"peer_id" validate:"required,max=255"`
	Name                string     `json:"name" validate:"required"`
	Endpoint            string     `json:"endpoint" validate:"required,url"`
	Enabled             bool       `json:"enabled"`
	SyncMode            SyncMode   `json:"sync_mode" validate:"omitempty,oneof=all whitelist tag_filter"`
	WhitelistServers    []string   `json:"whitelist_servers"`
	WhitelistAgents     []string   `json:"whitelist_agents"`
	TagFilters          []string   `json:"tag_filters"`
	SyncIntervalMinutes int        `json:"sync_interval_minutes" validate:"min=5,max=1440"`
	FederationToken     string     `json:"federation_token,omitempty"`
	ExpectedClientID    string     `json:"expected_client_id,omitempty"`
	ExpectedIssuer      string     `json:"expected_issuer,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// PeerSyncStatus is the mutable sync bookkeeping for one peer. Exactly one
// exists per PeerConfig (invariant 1, spec §8).
type PeerSyncStatus struct {
	PeerID              string            `json:"peer_id"`
	IsHealthy           bool              `json:"is_healthy"`
	LastHealthCheck     *time.Time        `json:"last_health_check,omitempty"`
	LastSuccessfulSync  *time.Time        `json:"last_successful_sync,omitempty"`
	LastSyncAttempt     *time.Time        `json:"last_sync_attempt,omitempty"`
	CurrentGeneration   int64             `json:"current_generation"`
	TotalServersSynced  int64             `json:"total_servers_synced"`
	TotalAgentsSynced   int64             `json:"total_agents_synced"`
	SyncInProgress      bool              `json:"sync_in_progress"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	SyncHistory         []SyncHistoryEntry `json:"sync_history"`
}

// maxSyncHistory is the default bound on PeerSyncStatus.SyncHistory; callers
// may configure a different cap via Service's historyLimit.
const maxSyncHistory = 100

// pushHistory prepends entry and truncates the list to limit (newest-first).
func (s *PeerSyncStatus) pushHistory(entry SyncHistoryEntry, limit int) {
	if limit <= 0 {
		limit = maxSyncHistory
	}
	s.SyncHistory = append([]SyncHistoryEntry{entry}, s.SyncHistory...)
	if len(s.SyncHistory) > limit {
		s.SyncHistory = s.SyncHistory[:limit]
	}
}

// SyncHistoryEntry records the outcome of one attempted sync cycle.
type SyncHistoryEntry struct {
	SyncID          string     `json:"sync_id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Success         bool       `json:"success"`
	ServersSynced   int        `json:"servers_synced"`
	AgentsSynced    int        `json:"agents_synced"`
	ServersOrphaned int        `json:"servers_orphaned"`
	AgentsOrphaned  int        `json:"agents_orphaned"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	SyncGeneration  int64      `json:"sync_generation"`
	FullSync        bool       `json:"full_sync"`
}

// SyncMetadata is attached to every record imported from a peer.
type SyncMetadata struct {
	SourcePeerID   string     `json:"source_peer_id"`
	OriginalPath   string     `json:"original_path"`
	IsFederated    bool       `json:"is_federated"`
	SyncedAt       time.Time  `json:"synced_at"`
	SyncGeneration int64      `json:"sync_generation"`
	IsOrphaned     bool       `json:"is_orphaned"`
	OrphanedAt     *time.Time `json:"orphaned_at,omitempty"`
	LocalOverrides bool       `json:"local_overrides"`
	IsReadOnly     bool       `json:"is_read_only"`
}

// Record is a server or agent record as the federation layer sees it: a few
// typed fields it reasons about (path, visibility, tags, sync metadata) plus
// everything else preserved verbatim so records from newer schema versions
// round-trip intact instead of being silently truncated.
type Record struct {
	Path          string
	Visibility    Visibility
	AllowedGroups []string
	Tags          []string
	Categories    []string
	SyncMeta      *SyncMetadata
	Extra         map[string]json.RawMessage
}

// knownRecordFields lists the JSON keys Record manages explicitly; everything
// else round-trips through Extra.
var knownRecordFields = map[string]bool{
	"path":           true,
	"visibility":     true,
	"allowed_groups": true,
	"tags":           true,
	"categories":     true,
	"sync_metadata":  true,
}

// MarshalJSON flattens the typed fields and the passthrough extras into one
// JSON object.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+6)
	for k, v := range r.Extra {
		out[k] = v
	}
	put := func(key string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
	if r.Path != "" {
		if err := put("path", r.Path); err != nil {
			return nil, err
		}
	}
	if r.Visibility != "" {
		if err := put("visibility", r.Visibility); err != nil {
			return nil, err
		}
	}
	if r.AllowedGroups != nil {
		if err := put("allowed_groups", r.AllowedGroups); err != nil {
			return nil, err
		}
	}
	if r.Tags != nil {
		if err := put("tags", r.Tags); err != nil {
			return nil, err
		}
	}
	if r.Categories != nil {
		if err := put("categories", r.Categories); err != nil {
			return nil, err
		}
	}
	if r.SyncMeta != nil {
		if err := put("sync_metadata", r.SyncMeta); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a JSON object into the known Record fields and an
// Extra map carrying every other key, so unknown keys survive round trips.
func (r *Record) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if !knownRecordFields[k] {
			extra[k] = v
		}
	}
	var path string
	if v, ok := raw["path"]; ok {
		json.Unmarshal(v, &path)
	}
	var vis Visibility
	if v, ok := raw["visibility"]; ok {
		json.Unmarshal(v, &vis)
	}
	var groups []string
	if v, ok := raw["allowed_groups"]; ok {
		json.Unmarshal(v, &groups)
	}
	var tags []string
	if v, ok := raw["tags"]; ok {
		json.Unmarshal(v, &tags)
	}
	var cats []string
	if v, ok := raw["categories"]; ok {
		json.Unmarshal(v, &cats)
	}
	var meta *SyncMetadata
	if v, ok := raw["sync_metadata"]; ok && string(v) != "null" {
		meta = &SyncMetadata{}
		if err := json.Unmarshal(v, meta); err != nil {
			return err
		}
	}

	r.Path = path
	r.Visibility = vis
	r.AllowedGroups = groups
	r.Tags = tags
	r.Categories = cats
	r.SyncMeta = meta
	r.Extra = extra
	return nil
}

// Clone returns a deep-enough copy of the record suitable for storing
// independently of the caller's copy (Extra is shared as json.RawMessage
// values are treated as immutable once produced).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.AllowedGroups = append([]string(nil), r.AllowedGroups...)
	c.Tags = append([]string(nil), r.Tags...)
	c.Categories = append([]string(nil), r.Categories...)
	if r.SyncMeta != nil {
		m := *r.SyncMeta
		c.SyncMeta = &m
	}
	if r.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// FederationExport is the response body of every export endpoint.
type FederationExport struct {
	Items          []Record `json:"items"`
	SyncGeneration int64    `json:"sync_generation"`
	TotalCount     int      `json:"total_count"`
	HasMore        bool     `json:"has_more"`
	RegistryID     string   `json:"registry_id"`
}

// ConnectionLogEntry records one inbound export-endpoint invocation.
type ConnectionLogEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	PeerID         string    `json:"peer_id"`
	PeerName       string    `json:"peer_name"`
	ClientID       string    `json:"client_id"`
	Endpoint       string    `json:"endpoint"`
	ItemsRequested int       `json:"items_requested"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
}

// PeerSyncSummary is the rolled-up per-peer connection summary kept by the
// audit log.
type PeerSyncSummary struct {
	PeerID             string     `json:"peer_id"`
	PeerName           string     `json:"peer_name"`
	TotalConnections   int64      `json:"total_connections"`
	LastConnection     *time.Time `json:"last_connection,omitempty"`
	ServersShared      int        `json:"servers_shared"`
	AgentsShared       int        `json:"agents_shared"`
	SuccessfulRequests int64      `json:"successful_requests"`
	FailedRequests     int64      `json:"failed_requests"`
}

// SyncResult is the outcome of one sync_peer call.
type SyncResult struct {
	Success         bool    `json:"success"`
	PeerID          string  `json:"peer_id"`
	ServersSynced   int     `json:"servers_synced"`
	AgentsSynced    int     `json:"agents_synced"`
	ServersOrphaned int     `json:"servers_orphaned"`
	AgentsOrphaned  int     `json:"agents_orphaned"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	NewGeneration   int64   `json:"new_generation"`
}

// Principal is the authenticated caller of an inbound federation request, as
// produced by the (externally owned) auth gateway.
type Principal struct {
	Username string
	ClientID string
	Scopes   []string
	Groups   []string
}

// HasScope reports whether the principal carries the named scope.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// sortedKeys returns m's keys in sorted order, for deterministic iteration
// over ListAll-derived maps. Nothing in the module calls it at present.
func sortedKeys(m map[string]*Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
