package federation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/amityvox/registry-federation/internal/idgen"
)

// Service is the process-wide peer-federation service (spec §4.1): peer
// CRUD, sync-state bookkeeping, and the sync engine that pulls server and
// agent records from a peer into local storage. Peer CRUD and the
// GetSyncStatus/UpdateSyncStatus accessors are serialized through mu.
// SyncPeer and SetLocalOverride do not take mu: SyncPeer reads and writes
// the peer's sync status directly through the PeerStore, so its status
// writes are not ordered against a concurrent UpdateSyncStatus for the same
// peer. Concurrent per-peer sync work is gated by the scheduler's
// currently-syncing set, not by this mutex.
type Service struct {
	mu sync.Mutex

	peers   PeerStore
	servers ServerStore
	agents  AgentStore
	scans   ScanStore
	tokens  TokenSource
	logger  *slog.Logger

	registryID    string
	clientTimeout time.Duration
	retryAttempts int
	historyLimit  int
}

// Config bundles the collaborators and tunables a Service is built with.
type Config struct {
	Peers         PeerStore
	Servers       ServerStore
	Agents        AgentStore
	Scans         ScanStore
	Tokens        TokenSource
	Logger        *slog.Logger
	RegistryID    string
	ClientTimeout time.Duration
	RetryAttempts int
	HistoryLimit  int
}

// NewService builds a Service from cfg.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		peers:         cfg.Peers,
		servers:       cfg.Servers,
		agents:        cfg.Agents,
		scans:         cfg.Scans,
		tokens:        cfg.Tokens,
		logger:        logger,
		registryID:    cfg.RegistryID,
		clientTimeout: cfg.ClientTimeout,
		retryAttempts: cfg.RetryAttempts,
		historyLimit:  cfg.HistoryLimit,
	}
}

// AddPeer validates and stores a new peer, creating its initial sync status
// (spec §4.1.1).
func (s *Service) AddPeer(ctx context.Context, cfg *PeerConfig) (*PeerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidatePeerConfig(cfg); err != nil {
		return nil, err
	}
	if existing, _ := s.peers.GetPeer(ctx, cfg.PeerID); existing != nil {
		return nil, &AlreadyExistsError{PeerID: cfg.PeerID}
	}

	cfg.Endpoint = NormalizeEndpoint(cfg.Endpoint)
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if err := s.peers.SavePeer(ctx, cfg); err != nil {
		return nil, fmt.Errorf("saving peer %q: %w", cfg.PeerID, err)
	}
	if err := s.peers.SaveSyncState(ctx, cfg.PeerID, &PeerSyncStatus{PeerID: cfg.PeerID}); err != nil {
		return nil, fmt.Errorf("initializing sync state for %q: %w", cfg.PeerID, err)
	}
	return cfg, nil
}

// GetPeer returns a peer's config.
func (s *Service) GetPeer(ctx context.Context, peerID string) (*PeerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.peers.GetPeer(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, &NotFoundError{PeerID: peerID}
	}
	return cfg, nil
}

// PeerUpdate carries sparse fields for UpdatePeer; nil fields are left
// unchanged. PeerID is never updated even if set (spec §4.1.1).
type PeerUpdate struct {
	Name                *string
	Endpoint            *string
	Enabled             *bool
	SyncMode            *SyncMode
	WhitelistServers    []string
	WhitelistAgents     []string
	TagFilters          []string
	SyncIntervalMinutes *int
	FederationToken     *string
	ExpectedClientID    *string
	ExpectedIssuer      *string
}

// UpdatePeer applies a sparse update to an existing peer.
func (s *Service) UpdatePeer(ctx context.Context, peerID string, upd PeerUpdate) (*PeerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.peers.GetPeer(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, &NotFoundError{PeerID: peerID}
	}

	if upd.Name != nil {
		cfg.Name = *upd.Name
	}
	if upd.Endpoint != nil {
		cfg.Endpoint = NormalizeEndpoint(*upd.Endpoint)
	}
	if upd.Enabled != nil {
		cfg.Enabled = *upd.Enabled
	}
	if upd.SyncMode != nil {
		cfg.SyncMode = *upd.SyncMode
	}
	if upd.WhitelistServers != nil {
		cfg.WhitelistServers = upd.WhitelistServers
	}
	if upd.WhitelistAgents != nil {
		cfg.WhitelistAgents = upd.WhitelistAgents
	}
	if upd.TagFilters != nil {
		cfg.TagFilters = upd.TagFilters
	}
	if upd.SyncIntervalMinutes != nil {
		cfg.SyncIntervalMinutes = *upd.SyncIntervalMinutes
	}
	if upd.FederationToken != nil {
		cfg.FederationToken = *upd.FederationToken
	}
	if upd.ExpectedClientID != nil {
		cfg.ExpectedClientID = *upd.ExpectedClientID
	}
	if upd.ExpectedIssuer != nil {
		cfg.ExpectedIssuer = *upd.ExpectedIssuer
	}

	if err := ValidatePeerConfig(cfg); err != nil {
		return nil, err
	}
	cfg.UpdatedAt = time.Now().UTC()

	if err := s.peers.SavePeer(ctx, cfg); err != nil {
		return nil, fmt.Errorf("saving peer %q: %w", peerID, err)
	}
	return cfg, nil
}

// RemovePeer deletes a peer's config and sync state.
func (s *Service) RemovePeer(ctx context.Context, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidatePeerID(peerID); err != nil {
		return err
	}
	existing, err := s.peers.GetPeer(ctx, peerID)
	if err != nil {
		return err
	}
	if existing == nil {
		return &NotFoundError{PeerID: peerID}
	}
	if err := s.peers.DeletePeer(ctx, peerID); err != nil {
		return fmt.Errorf("deleting peer %q: %w", peerID, err)
	}
	if err := s.peers.DeleteSyncState(ctx, peerID); err != nil {
		return fmt.Errorf("deleting sync state for %q: %w", peerID, err)
	}
	return nil
}

// ListPeers returns peers, optionally filtered by enabled state.
func (s *Service) ListPeers(ctx context.Context, enabledOnly *bool) ([]*PeerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers.ListPeers(ctx, enabledOnly)
}

// GetSyncStatus returns the sync status for a peer, or nil if none exists
// yet.
func (s *Service) GetSyncStatus(ctx context.Context, peerID string) (*PeerSyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, err := s.peers.GetSyncState(ctx, peerID)
	if _, notFound := err.(*NotFoundError); notFound {
		return nil, nil
	}
	return status, err
}

// UpdateSyncStatus overwrites a peer's sync status wholesale.
func (s *Service) UpdateSyncStatus(ctx context.Context, peerID string, status *PeerSyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers.SaveSyncState(ctx, peerID, status)
}

// SetLocalOverride toggles local_overrides on a single imported record
// (spec §4.1.5). It affects only whether future peer imports update that
// record; it never touches the record's other fields.
func (s *Service) SetLocalOverride(ctx context.Context, isAgent bool, path string, value bool) error {
	store := RecordStore(s.servers)
	if isAgent {
		store = s.agents
	}
	rec, err := store.Get(ctx, path)
	if err != nil {
		return err
	}
	if rec == nil {
		return &RecordNotFoundError{Path: path}
	}
	if rec.SyncMeta == nil {
		rec.SyncMeta = &SyncMetadata{}
	}
	rec.SyncMeta.LocalOverrides = value
	return store.Update(ctx, path, rec)
}

// SyncPeer performs one sync cycle against peerID (spec §4.1.2).
func (s *Service) SyncPeer(ctx context.Context, peerID string) (*SyncResult, error) {
	cfg, err := s.peers.GetPeer(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, &NotFoundError{PeerID: peerID}
	}
	if !cfg.Enabled {
		return nil, &InvalidStateError{Reason: fmt.Sprintf("peer %q is disabled", peerID)}
	}

	status, err := s.peers.GetSyncState(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		status = &PeerSyncStatus{PeerID: peerID}
	}

	sinceGeneration := status.CurrentGeneration
	start := time.Now()
	now := start.UTC()
	status.SyncInProgress = true
	status.LastSyncAttempt = &now
	_ = s.peers.SaveSyncState(ctx, peerID, status)

	result := &SyncResult{PeerID: peerID, NewGeneration: status.CurrentGeneration}
	historyEntry := SyncHistoryEntry{
		SyncID:         idgen.New(),
		StartedAt:      start.UTC(),
		SyncGeneration: sinceGeneration,
		FullSync:       sinceGeneration == 0,
	}

	client := NewClient(cfg, s.tokens, s.clientTimeout, s.retryAttempts, s.logger)

	// A peer that's failed several syncs in a row is probably down; check
	// its health endpoint first so a dead peer fails fast instead of
	// burning a full sync timeout on every scheduler tick.
	if status.ConsecutiveFailures >= 3 && !client.CheckHealth(ctx) {
		err := fmt.Errorf("peer %q failed health check, skipping sync attempt", peerID)
		s.finishSyncFailure(ctx, status, &historyEntry, result, start, err)
		return result, nil
	}

	serversFetched, agentsFetched, err := s.fetchAndFilter(ctx, client, cfg, sinceGeneration)
	if err != nil {
		s.finishSyncFailure(ctx, status, &historyEntry, result, start, err)
		return result, nil
	}

	serversSynced, serverPaths := s.importRecords(ctx, s.servers, cfg.PeerID, serversFetched)
	agentsSynced, agentPaths := s.importRecords(ctx, s.agents, cfg.PeerID, agentsFetched)

	serversOrphaned, err1 := s.markOrphans(ctx, s.servers, cfg.PeerID, serverPaths)
	agentsOrphaned, err2 := s.markOrphans(ctx, s.agents, cfg.PeerID, agentPaths)
	if err1 != nil {
		s.logger.Warn("orphan detection failed for servers", slog.String("peer_id", peerID), slog.String("error", err1.Error()))
	}
	if err2 != nil {
		s.logger.Warn("orphan detection failed for agents", slog.String("peer_id", peerID), slog.String("error", err2.Error()))
	}

	totalImported := serversSynced + agentsSynced
	if totalImported > 0 || sinceGeneration == 0 {
		status.CurrentGeneration++
	}
	status.ConsecutiveFailures = 0
	status.IsHealthy = true
	status.TotalServersSynced += int64(serversSynced)
	status.TotalAgentsSynced += int64(agentsSynced)
	successNow := time.Now().UTC()
	status.LastSuccessfulSync = &successNow
	status.LastHealthCheck = &successNow
	status.SyncInProgress = false

	completedAt := time.Now().UTC()
	historyEntry.CompletedAt = &completedAt
	historyEntry.Success = true
	historyEntry.ServersSynced = serversSynced
	historyEntry.AgentsSynced = agentsSynced
	historyEntry.ServersOrphaned = serversOrphaned
	historyEntry.AgentsOrphaned = agentsOrphaned
	historyEntry.SyncGeneration = status.CurrentGeneration
	status.pushHistory(historyEntry, s.historyLimit)

	if err := s.peers.SaveSyncState(ctx, peerID, status); err != nil {
		s.logger.Error("failed to persist sync status", slog.String("peer_id", peerID), slog.String("error", err.Error()))
	}

	result.Success = true
	result.ServersSynced = serversSynced
	result.AgentsSynced = agentsSynced
	result.ServersOrphaned = serversOrphaned
	result.AgentsOrphaned = agentsOrphaned
	result.DurationSeconds = time.Since(start).Seconds()
	result.NewGeneration = status.CurrentGeneration
	return result, nil
}

// finishSyncFailure records a failed sync cycle on status and result per
// spec §4.1.2 step 9.
func (s *Service) finishSyncFailure(ctx context.Context, status *PeerSyncStatus, entry *SyncHistoryEntry, result *SyncResult, start time.Time, cause error) {
	status.ConsecutiveFailures++
	status.IsHealthy = false
	now := time.Now().UTC()
	status.LastHealthCheck = &now
	status.SyncInProgress = false

	entry.CompletedAt = &now
	entry.Success = false
	entry.ErrorMessage = cause.Error()
	status.pushHistory(*entry, s.historyLimit)

	if err := s.peers.SaveSyncState(ctx, status.PeerID, status); err != nil {
		s.logger.Error("failed to persist sync status after failure", slog.String("peer_id", status.PeerID), slog.String("error", err.Error()))
	}

	result.Success = false
	result.ErrorMessage = cause.Error()
	result.DurationSeconds = time.Since(start).Seconds()
	result.NewGeneration = status.CurrentGeneration
}

// fetchAndFilter fetches servers and agents from the peer and applies the
// sync-mode filter to each (spec §4.1.2 steps 4-5).
func (s *Service) fetchAndFilter(ctx context.Context, client *Client, cfg *PeerConfig, sinceGeneration int64) ([]Record, []Record, error) {
	servers, err := client.FetchServers(ctx, sinceGeneration)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching servers from %q: %w", cfg.PeerID, err)
	}
	agents, err := client.FetchAgents(ctx, sinceGeneration)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching agents from %q: %w", cfg.PeerID, err)
	}
	servers = applySyncModeFilter(cfg, servers, cfg.WhitelistServers)
	agents = applySyncModeFilter(cfg, agents, cfg.WhitelistAgents)
	return servers, agents, nil
}

// importRecords imports each fetched record into store under the peer's
// namespace prefix (spec §4.1.4). Returns the number successfully imported
// and the set of original_path values seen, for orphan detection.
func (s *Service) importRecords(ctx context.Context, store RecordStore, peerID string, records []Record) (int, map[string]bool) {
	seen := make(map[string]bool, len(records))
	imported := 0
	now := time.Now().UTC()

	for _, r := range records {
		if r.Path == "" {
			s.logger.Warn("skipping record with no path", slog.String("peer_id", peerID))
			continue
		}
		originalPath := NormalizePath(r.Path)
		seen[originalPath] = true
		prefixed := PrefixedPath(peerID, originalPath)

		rec := r.Clone()
		rec.Path = prefixed

		existing, err := store.Get(ctx, prefixed)
		if _, notFound := err.(*RecordNotFoundError); notFound {
			existing, err = nil, nil
		}
		if err != nil {
			s.logger.Warn("failed to look up existing record", slog.String("path", prefixed), slog.String("error", err.Error()))
			continue
		}

		if existing != nil {
			if existing.SyncMeta != nil && existing.SyncMeta.LocalOverrides {
				continue
			}
			overrides := false
			if existing.SyncMeta != nil {
				overrides = existing.SyncMeta.LocalOverrides
			}
			rec.SyncMeta = &SyncMetadata{
				SourcePeerID:   peerID,
				OriginalPath:   originalPath,
				IsFederated:    true,
				SyncedAt:       now,
				LocalOverrides: overrides,
				IsReadOnly:     true,
			}
			if err := store.Update(ctx, prefixed, rec); err != nil {
				s.logger.Warn("failed to update imported record", slog.String("path", prefixed), slog.String("error", err.Error()))
				continue
			}
		} else {
			rec.SyncMeta = &SyncMetadata{
				SourcePeerID: peerID,
				OriginalPath: originalPath,
				IsFederated:  true,
				SyncedAt:     now,
				IsReadOnly:   true,
			}
			if err := store.Create(ctx, rec); err != nil {
				s.logger.Warn("failed to create imported record", slog.String("path", prefixed), slog.String("error", err.Error()))
				continue
			}
		}
		imported++
	}
	return imported, seen
}

// markOrphans flags local records sourced from peerID whose original_path
// was not present in the latest fetch (spec §4.1.5). The default action is
// to mark, not delete.
func (s *Service) markOrphans(ctx context.Context, store RecordStore, peerID string, seen map[string]bool) (int, error) {
	all, err := store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	var errs *multierror.Error
	orphaned := 0
	now := time.Now().UTC()

	for path, rec := range all {
		if rec.SyncMeta == nil || rec.SyncMeta.SourcePeerID != peerID {
			continue
		}
		if seen[rec.SyncMeta.OriginalPath] {
			continue
		}
		if rec.SyncMeta.IsOrphaned {
			continue
		}
		rec.SyncMeta.IsOrphaned = true
		rec.SyncMeta.OrphanedAt = &now
		if err := store.Update(ctx, path, rec); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("marking %q orphaned: %w", path, err))
			continue
		}
		orphaned++
	}
	return orphaned, errs.ErrorOrNil()
}

// SyncAllPeers concurrently syncs every (optionally enabled-only) peer. A
// failure syncing one peer never aborts the others; each peer's outcome
// appears in the returned map (spec §4.1.2).
func (s *Service) SyncAllPeers(ctx context.Context, enabledOnly bool) map[string]*SyncResult {
	var filter *bool
	if enabledOnly {
		t := true
		filter = &t
	}
	peers, err := s.peers.ListPeers(ctx, filter)
	if err != nil {
		s.logger.Error("listing peers for sync_all_peers", slog.String("error", err.Error()))
		return map[string]*SyncResult{}
	}

	results := make(map[string]*SyncResult, len(peers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range peers {
		wg.Add(1)
		go func(peerID string) {
			defer wg.Done()
			res, err := s.SyncPeer(ctx, peerID)
			if err != nil {
				res = &SyncResult{PeerID: peerID, Success: false, ErrorMessage: err.Error()}
			}
			mu.Lock()
			results[peerID] = res
			mu.Unlock()
		}(p.PeerID)
	}
	wg.Wait()
	return results
}
