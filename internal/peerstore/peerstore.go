// Package peerstore provides a filesystem-backed implementation of
// federation.PeerStore: one JSON file per peer under peers_dir, and a
// single peer_sync_state.json holding every peer's PeerSyncStatus keyed by
// peer_id (spec §6.4). Writes are atomic from the caller's perspective
// (tempfile + os.Rename); reads tolerate a truncated or partially-written
// state file by logging and returning whatever parsed.
package peerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/amityvox/registry-federation/internal/federation"
)

const peerFileSuffix = ".json"

// Store is a filesystem-backed federation.PeerStore. All methods are safe
// for concurrent use; a single mutex serializes access to the sync-state
// file since it's one shared JSON object rather than one file per peer.
type Store struct {
	peersDir      string
	syncStatePath string
	logger        *slog.Logger

	mu sync.Mutex
}

// New creates a Store rooted at peersDir (one PeerConfig file per peer) with
// sync state persisted at syncStatePath (one JSON object for all peers).
// peersDir and the parent directory of syncStatePath are created if missing;
// the state file itself is written on the first SaveSyncState.
func New(peersDir, syncStatePath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(peersDir, 0700); err != nil {
		return nil, fmt.Errorf("creating peers directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(syncStatePath), 0700); err != nil {
		return nil, fmt.Errorf("creating sync state directory: %w", err)
	}
	return &Store{peersDir: peersDir, syncStatePath: syncStatePath, logger: logger}, nil
}

// GetPeer loads a single peer's config by id.
func (s *Store) GetPeer(ctx context.Context, id string) (*federation.PeerConfig, error) {
	path, err := federation.SafeStorageKey(s.peersDir, id, peerFileSuffix)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &federation.NotFoundError{PeerID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("reading peer %q: %w", id, err)
	}
	var cfg federation.PeerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing peer %q: %w", id, err)
	}
	return &cfg, nil
}

// ListPeers returns every peer config, optionally filtered by Enabled.
func (s *Store) ListPeers(ctx context.Context, enabledOnly *bool) ([]*federation.PeerConfig, error) {
	entries, err := os.ReadDir(s.peersDir)
	if err != nil {
		return nil, fmt.Errorf("listing peers directory: %w", err)
	}

	peers := make([]*federation.PeerConfig, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != peerFileSuffix {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.peersDir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable peer file", slog.String("file", entry.Name()), slog.String("error", err.Error()))
			continue
		}
		var cfg federation.PeerConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			s.logger.Warn("skipping malformed peer file", slog.String("file", entry.Name()), slog.String("error", err.Error()))
			continue
		}
		if enabledOnly != nil && cfg.Enabled != *enabledOnly {
			continue
		}
		peers = append(peers, &cfg)
	}
	return peers, nil
}

// SavePeer writes cfg to peers_dir/{peer_id}.json, atomically.
func (s *Store) SavePeer(ctx context.Context, cfg *federation.PeerConfig) error {
	path, err := federation.SafeStorageKey(s.peersDir, cfg.PeerID, peerFileSuffix)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding peer %q: %w", cfg.PeerID, err)
	}
	return atomicWriteFile(path, data)
}

// DeletePeer removes a peer's config file. Deleting an already-absent peer
// is not an error.
func (s *Store) DeletePeer(ctx context.Context, id string) error {
	path, err := federation.SafeStorageKey(s.peersDir, id, peerFileSuffix)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting peer %q: %w", id, err)
	}
	return nil
}

// GetSyncState returns one peer's sync status from the shared state file.
func (s *Store) GetSyncState(ctx context.Context, id string) (*federation.PeerSyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readSyncStateLocked()
	if err != nil {
		return nil, err
	}
	status, ok := all[id]
	if !ok {
		return nil, &federation.NotFoundError{PeerID: id}
	}
	return status, nil
}

// SaveSyncState upserts one peer's entry in the shared state file.
func (s *Store) SaveSyncState(ctx context.Context, id string, status *federation.PeerSyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readSyncStateLocked()
	if err != nil {
		return err
	}
	all[id] = status
	return s.writeSyncStateLocked(all)
}

// DeleteSyncState removes one peer's entry from the shared state file.
func (s *Store) DeleteSyncState(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readSyncStateLocked()
	if err != nil {
		return err
	}
	if _, ok := all[id]; !ok {
		return nil
	}
	delete(all, id)
	return s.writeSyncStateLocked(all)
}

// ListAllSyncStates returns the full peer_id -> PeerSyncStatus map.
func (s *Store) ListAllSyncStates(ctx context.Context) (map[string]*federation.PeerSyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readSyncStateLocked()
}

// readSyncStateLocked loads the shared sync-state file. A missing file reads
// as an empty map. A truncated or malformed file does not fail the caller:
// it is logged and recoverPartialSyncState returns whatever entries parse
// before the damage, per spec §6.4.
func (s *Store) readSyncStateLocked() (map[string]*federation.PeerSyncStatus, error) {
	data, err := os.ReadFile(s.syncStatePath)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*federation.PeerSyncStatus{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sync state: %w", err)
	}
	if len(data) == 0 {
		return map[string]*federation.PeerSyncStatus{}, nil
	}

	all := map[string]*federation.PeerSyncStatus{}
	if err := json.Unmarshal(data, &all); err != nil {
		s.logger.Warn("sync state file is truncated or malformed, continuing with partial data",
			slog.String("path", s.syncStatePath), slog.String("error", err.Error()))
		all = recoverPartialSyncState(data, s.logger)
	}
	return all, nil
}

func (s *Store) writeSyncStateLocked(all map[string]*federation.PeerSyncStatus) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sync state: %w", err)
	}
	return atomicWriteFile(s.syncStatePath, data)
}

// recoverPartialSyncState salvages leading entries out of a sync state blob
// that failed to parse as a whole. A plain json.Unmarshal is all-or-nothing,
// so instead this walks the object token by token and decodes each value
// independently, keeping every entry that parsed before the first bad one.
// Entries after a decode failure are lost along with it: once the stream
// desyncs there's no reliable way to find the next key boundary.
func recoverPartialSyncState(data []byte, logger *slog.Logger) map[string]*federation.PeerSyncStatus {
	recovered := map[string]*federation.PeerSyncStatus{}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		logger.Warn("sync state file unrecoverable, starting from empty state", slog.String("error", err.Error()))
		return recovered
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		logger.Warn("sync state file does not start with an object, starting from empty state")
		return recovered
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			break
		}
		key, ok := keyTok.(string)
		if !ok {
			break
		}
		var status federation.PeerSyncStatus
		if err := dec.Decode(&status); err != nil {
			logger.Warn("dropping unrecoverable sync state entry", slog.String("peer_id", key), slog.String("error", err.Error()))
			break
		}
		recovered[key] = &status
	}
	return recovered
}

// atomicWriteFile writes data to path via a temp file in the same directory
// followed by os.Rename, so concurrent readers never observe a partially
// written file.
func atomicWriteFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalizing write to %q: %w", path, err)
	}
	return nil
}
