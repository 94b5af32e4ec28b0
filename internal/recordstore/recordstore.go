// Package recordstore provides an in-memory reference implementation of the
// federation package's RecordStore-family interfaces (ServerStore,
// AgentStore, ScanStore). It exists to let the registry run and be tested
// without a database wired up; a production deployment backs these
// interfaces with the registry's own server/agent catalog instead.
package recordstore

import (
	"context"
	"sync"

	"github.com/amityvox/registry-federation/internal/federation"
)

// Store is a concurrency-safe, in-memory RecordStore keyed by record path.
type Store struct {
	mu      sync.RWMutex
	records map[string]*federation.Record
	enabled map[string]bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		records: map[string]*federation.Record{},
		enabled: map[string]bool{},
	}
}

// ListAll returns every record, keyed by path.
func (s *Store) ListAll(ctx context.Context) (map[string]*federation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*federation.Record, len(s.records))
	for k, v := range s.records {
		out[k] = v.Clone()
	}
	return out, nil
}

// Get returns one record by path.
func (s *Store) Get(ctx context.Context, path string) (*federation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[path]
	if !ok {
		return nil, &federation.RecordNotFoundError{Path: path}
	}
	return rec.Clone(), nil
}

// IsEnabled reports whether the record at path is currently enabled.
func (s *Store) IsEnabled(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.records[path]; !ok {
		return false, &federation.RecordNotFoundError{Path: path}
	}
	return s.enabled[path], nil
}

// Create inserts a new record. Creating over an existing path overwrites it;
// callers that need existence-checking semantics should Get first.
func (s *Store) Create(ctx context.Context, rec *federation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.Path] = rec.Clone()
	s.enabled[rec.Path] = true
	return nil
}

// Update replaces the record at path.
func (s *Store) Update(ctx context.Context, path string, rec *federation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[path]; !ok {
		return &federation.RecordNotFoundError{Path: path}
	}
	s.records[path] = rec.Clone()
	return nil
}

// Delete removes the record at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[path]; !ok {
		return &federation.RecordNotFoundError{Path: path}
	}
	delete(s.records, path)
	delete(s.enabled, path)
	return nil
}

// SetState flips the enabled bit for the record at path.
func (s *Store) SetState(ctx context.Context, path string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[path]; !ok {
		return &federation.RecordNotFoundError{Path: path}
	}
	s.enabled[path] = enabled
	return nil
}

// AgentStore wraps Store with the agent-flavored enabled check
// federation.AgentStore requires. It shares Store's records map rather than
// keeping a second copy, since in this reference deployment servers and
// agents are distinguished only by which Store a handler was given.
type AgentStore struct {
	*Store
}

// NewAgentStore creates an empty AgentStore.
func NewAgentStore() *AgentStore {
	return &AgentStore{Store: New()}
}

// IsAgentEnabled is an alias for IsEnabled; agents have no separate
// enablement flag in this reference implementation.
func (s *AgentStore) IsAgentEnabled(ctx context.Context, path string) (bool, error) {
	return s.IsEnabled(ctx, path)
}

// ScanStore is an in-memory federation.ScanStore keyed by the server path a
// scan was run against.
type ScanStore struct {
	mu    sync.RWMutex
	scans map[string]federation.Record
}

// NewScanStore creates an empty ScanStore.
func NewScanStore() *ScanStore {
	return &ScanStore{scans: map[string]federation.Record{}}
}

// PutScan stores or replaces the scan record for a server path.
func (s *ScanStore) PutScan(path string, rec federation.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[path] = rec
}

// ListScans returns every stored scan record.
func (s *ScanStore) ListScans(ctx context.Context) ([]federation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]federation.Record, 0, len(s.scans))
	for _, rec := range s.scans {
		out = append(out, rec)
	}
	return out, nil
}
