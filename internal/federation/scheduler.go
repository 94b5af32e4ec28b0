package federation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultCheckInterval is the scheduler's default tick period (spec §4.3).
const defaultCheckInterval = 30 * time.Second

// Scheduler is the process-wide peer sync scheduler: a cooperative loop
// that periodically checks every enabled peer's sync status and spawns a
// guarded sync task for any peer that is due (spec §4.3).
type Scheduler struct {
	svc    *Service
	logger *slog.Logger

	checkInterval time.Duration

	mu      sync.Mutex
	running bool
	syncing map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a Scheduler over svc. checkInterval falls back to the
// spec default when zero.
func NewScheduler(svc *Service, checkInterval time.Duration, logger *slog.Logger) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		svc:           svc,
		logger:        logger,
		checkInterval: checkInterval,
		syncing:       make(map[string]bool),
	}
}

// shouldSync implements spec §4.3.2.
func shouldSync(peer *PeerConfig, lastSuccessfulSync *time.Time, now time.Time) bool {
	if !peer.Enabled {
		return false
	}
	if lastSuccessfulSync == nil {
		return true
	}
	elapsed := now.Sub(*lastSuccessfulSync)
	if elapsed < 0 {
		elapsed = 0
	}
	threshold := time.Duration(peer.SyncIntervalMinutes) * time.Minute
	return elapsed >= threshold
}

// Start spawns the loop goroutine. Idempotent: calling Start on an already
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
}

// Stop requests the loop to exit, then waits up to 30s (polling every
// 500ms) for the currently-syncing set to drain (spec §4.3.4). Returns
// regardless of whether the set fully drained; stragglers are logged.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.syncing)
		s.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}

	s.mu.Lock()
	remaining := make([]string, 0, len(s.syncing))
	for id := range s.syncing {
		remaining = append(remaining, id)
	}
	s.mu.Unlock()
	if len(remaining) > 0 {
		s.logger.Warn("scheduler stop deadline reached with peers still syncing",
			slog.Any("peer_ids", remaining))
	}
}

// loop is the main scheduler tick (spec §4.3.1).
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.checkInterval):
		}
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}
	}
}

// tick lists enabled peers and spawns a guarded sync for each one due.
// Errors are logged and never propagate (spec §4.3.1).
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panicked", slog.Any("recover", r))
		}
	}()

	enabled := true
	peers, err := s.svc.ListPeers(ctx, &enabled)
	if err != nil {
		s.logger.Error("scheduler: failed to list peers", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, peer := range peers {
		status, err := s.svc.GetSyncStatus(ctx, peer.PeerID)
		if err != nil {
			s.logger.Error("scheduler: failed to read sync status", slog.String("peer_id", peer.PeerID), slog.String("error", err.Error()))
			continue
		}
		var last *time.Time
		if status != nil {
			last = status.LastSuccessfulSync
		}
		if shouldSync(peer, last, now) {
			go s.syncPeerSafe(ctx, peer.PeerID)
		}
	}
}

// syncPeerSafe is the duplicate-suppressed guarded sync task (spec §4.3.3).
func (s *Scheduler) syncPeerSafe(ctx context.Context, peerID string) {
	s.mu.Lock()
	if s.syncing[peerID] {
		s.mu.Unlock()
		return
	}
	s.syncing[peerID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.syncing, peerID)
		s.mu.Unlock()
		if r := recover(); r != nil {
			s.logger.Error("sync task panicked", slog.String("peer_id", peerID), slog.Any("recover", r))
		}
	}()

	peer, err := s.svc.GetPeer(ctx, peerID)
	if err != nil || peer == nil || !peer.Enabled {
		return
	}

	if _, err := s.svc.SyncPeer(ctx, peerID); err != nil {
		s.logger.Error("sync_peer failed", slog.String("peer_id", peerID), slog.String("error", err.Error()))
	}
}

// TriggerSyncAll runs sync_peer_safe for every enabled peer concurrently and
// returns peer_id -> success, determined by the post-sync status being
// healthy (spec §4.3.4).
func (s *Scheduler) TriggerSyncAll(ctx context.Context) map[string]bool {
	enabled := true
	peers, err := s.svc.ListPeers(ctx, &enabled)
	if err != nil {
		s.logger.Error("trigger_sync_all: failed to list peers", slog.String("error", err.Error()))
		return map[string]bool{}
	}

	results := make(map[string]bool, len(peers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, peer := range peers {
		wg.Add(1)
		go func(peerID string) {
			defer wg.Done()
			s.syncPeerSafe(ctx, peerID)
			status, err := s.svc.GetSyncStatus(ctx, peerID)
			healthy := err == nil && status != nil && status.IsHealthy
			mu.Lock()
			results[peerID] = healthy
			mu.Unlock()
		}(peer.PeerID)
	}
	wg.Wait()
	return results
}
