package federation

import (
	"strings"
	"sync"
	"time"
)

// defaultMaxConnectionLogs is the ring-buffer cap on AuditLog.connectionLogs
// used when NewAuditLog is given a non-positive maxEntries (spec §4.4,
// SPEC_FULL.md §2.1 [audit] max_entries).
const defaultMaxConnectionLogs = 1000

// AuditLog is the process-wide federation audit log: a ring-buffered list
// of inbound export-endpoint invocations plus a rolled-up per-peer summary,
// both protected by one lock (spec §4.4).
type AuditLog struct {
	mu sync.Mutex

	maxEntries     int
	connectionLogs []ConnectionLogEntry
	peerSummaries  map[string]*PeerSyncSummary
}

// NewAuditLog builds an empty AuditLog whose connection log ring buffer
// holds at most maxEntries entries. maxEntries <= 0 falls back to
// defaultMaxConnectionLogs.
func NewAuditLog(maxEntries int) *AuditLog {
	if maxEntries <= 0 {
		maxEntries = defaultMaxConnectionLogs
	}
	return &AuditLog{
		maxEntries:    maxEntries,
		peerSummaries: make(map[string]*PeerSyncSummary),
	}
}

// LogConnection appends entry and updates the peer's summary (spec §4.4).
func (a *AuditLog) LogConnection(entry ConnectionLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connectionLogs = append([]ConnectionLogEntry{entry}, a.connectionLogs...)
	if len(a.connectionLogs) > a.maxEntries {
		a.connectionLogs = a.connectionLogs[:a.maxEntries]
	}

	summary, ok := a.peerSummaries[entry.PeerID]
	if !ok {
		summary = &PeerSyncSummary{PeerID: entry.PeerID}
		a.peerSummaries[entry.PeerID] = summary
	}
	summary.TotalConnections++
	ts := entry.Timestamp
	summary.LastConnection = &ts
	if summary.PeerName == "" {
		summary.PeerName = entry.PeerName
	}

	if entry.Success {
		summary.SuccessfulRequests++
		if strings.Contains(entry.Endpoint, "/servers") && entry.ItemsRequested > summary.ServersShared {
			summary.ServersShared = entry.ItemsRequested
		}
		if strings.Contains(entry.Endpoint, "/agents") && entry.ItemsRequested > summary.AgentsShared {
			summary.AgentsShared = entry.ItemsRequested
		}
	} else {
		summary.FailedRequests++
	}
}

// RecentConnections returns up to limit of the most recent connection log
// entries, newest-first, optionally restricted to one peer. A copy, never
// the internal slice. peerID == "" means unfiltered; limit <= 0 returns all
// matching entries (SPEC_FULL.md §4 supplement #4, get_connection_logs).
func (a *AuditLog) RecentConnections(peerID string, limit int) []ConnectionLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var matched []ConnectionLogEntry
	for _, entry := range a.connectionLogs {
		if peerID != "" && entry.PeerID != peerID {
			continue
		}
		matched = append(matched, entry)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched
}

// PeerSummary returns a copy of the summary for peerID, or nil if unknown.
func (a *AuditLog) PeerSummary(peerID string) *PeerSyncSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.peerSummaries[peerID]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

// AllPeerSummaries returns copies of every known peer summary.
func (a *AuditLog) AllPeerSummaries() map[string]*PeerSyncSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]*PeerSyncSummary, len(a.peerSummaries))
	for id, s := range a.peerSummaries {
		c := *s
		out[id] = &c
	}
	return out
}

// ClearLogs resets the audit log. For tests only.
func (a *AuditLog) ClearLogs() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectionLogs = nil
	a.peerSummaries = make(map[string]*PeerSyncSummary)
}

// newConnectionLogEntry is a small constructor helper used by the export
// handlers to stamp Timestamp consistently.
func newConnectionLogEntry(peerID, peerName, clientID, endpoint string, itemsRequested int, success bool, errMsg, requestID string) ConnectionLogEntry {
	return ConnectionLogEntry{
		Timestamp:      time.Now().UTC(),
		PeerID:         peerID,
		PeerName:       peerName,
		ClientID:       clientID,
		Endpoint:       endpoint,
		ItemsRequested: itemsRequested,
		Success:        success,
		ErrorMessage:   errMsg,
		RequestID:      requestID,
	}
}
