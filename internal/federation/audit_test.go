package federation

import "testing"

func TestAuditLog_RecentConnections_FiltersByPeer(t *testing.T) {
	audit := NewAuditLog(0)
	audit.LogConnection(newConnectionLogEntry("alpha", "Alpha", "client-1", "/api/federation/servers", 3, true, "", "req-1"))
	audit.LogConnection(newConnectionLogEntry("beta", "Beta", "client-2", "/api/federation/servers", 2, true, "", "req-2"))
	audit.LogConnection(newConnectionLogEntry("alpha", "Alpha", "client-1", "/api/federation/agents", 1, true, "", "req-3"))

	all := audit.RecentConnections("", 0)
	if len(all) != 3 {
		t.Fatalf("unfiltered RecentConnections = %d entries, want 3", len(all))
	}

	alphaOnly := audit.RecentConnections("alpha", 0)
	if len(alphaOnly) != 2 {
		t.Fatalf("peer-filtered RecentConnections = %d entries, want 2", len(alphaOnly))
	}
	for _, e := range alphaOnly {
		if e.PeerID != "alpha" {
			t.Errorf("got entry for peer %q, want only alpha", e.PeerID)
		}
	}

	// newest-first: req-3 then req-1.
	if alphaOnly[0].RequestID != "req-3" || alphaOnly[1].RequestID != "req-1" {
		t.Errorf("expected newest-first order, got %v", alphaOnly)
	}
}

func TestAuditLog_RecentConnections_RespectsLimit(t *testing.T) {
	audit := NewAuditLog(0)
	for i := 0; i < 5; i++ {
		audit.LogConnection(newConnectionLogEntry("alpha", "Alpha", "client-1", "/api/federation/servers", 1, true, "", "req"))
	}
	if got := audit.RecentConnections("", 2); len(got) != 2 {
		t.Errorf("RecentConnections with limit 2 returned %d entries", len(got))
	}
	if got := audit.RecentConnections("alpha", 2); len(got) != 2 {
		t.Errorf("peer-filtered RecentConnections with limit 2 returned %d entries", len(got))
	}
}

func TestAuditLog_NewAuditLog_CapsRingBuffer(t *testing.T) {
	audit := NewAuditLog(2)
	audit.LogConnection(newConnectionLogEntry("alpha", "Alpha", "c", "/x", 1, true, "", "req-1"))
	audit.LogConnection(newConnectionLogEntry("alpha", "Alpha", "c", "/x", 1, true, "", "req-2"))
	audit.LogConnection(newConnectionLogEntry("alpha", "Alpha", "c", "/x", 1, true, "", "req-3"))

	all := audit.RecentConnections("", 0)
	if len(all) != 2 {
		t.Fatalf("ring buffer with maxEntries=2 holds %d entries, want 2", len(all))
	}
	if all[0].RequestID != "req-3" || all[1].RequestID != "req-2" {
		t.Errorf("expected the two newest entries to survive, got %v", all)
	}
}

func TestAuditLog_NewAuditLog_DefaultsNonPositiveMaxEntries(t *testing.T) {
	audit := NewAuditLog(-1)
	if audit.maxEntries != defaultMaxConnectionLogs {
		t.Errorf("maxEntries = %d, want default %d", audit.maxEntries, defaultMaxConnectionLogs)
	}
}

func TestAuditLog_PeerSummary(t *testing.T) {
	audit := NewAuditLog(0)
	audit.LogConnection(newConnectionLogEntry("alpha", "Alpha", "c", "/api/federation/servers", 5, true, "", "req-1"))
	audit.LogConnection(newConnectionLogEntry("alpha", "Alpha", "c", "/api/federation/servers", 0, false, "timeout", "req-2"))

	summary := audit.PeerSummary("alpha")
	if summary == nil {
		t.Fatal("expected a summary for alpha")
	}
	if summary.TotalConnections != 2 || summary.SuccessfulRequests != 1 || summary.FailedRequests != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	if audit.PeerSummary("unknown") != nil {
		t.Error("expected nil summary for unknown peer")
	}
}
