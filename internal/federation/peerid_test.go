package federation

import "testing"

func TestValidatePeerID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"peer-alpha", false},
		{"peer.prod", false},
		{"registry-v1.2", false},
		{"", true},
		{"   ", true},
		{"../etc", true},
		{"has/slash", true},
		{"con", true},
		{"CON", true},
	}
	for _, tc := range tests {
		err := ValidatePeerID(tc.id)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidatePeerID(%q) error = %v, wantErr %v", tc.id, err, tc.wantErr)
		}
	}
}

func TestSafeStorageKey_RejectsTraversal(t *testing.T) {
	if _, err := SafeStorageKey("/var/peers", "../../etc/passwd", ".json"); err == nil {
		t.Fatal("expected error for path-traversal peer_id")
	}
}

func TestSafeStorageKey_StaysWithinBase(t *testing.T) {
	path, err := SafeStorageKey("/var/peers", "alpha", ".json")
	if err != nil {
		t.Fatalf("SafeStorageKey: %v", err)
	}
	if path != "/var/peers/alpha.json" {
		t.Errorf("got %q, want /var/peers/alpha.json", path)
	}
}

func TestValidatePeerConfig(t *testing.T) {
	cfg := &PeerConfig{
		PeerID:              "alpha",
		Name:                "Alpha Registry",
		Endpoint:            "https://alpha.example.com",
		SyncIntervalMinutes: 15,
	}
	if err := ValidatePeerConfig(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if cfg.SyncMode != SyncModeAll {
		t.Errorf("expected empty sync_mode to default to all, got %q", cfg.SyncMode)
	}
}

func TestValidatePeerConfig_BadEndpoint(t *testing.T) {
	cfg := &PeerConfig{
		PeerID:              "alpha",
		Name:                "Alpha Registry",
		Endpoint:            "not-a-url",
		SyncIntervalMinutes: 15,
	}
	if err := ValidatePeerConfig(cfg); err == nil {
		t.Fatal("expected error for malformed endpoint")
	}
}

func TestValidatePeerConfig_IntervalOutOfRange(t *testing.T) {
	cfg := &PeerConfig{
		PeerID:              "alpha",
		Name:                "Alpha Registry",
		Endpoint:            "https://alpha.example.com",
		SyncIntervalMinutes: 1,
	}
	if err := ValidatePeerConfig(cfg); err == nil {
		t.Fatal("expected error for sync_interval_minutes below minimum")
	}
}

func TestValidatePeerConfig_MissingName(t *testing.T) {
	cfg := &PeerConfig{
		PeerID:              "alpha",
		Endpoint:            "https://alpha.example.com",
		SyncIntervalMinutes: 15,
	}
	if err := ValidatePeerConfig(cfg); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestPrefixedPath(t *testing.T) {
	got := PrefixedPath("alpha", "servers/foo")
	want := "/alpha/servers/foo"
	if got != want {
		t.Errorf("PrefixedPath = %q, want %q", got, want)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	if got := NormalizeEndpoint("https://example.com/ "); got != "https://example.com" {
		t.Errorf("NormalizeEndpoint = %q", got)
	}
}
