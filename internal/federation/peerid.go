package federation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// structValidator is a single shared validator instance; go-playground's
// validator caches struct tag parsing per type internally, so reuse across
// calls avoids re-parsing PeerConfig's tags on every validation.
var structValidator = validator.New()

// maxPeerIDLength is the longest accepted peer_id (spec §3.2).
const maxPeerIDLength = 255

// forbiddenPeerIDChars are characters that would make peer_id unsafe as a
// filesystem leaf or would enable path traversal when used to derive a
// storage key.
const forbiddenPeerIDChars = `/\<>:"|?*` + "\x00"

var reservedPeerIDNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
}

// ValidatePeerID rejects empty, whitespace-only, path-traversal-prone, or
// filesystem-reserved peer identifiers (spec §3.2). Every call site that
// turns a peer_id into a storage key must run it through here first.
func ValidatePeerID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &InvalidInputError{Field: "peer_id", Reason: "must not be empty or whitespace"}
	}
	if len(id) > maxPeerIDLength {
		return &InvalidInputError{Field: "peer_id", Reason: fmt.Sprintf("must not exceed %d characters", maxPeerIDLength)}
	}
	if strings.Contains(id, "..") {
		return &InvalidInputError{Field: "peer_id", Reason: "must not contain '..'"}
	}
	if strings.ContainsAny(id, forbiddenPeerIDChars) {
		return &InvalidInputError{Field: "peer_id", Reason: "contains a reserved or unsafe character"}
	}
	if reservedPeerIDNames[strings.ToLower(id)] {
		return &InvalidInputError{Field: "peer_id", Reason: "is a filesystem-reserved name"}
	}
	return nil
}

// SafeStorageKey joins peer_id onto baseDir after validating it, and
// additionally verifies the resulting path is still contained within
// baseDir (belt-and-suspenders against traversal via crafted IDs per
// spec invariant 7 / testable property 7).
func SafeStorageKey(baseDir, id, suffix string) (string, error) {
	if err := ValidatePeerID(id); err != nil {
		return "", err
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolving base dir: %w", err)
	}
	candidate := filepath.Join(base, id+suffix)
	if !strings.HasPrefix(candidate, base+string(filepath.Separator)) && candidate != base {
		return "", &InvalidInputError{Field: "peer_id", Reason: "resolves outside the peers directory"}
	}
	return candidate, nil
}

// ValidatePeerConfig checks the structural invariants of a PeerConfig beyond
// peer_id safety: endpoint scheme, sync interval bounds, and sync mode.
func ValidatePeerConfig(cfg *PeerConfig) error {
	if err := ValidatePeerID(cfg.PeerID); err != nil {
		return err
	}
	if err := structValidator.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return &InvalidInputError{Field: fe.Field(), Reason: fmt.Sprintf("failed %q validation", fe.Tag())}
		}
		return &InvalidInputError{Field: "peer_config", Reason: err.Error()}
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &InvalidInputError{Field: "endpoint", Reason: "must be an absolute http(s) URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &InvalidInputError{Field: "endpoint", Reason: "must use http or https"}
	}
	if cfg.SyncIntervalMinutes < 5 || cfg.SyncIntervalMinutes > 1440 {
		return &InvalidInputError{Field: "sync_interval_minutes", Reason: "must be between 5 and 1440"}
	}
	switch cfg.SyncMode {
	case SyncModeAll, SyncModeWhitelist, SyncModeTagFilter:
	case "":
		cfg.SyncMode = SyncModeAll
	default:
		// Unknown modes default to "all" defensively (spec §4.1.3); reject
		// only truly malformed input, not forward-compatible unknown modes.
	}
	return nil
}

// NormalizeEndpoint strips a trailing slash from a peer endpoint, as spec
// §3.1 requires.
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
}

// NormalizePath ensures a record path begins with a leading slash.
func NormalizePath(p string) string {
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// PrefixedPath computes the local storage path for a record imported from
// peerID at the given original path (spec §3.3).
func PrefixedPath(peerID, originalPath string) string {
	return "/" + peerID + NormalizePath(originalPath)
}
