package federation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
)

// scopeFederationService and scopeFederationRead are the two scopes that
// satisfy the export endpoints' scope check (spec §4.5); either one suffices.
const (
	scopeFederationService = "federation-service"
	scopeFederationRead    = "federation/read"
)

const (
	defaultExportLimit = 100
	maxExportLimit     = 1000
)

// ExportHandler serves the inbound federation export endpoints (spec §4.5).
type ExportHandler struct {
	Service    *Service
	Audit      *AuditLog
	Auth       AuthGateway
	RegistryID string
	Logger     *slog.Logger
}

// registryID computes the fixed registry identifier per spec §4.5.1.
func (h *ExportHandler) registryID() string {
	if h.RegistryID != "" {
		return h.RegistryID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return "registry-" + host
	}
	return "registry-unknown"
}

// authenticate runs the auth gateway and the scope check shared by every
// export endpoint except /health.
func (h *ExportHandler) authenticate(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	principal, err := h.Auth.Authenticate(r)
	if err != nil {
		writeExportError(w, http.StatusUnauthorized, "authentication failed")
		return Principal{}, false
	}
	if !principal.HasScope(scopeFederationService) && !principal.HasScope(scopeFederationRead) {
		writeExportError(w, http.StatusForbidden, "missing federation scope")
		return Principal{}, false
	}
	return principal, true
}

// resolvePeer cross-references the principal's client_id against every
// peer's expected_client_id to derive peer_id/peer_name for audit (spec
// §4.5).
func (h *ExportHandler) resolvePeer(ctx context.Context, principal Principal) (peerID, peerName string) {
	if principal.ClientID == "" {
		return "", ""
	}
	peers, err := h.Service.ListPeers(ctx, nil)
	if err != nil {
		return "", ""
	}
	for _, p := range peers {
		if p.ExpectedClientID != "" && p.ExpectedClientID == principal.ClientID {
			return p.PeerID, p.Name
		}
	}
	return "", ""
}

// paginationParams parses limit/offset/since_generation from the query
// string per spec §4.5.1. Returns ok=false with a 422 already written on
// invalid input.
func paginationParams(w http.ResponseWriter, r *http.Request, withGeneration bool) (limit, offset int, sinceGeneration int64, hasSince bool, ok bool) {
	limit = defaultExportLimit
	offset = 0

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxExportLimit {
			writeExportError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 1000")
			return 0, 0, 0, false, false
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeExportError(w, http.StatusUnprocessableEntity, "offset must be >= 0")
			return 0, 0, 0, false, false
		}
		offset = n
	}
	if withGeneration {
		if v := q.Get("since_generation"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				writeExportError(w, http.StatusUnprocessableEntity, "since_generation must be >= 0")
				return 0, 0, 0, false, false
			}
			sinceGeneration = n
			hasSince = true
		}
	}
	return limit, offset, sinceGeneration, hasSince, true
}

// visibleTo applies chain prevention and visibility filtering (spec §4.5.2
// steps 2-3).
func visibleTo(records map[string]*Record, principal Principal) []*Record {
	groups := make(map[string]bool, len(principal.Groups))
	for _, g := range principal.Groups {
		groups[g] = true
	}

	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		if rec.SyncMeta != nil && rec.SyncMeta.IsFederated {
			continue
		}
		switch rec.Visibility {
		case "", VisibilityPublic:
			out = append(out, rec)
		case VisibilityGroupRestricted:
			if len(rec.AllowedGroups) == 0 {
				continue
			}
			for _, g := range rec.AllowedGroups {
				if groups[g] {
					out = append(out, rec)
					break
				}
			}
		case VisibilityInternal:
			continue
		default:
			out = append(out, rec)
		}
	}
	return out
}

// applyGenerationFilter applies spec §4.5.2 step 4: items without
// sync_metadata are always kept; others require sync_generation > since.
func applyGenerationFilter(records []*Record, hasSince bool, sinceGeneration int64) []*Record {
	if !hasSince {
		return records
	}
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		if rec.SyncMeta == nil {
			out = append(out, rec)
			continue
		}
		if rec.SyncMeta.SyncGeneration > sinceGeneration {
			out = append(out, rec)
		}
	}
	return out
}

// paginate slices records per (offset, limit) and reports has_more.
func paginate(records []*Record, offset, limit int) (page []*Record, hasMore bool) {
	total := len(records)
	if offset >= total {
		return []*Record{}, false
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return records[offset:end], total > offset+limit
}

// currentSyncGeneration computes spec §4.5.1's sync_generation: max(1,
// enabled_server_count + enabled_agent_count), falling back to 1 on error.
func (h *ExportHandler) currentSyncGeneration(ctx context.Context) int64 {
	servers, err := h.Service.servers.ListAll(ctx)
	if err != nil {
		return 1
	}
	agents, err := h.Service.agents.ListAll(ctx)
	if err != nil {
		return 1
	}
	var count int64
	for path := range servers {
		if enabled, err := h.Service.servers.IsEnabled(ctx, path); err == nil && enabled {
			count++
		}
	}
	for path := range agents {
		if enabled, err := h.Service.agents.IsAgentEnabled(ctx, path); err == nil && enabled {
			count++
		}
	}
	if count < 1 {
		return 1
	}
	return count
}

// HandleServers implements GET /api/federation/servers (spec §4.5.2).
func (h *ExportHandler) HandleServers(w http.ResponseWriter, r *http.Request) {
	h.handleExport(w, r, true, h.Service.servers.ListAll, func(ctx context.Context, path string) (bool, error) {
		return h.Service.servers.IsEnabled(ctx, path)
	})
}

// HandleAgents implements GET /api/federation/agents (spec §4.5.3).
func (h *ExportHandler) HandleAgents(w http.ResponseWriter, r *http.Request) {
	h.handleExport(w, r, true, h.Service.agents.ListAll, h.Service.agents.IsAgentEnabled)
}

// handleExport is the shared pipeline behind HandleServers/HandleAgents.
func (h *ExportHandler) handleExport(
	w http.ResponseWriter,
	r *http.Request,
	withGeneration bool,
	listAll func(context.Context) (map[string]*Record, error),
	isEnabled func(context.Context, string) (bool, error),
) {
	ctx := r.Context()
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	limit, offset, sinceGeneration, hasSince, ok := paginationParams(w, r, withGeneration)
	if !ok {
		return
	}

	all, err := listAll(ctx)
	if err != nil {
		writeExportError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	enabled := make(map[string]*Record, len(all))
	for path, rec := range all {
		if ok, err := isEnabled(ctx, path); err == nil && ok {
			enabled[path] = rec
		}
	}

	filtered := visibleTo(enabled, principal)
	filtered = applyGenerationFilter(filtered, hasSince, sinceGeneration)

	totalCount := len(filtered)
	page, hasMore := paginate(filtered, offset, limit)

	items := make([]Record, len(page))
	for i, rec := range page {
		items[i] = *rec
	}

	export := FederationExport{
		Items:          items,
		SyncGeneration: h.currentSyncGeneration(ctx),
		TotalCount:     totalCount,
		HasMore:        hasMore,
		RegistryID:     h.registryID(),
	}

	peerID, peerName := h.resolvePeer(ctx, principal)
	h.Audit.LogConnection(newConnectionLogEntry(
		peerID, peerName, principal.ClientID, r.URL.Path,
		len(items), true, "", middleware.GetReqID(ctx),
	))

	writeJSON(w, http.StatusOK, export)
}

// HandleSecurityScans implements GET /api/federation/security-scans (spec
// §4.5.4). Scans are an out-of-scope external collaborator; this endpoint
// is wired against ScanStore so a concrete implementation can be plugged
// in without touching this handler.
func (h *ExportHandler) HandleSecurityScans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	limit, offset, _, _, ok := paginationParams(w, r, false)
	if !ok {
		return
	}

	all, err := h.Service.servers.ListAll(ctx)
	if err != nil {
		writeExportError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	enabled := make(map[string]*Record, len(all))
	for path, rec := range all {
		if ok, err := h.Service.servers.IsEnabled(ctx, path); err == nil && ok {
			enabled[path] = rec
		}
	}
	visibleServers := visibleTo(enabled, principal)
	visiblePaths := make(map[string]bool, len(visibleServers))
	for _, rec := range visibleServers {
		visiblePaths[rec.Path] = true
	}

	var scans []Record
	if h.Service.scans != nil {
		all, err := h.Service.scans.ListScans(ctx)
		if err != nil {
			writeExportError(w, http.StatusInternalServerError, "failed to list scans")
			return
		}
		for _, scan := range all {
			if visiblePaths[scan.Path] {
				scans = append(scans, scan)
			}
		}
	}

	recs := make([]*Record, len(scans))
	for i := range scans {
		recs[i] = &scans[i]
	}
	totalCount := len(recs)
	page, hasMore := paginate(recs, offset, limit)
	items := make([]Record, len(page))
	for i, rec := range page {
		items[i] = *rec
	}

	export := FederationExport{
		Items:          items,
		SyncGeneration: h.currentSyncGeneration(ctx),
		TotalCount:     totalCount,
		HasMore:        hasMore,
		RegistryID:     h.registryID(),
	}

	peerID, peerName := h.resolvePeer(ctx, principal)
	h.Audit.LogConnection(newConnectionLogEntry(
		peerID, peerName, principal.ClientID, r.URL.Path,
		len(items), true, "", middleware.GetReqID(ctx),
	))

	writeJSON(w, http.StatusOK, export)
}

// HandleHealth implements GET /api/federation/health (spec §4.5.5). No
// authentication required.
func (h *ExportHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":                 "healthy",
		"federation_api_version": "1.0",
		"registry_id":            h.registryID(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeExportError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
