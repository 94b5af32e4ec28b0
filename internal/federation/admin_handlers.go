package federation

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// topologyRadius and topologyCenterX/Y are the fixed circular-layout
// parameters for the peer topology view (spec §6.3).
const (
	topologyRadius  = 200.0
	topologyCenterX = 400.0
	topologyCenterY = 300.0
)

// AdminHandler serves the peer-management admin API (spec §6.3). All
// routes require admin authentication; the admin auth gateway is the same
// seam as the export handlers' but callers are expected to mount this
// behind their own admin-only middleware rather than AuthGateway's scope
// check, since admin auth is a distinct concern from inbound federation
// auth.
type AdminHandler struct {
	Service   *Service
	Scheduler *Scheduler
	Logger    *slog.Logger
}

// topologyNode and topologyEdge mirror the shape the peer topology view
// returns (spec §6.3).
type topologyNode struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Kind     string  `json:"kind"` // "local" or "peer"
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Enabled  bool    `json:"enabled,omitempty"`
	Healthy  bool    `json:"healthy,omitempty"`
}

type topologyEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Animated bool   `json:"animated"`
}

type topologyResponse struct {
	Nodes []topologyNode `json:"nodes"`
	Edges []topologyEdge `json:"edges"`
}

// HandleListPeers implements GET /api/v1/peers.
func (h *AdminHandler) HandleListPeers(w http.ResponseWriter, r *http.Request) {
	var enabledOnly *bool
	if v := r.URL.Query().Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			enabledOnly = &b
		}
	}
	peers, err := h.Service.ListPeers(r.Context(), enabledOnly)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

// HandleTopology implements GET /api/v1/peers/topology (spec §6.3): one
// local node, N peer nodes arranged in a circle, edges animated for
// enabled-and-healthy peers.
func (h *AdminHandler) HandleTopology(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peers, err := h.Service.ListPeers(ctx, nil)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := topologyResponse{
		Nodes: []topologyNode{{ID: "local", Label: "local", Kind: "local", X: topologyCenterX, Y: topologyCenterY}},
		Edges: make([]topologyEdge, 0, len(peers)),
	}

	n := len(peers)
	for i, p := range peers {
		angle := 2 * math.Pi * float64(i) / float64(n)
		x := topologyCenterX + topologyRadius*math.Cos(angle)
		y := topologyCenterY + topologyRadius*math.Sin(angle)

		healthy := false
		if status, err := h.Service.GetSyncStatus(ctx, p.PeerID); err == nil && status != nil {
			healthy = status.IsHealthy
		}

		resp.Nodes = append(resp.Nodes, topologyNode{
			ID: p.PeerID, Label: p.Name, Kind: "peer",
			X: x, Y: y, Enabled: p.Enabled, Healthy: healthy,
		})
		resp.Edges = append(resp.Edges, topologyEdge{
			Source: "local", Target: p.PeerID, Animated: p.Enabled && healthy,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleGetPeer implements GET /api/v1/peers/{id}.
func (h *AdminHandler) HandleGetPeer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, err := h.Service.GetPeer(r.Context(), id)
	if err != nil {
		writeAdminErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandleCreatePeer implements POST /api/v1/peers.
func (h *AdminHandler) HandleCreatePeer(w http.ResponseWriter, r *http.Request) {
	var cfg PeerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := h.Service.AddPeer(r.Context(), &cfg)
	if err != nil {
		writeAdminErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// peerUpdateRequest is the wire shape for PUT /api/v1/peers/{id}; every
// field is optional so callers can send a sparse patch.
type peerUpdateRequest struct {
	Name                *string   `json:"name"`
	Endpoint            *string   `json:"endpoint"`
	Enabled             *bool     `json:"enabled"`
	SyncMode            *SyncMode `json:"sync_mode"`
	WhitelistServers    []string  `json:"whitelist_servers"`
	WhitelistAgents     []string  `json:"whitelist_agents"`
	TagFilters          []string  `json:"tag_filters"`
	SyncIntervalMinutes *int      `json:"sync_interval_minutes"`
	FederationToken     *string   `json:"federation_token"`
	ExpectedClientID    *string   `json:"expected_client_id"`
	ExpectedIssuer      *string   `json:"expected_issuer"`
}

// HandleUpdatePeer implements PUT /api/v1/peers/{id}.
func (h *AdminHandler) HandleUpdatePeer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req peerUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := h.Service.UpdatePeer(r.Context(), id, PeerUpdate(req))
	if err != nil {
		writeAdminErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// HandleDeletePeer implements DELETE /api/v1/peers/{id}.
func (h *AdminHandler) HandleDeletePeer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Service.RemovePeer(r.Context(), id); err != nil {
		writeAdminErrorFromErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSyncAll implements POST /api/v1/peers/sync.
func (h *AdminHandler) HandleSyncAll(w http.ResponseWriter, r *http.Request) {
	enabledOnly := true
	if v := r.URL.Query().Get("enabled_only"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			enabledOnly = b
		}
	}
	results := h.Service.SyncAllPeers(r.Context(), enabledOnly)
	writeJSON(w, http.StatusOK, results)
}

// HandleSyncPeer implements POST /api/v1/peers/{id}/sync.
func (h *AdminHandler) HandleSyncPeer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := h.Service.SyncPeer(r.Context(), id)
	if err != nil {
		writeAdminErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGetStatus implements GET /api/v1/peers/{id}/status.
func (h *AdminHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Service.GetPeer(r.Context(), id); err != nil {
		writeAdminErrorFromErr(w, err)
		return
	}
	status, err := h.Service.GetSyncStatus(r.Context(), id)
	if err != nil {
		writeAdminErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleSetEnabled implements POST /api/v1/peers/{id}/enable and
// /api/v1/peers/{id}/disable.
func (h *AdminHandler) HandleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		updated, err := h.Service.UpdatePeer(r.Context(), id, PeerUpdate{Enabled: &enabled})
		if err != nil {
			writeAdminErrorFromErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAdminErrorFromErr maps the federation package's typed errors to HTTP
// status codes (spec §7).
func writeAdminErrorFromErr(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *NotFoundError, *RecordNotFoundError:
		writeAdminError(w, http.StatusNotFound, err.Error())
	case *AlreadyExistsError:
		writeAdminError(w, http.StatusConflict, err.Error())
	case *InvalidInputError:
		writeAdminError(w, http.StatusBadRequest, err.Error())
	case *InvalidStateError:
		writeAdminError(w, http.StatusBadRequest, err.Error())
	default:
		writeAdminError(w, http.StatusInternalServerError, err.Error())
	}
}
