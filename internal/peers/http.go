package peers

import (
	"encoding/json"
	"net/http"
)

// DiscoveryTokenHeader gates the registration and peer-listing endpoints.
const DiscoveryTokenHeader = "x-discovery-token"

// peersResponse is the wire shape of GET /api/peers.
type peersResponse struct {
	BuildID string   `json:"build_id"`
	Peers   []string `json:"peers"`
}

// registerRequest is the wire shape of POST /api/register.
type registerRequest struct {
	BuildID string `json:"build_id"`
	Peer    string `json:"peer"`
}

// Handler builds the /api/peers and /api/register HTTP endpoints over a
// Registry, gated by the configured discovery token. An empty token
// disables discovery entirely.
type Handler struct {
	registry *Registry
	token    string
}

// NewHandler builds a discovery-token-gated Handler.
func NewHandler(registry *Registry, token string) *Handler {
	return &Handler{registry: registry, token: token}
}

// Enabled reports whether discovery endpoints are active.
func (h *Handler) Enabled() bool {
	return h.token != ""
}

func (h *Handler) authorized(r *http.Request) bool {
	return h.token != "" && r.Header.Get(DiscoveryTokenHeader) == h.token
}

// ListPeers serves GET /api/peers.
func (h *Handler) ListPeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	addrs := make([]string, 0)
	for _, p := range h.registry.All() {
		addrs = append(addrs, p.Address)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(peersResponse{
		BuildID: h.registry.LocalBuildID(),
		Peers:   addrs,
	})
}

// Register serves POST /api/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Peer == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Bad Request"))
		return
	}

	if req.BuildID != h.registry.LocalBuildID() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":    "build_id mismatch",
			"expected": h.registry.LocalBuildID(),
			"observed": req.BuildID,
		})
		return
	}

	inserted := h.registry.AddPeer(req.Peer, req.BuildID)
	status := "already_registered"
	if inserted {
		status = "added"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
