package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyrup-ai/sugora/internal/peers"
)

// peersResponse mirrors internal/peers.Handler's GET /api/peers wire shape.
type peersResponse struct {
	BuildID string   `json:"build_id"`
	Peers   []string `json:"peers"`
}

// Exchanger periodically asks every known peer for its own peer list and
// unions the result into the Registry: for every known peer, GET
// /api/peers and union the response.
type Exchanger struct {
	Token  string
	Client *http.Client
	Log    *logrus.Logger
}

// Run polls every interval until ctx is cancelled.
func (e *Exchanger) Run(ctx context.Context, registry *peers.Registry, interval time.Duration) {
	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.pollOnce(ctx, client, registry)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx, client, registry)
		}
	}
}

func (e *Exchanger) pollOnce(ctx context.Context, client *http.Client, registry *peers.Registry) {
	for _, p := range registry.All() {
		resp, err := e.fetchPeers(ctx, client, p.Address)
		if err != nil {
			if e.Log != nil {
				e.Log.WithError(err).WithField("peer", p.Address).Warn("peer-exchange poll failed")
			}
			continue
		}
		if resp.BuildID != registry.LocalBuildID() {
			continue
		}
		for _, addr := range resp.Peers {
			registry.AddPeer(addr, resp.BuildID)
		}
	}
}

func (e *Exchanger) fetchPeers(ctx context.Context, client *http.Client, peerAddr string) (peersResponse, error) {
	url := fmt.Sprintf("http://%s/api/peers", peerAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return peersResponse{}, err
	}
	if e.Token != "" {
		req.Header.Set("x-discovery-token", e.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return peersResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return peersResponse{}, fmt.Errorf("peer %s responded %d", peerAddr, resp.StatusCode)
	}

	var out peersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return peersResponse{}, fmt.Errorf("decode peers response: %w", err)
	}
	return out, nil
}
