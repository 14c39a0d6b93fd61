package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/sugora/internal/peers"
)

func TestExchangerUnionsPeersFromResponder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-discovery-token"))
		_ = json.NewEncoder(w).Encode(peersResponse{
			BuildID: "build-1",
			Peers:   []string{"10.0.0.9:8443"},
		})
	}))
	defer srv.Close()

	registry := peers.New("build-1")
	registry.AddPeer(srv.Listener.Addr().String(), "build-1")

	e := &Exchanger{Token: "secret"}
	e.pollOnce(context.Background(), srv.Client(), registry)

	found := false
	for _, p := range registry.All() {
		if p.Address == "10.0.0.9:8443" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExchangerIgnoresBuildIDMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(peersResponse{BuildID: "other-build", Peers: []string{"10.0.0.9:8443"}})
	}))
	defer srv.Close()

	registry := peers.New("build-1")
	registry.AddPeer(srv.Listener.Addr().String(), "build-1")

	e := &Exchanger{}
	e.pollOnce(context.Background(), srv.Client(), registry)

	for _, p := range registry.All() {
		assert.NotEqual(t, "10.0.0.9:8443", p.Address)
	}
}

func TestExchangerFetchPeersReturnsErrorOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := &Exchanger{}
	_, err := e.fetchPeers(context.Background(), srv.Client(), srv.Listener.Addr().String())
	require.Error(t, err)
}
