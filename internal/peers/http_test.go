package peers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPeersRequiresToken(t *testing.T) {
	h := NewHandler(New("build-1"), "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/peers", nil)
	rec := httptest.NewRecorder()
	h.ListPeers(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListPeersWrongMethod(t *testing.T) {
	h := NewHandler(New("build-1"), "secret")

	req := httptest.NewRequest(http.MethodPost, "/api/peers", nil)
	req.Header.Set(DiscoveryTokenHeader, "secret")
	rec := httptest.NewRecorder()
	h.ListPeers(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRegisterAddsThenReportsAlreadyRegistered(t *testing.T) {
	reg := New("build-1")
	h := NewHandler(reg, "secret")

	body, _ := json.Marshal(registerRequest{BuildID: "build-1", Peer: "10.0.0.2:8443"})
	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
	req.Header.Set(DiscoveryTokenHeader, "secret")
	rec := httptest.NewRecorder()
	h.Register(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "added", resp["status"])

	req2 := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
	req2.Header.Set(DiscoveryTokenHeader, "secret")
	rec2 := httptest.NewRecorder()
	h.Register(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	var resp2 map[string]string
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))
	assert.Equal(t, "already_registered", resp2["status"])
}

func TestRegisterRejectsBuildIDMismatch(t *testing.T) {
	reg := New("build-1")
	h := NewHandler(reg, "secret")

	body, _ := json.Marshal(registerRequest{BuildID: "other", Peer: "10.0.0.2:8443"})
	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
	req.Header.Set(DiscoveryTokenHeader, "secret")
	rec := httptest.NewRecorder()
	h.Register(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "build-1")
	assert.Contains(t, rec.Body.String(), "other")
}

func TestRegisterRejectsMalformedBody(t *testing.T) {
	h := NewHandler(New("build-1"), "secret")

	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader([]byte("not json")))
	req.Header.Set(DiscoveryTokenHeader, "secret")
	rec := httptest.NewRecorder()
	h.Register(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
