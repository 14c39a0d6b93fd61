package edge

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/sugora/internal/auth"
	"github.com/cyrup-ai/sugora/internal/bridge"
	"github.com/cyrup-ai/sugora/internal/load"
	"github.com/cyrup-ai/sugora/internal/metrics"
	"github.com/cyrup-ai/sugora/internal/peers"
	"github.com/cyrup-ai/sugora/internal/picker"
	"github.com/cyrup-ai/sugora/internal/ratelimit"
)

type recordingForwarder struct {
	calledWith string
}

func (f *recordingForwarder) Forward(w http.ResponseWriter, r *http.Request, upstreamAddr string) {
	f.calledWith = upstreamAddr
	w.WriteHeader(http.StatusOK)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestPipeline(t *testing.T, forwarder Forwarder) *Pipeline {
	t.Helper()
	registry := peers.New("build-1")
	dispatcher := bridge.New(bridge.DefaultHandler{}, 4, testLogger(), nil)
	t.Cleanup(dispatcher.Close)

	limiter := ratelimit.New(ratelimit.Options{
		BucketCapacity: 1000, BucketRefillPerSec: 1000,
		WindowLimit: 1000, WindowDuration: time.Second, IdleTimeout: time.Minute,
	})
	t.Cleanup(limiter.Stop)

	return &Pipeline{
		Counter:     load.New(),
		Verifier:    auth.New("test-secret-value-long-enough", time.Hour),
		Limiter:     limiter,
		Registry:    registry,
		Picker:      picker.New(nil),
		Bridge:      dispatcher,
		Metrics:     metrics.New(),
		PeersHTTP:   peers.NewHandler(registry, "discovery-token"),
		Forwarder:   forwarder,
		InflightMax: 10,
		Log:         testLogger(),
	}
}

func TestServeHTTPHealthBypassesAuth(t *testing.T) {
	p := newTestPipeline(t, &recordingForwarder{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeHTTPRejectsMissingAuth(t *testing.T) {
	p := newTestPipeline(t, &recordingForwarder{})
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTPDispatchesJSONRPCToBridge(t *testing.T) {
	p := newTestPipeline(t, &recordingForwarder{})
	token := mustBearerToken(t, p.Verifier)

	body := []byte(`{"jsonrpc":"2.0","id":"1","method":"tools/list"}`)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"1"`)
}

func TestServeHTTPForwardsWhenOverloadedAndNotHopped(t *testing.T) {
	fwd := &recordingForwarder{}
	p := newTestPipeline(t, fwd)
	p.InflightMax = 0 // force overloaded
	p.Registry.AddPeer("10.0.0.9:8443", "build-1")
	p.Registry.RecordProbeResult("10.0.0.9:8443", true, 1)

	token := mustBearerToken(t, p.Verifier)
	req := httptest.NewRequest(http.MethodGet, "/some/other/path", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, "10.0.0.9:8443", fwd.calledWith)
}

func TestServeHTTPHandlesLocallyWhenHopped(t *testing.T) {
	fwd := &recordingForwarder{}
	p := newTestPipeline(t, fwd)
	p.InflightMax = 0
	p.Registry.AddPeer("10.0.0.9:8443", "build-1")
	p.Registry.RecordProbeResult("10.0.0.9:8443", true, 1)

	token := mustBearerToken(t, p.Verifier)
	req := httptest.NewRequest(http.MethodGet, "/some/other/path", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HopHeader, "1")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Empty(t, fwd.calledWith)
	assert.Less(t, rec.Code, 500)
}

func mustBearerToken(t *testing.T, v *auth.Verifier) string {
	t.Helper()
	tok, err := jwt.NewBuilder().Subject("user-1").Expiration(time.Now().Add(time.Hour)).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-secret-value-long-enough")))
	require.NoError(t, err)
	return string(signed)
}
