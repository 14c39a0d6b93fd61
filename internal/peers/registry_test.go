package peers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPeerIsIdempotent(t *testing.T) {
	r := New("build-1")
	assert.True(t, r.AddPeer("10.0.0.1:8443", "build-1"))
	assert.False(t, r.AddPeer("10.0.0.1:8443", "build-1"))
}

func TestGetHealthyPeersFiltersByBuildIDAndHealth(t *testing.T) {
	r := New("build-1")
	require.True(t, r.AddPeer("10.0.0.1:8443", "build-1"))
	require.True(t, r.AddPeer("10.0.0.2:8443", "build-2"))

	r.RecordProbeResult("10.0.0.1:8443", true, 3)
	r.RecordProbeResult("10.0.0.2:8443", true, 3)

	healthy := r.GetHealthyPeers()
	require.Len(t, healthy, 1)
	assert.Equal(t, "10.0.0.1:8443", healthy[0].Address)
	for _, p := range healthy {
		assert.Equal(t, r.LocalBuildID(), p.BuildID)
		assert.Equal(t, Healthy, p.Health)
	}
}

func TestRecordProbeResultTransitionsHealthState(t *testing.T) {
	r := New("build-1")
	r.AddPeer("10.0.0.1:8443", "build-1")

	r.RecordProbeResult("10.0.0.1:8443", false, 2)
	r.RecordProbeResult("10.0.0.1:8443", false, 2)
	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, Suspect, all[0].Health)

	r.RecordProbeResult("10.0.0.1:8443", false, 2)
	r.RecordProbeResult("10.0.0.1:8443", false, 2)
	all = r.All()
	assert.Equal(t, Unreachable, all[0].Health)

	r.RecordProbeResult("10.0.0.1:8443", true, 2)
	all = r.All()
	assert.Equal(t, Healthy, all[0].Health)
	assert.Equal(t, uint32(0), all[0].FailureStreak)
}

func TestEvictUnreachableRemovesStalePeers(t *testing.T) {
	r := New("build-1")
	r.AddPeer("10.0.0.1:8443", "build-1")
	r.RecordProbeResult("10.0.0.1:8443", false, 1)
	r.RecordProbeResult("10.0.0.1:8443", false, 1)
	require.Len(t, r.All(), 1)

	r.EvictUnreachable(0) // ttl 0: anything already Unreachable is stale
	time.Sleep(time.Millisecond)
	r.EvictUnreachable(0)
	assert.Empty(t, r.All())
}
