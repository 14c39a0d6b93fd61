package picker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPickReturnsFalseOnEmptySet(t *testing.T) {
	p := New(nil)
	_, ok := p.Pick()
	assert.False(t, ok)
}

func TestPickChoosesLowestScore(t *testing.T) {
	p := New([]Backend{
		{Address: "10.0.0.1:8443", EWMALatencyMS: 50, Inflight: 10, Capacity: 100, ErrorRate: 0},
		{Address: "10.0.0.2:8443", EWMALatencyMS: 10, Inflight: 0, Capacity: 100, ErrorRate: 0},
	})
	b, ok := p.Pick()
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.2:8443", b.Address)
}

func TestPickBreaksTiesByAddress(t *testing.T) {
	p := New([]Backend{
		{Address: "10.0.0.2:8443", EWMALatencyMS: 10, Capacity: 1},
		{Address: "10.0.0.1:8443", EWMALatencyMS: 10, Capacity: 1},
	})
	b, ok := p.Pick()
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1:8443", b.Address)
}

func TestStartRefreshSwapsSnapshotWithoutBlockingPick(t *testing.T) {
	p := New([]Backend{{Address: "a", EWMALatencyMS: 1, Capacity: 1}})
	calls := 0
	p.StartRefresh(func() []Backend {
		calls++
		return []Backend{{Address: "b", EWMALatencyMS: 1, Capacity: 1}}
	}, 5*time.Millisecond)
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)
	b, ok := p.Pick()
	assert.True(t, ok)
	assert.Equal(t, "b", b.Address)
	assert.Greater(t, calls, 0)
}
