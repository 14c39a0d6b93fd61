// Package load implements the gateway's wait-free inflight request counter.
//
// Grounded on original_source/src/edge.rs (the Rust Load type, guarded by a
// Mutex there) and original_source/packages/sweetmcp-pingora/src/edge.rs,
// reimplemented here with a single atomic int64 since Go's atomic package
// makes the mutex unnecessary for a scalar counter.
package load

import "sync/atomic"

// Counter is a wait-free, allocation-free inflight request counter.
type Counter struct {
	current int64
}

// New returns a zeroed Counter.
func New() *Counter {
	return &Counter{}
}

// Inc increments the inflight count. Pair with Dec on every exit path.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.current, 1)
}

// Dec decrements the inflight count.
func (c *Counter) Dec() {
	atomic.AddInt64(&c.current, -1)
}

// Current returns the current inflight count.
func (c *Counter) Current() int64 {
	return atomic.LoadInt64(&c.current)
}

// Overload reports whether the current count has reached max.
func (c *Counter) Overload(max int64) bool {
	return atomic.LoadInt64(&c.current) >= max
}

// Guard acquires the counter and returns a release function, so inc/dec
// pair on every code path including panics and early returns:
//
//	done := counter.Guard()
//	defer done()
func (c *Counter) Guard() (release func()) {
	c.Inc()
	var released bool
	return func() {
		if released {
			return
		}
		released = true
		c.Dec()
	}
}
