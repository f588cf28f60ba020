// Package clock implements a Lamport logical clock.
//
// From Lamport (1978), two implementation rules govern the clock:
//
//	IR1 (local event): Before any local event, increment the clock.
//	IR2 (message receipt): On receiving a message or acknowledgment with
//	     timestamp t, set the clock to max(own, t) + 1.
//
// TotalOrderLess breaks timestamp ties with the process id, giving every
// member of the cluster the same ordering without coordination.
//
// Unlike a per-invocation clock, a node's Clock is shared by every request
// handler of the process, so all methods take the clock's mutex.
package clock

import "sync"

// Clock is a goroutine-safe Lamport logical clock. The zero value is a
// clock at 0, ready to use.
type Clock struct {
	mu sync.Mutex
	ts int64
}

// Tick implements IR1: increment the clock before a local event.
// Returns the new timestamp.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts++
	return c.ts
}

// Receive implements IR2: on receiving a timestamp, set the clock to
// max(own, received) + 1. Returns the new timestamp, which is always
// strictly greater than received.
func (c *Clock) Receive(received int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if received > c.ts {
		c.ts = received
	}
	c.ts++
	return c.ts
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}

// Set initializes the clock to a specific value.
func (c *Clock) Set(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts = v
}

// TotalOrderLess defines a deterministic total order over events.
// Given two events with timestamps tsA and tsB from processes procA and
// procB, event A is "less" (delivered first) if:
//
//	tsA < tsB, or
//	tsA == tsB and procA < procB
func TotalOrderLess(tsA int64, procA int, tsB int64, procB int) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return procA < procB
}
