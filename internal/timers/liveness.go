package timers

import (
	"sync"
	"time"
)

// Liveness is a passive, best-effort record of when each peer num
// was last heard from, over any inbound message. It has no bearing
// on leader rotation or Paxos safety — rotation is triggered solely
// by a transport-detected unicast timeout, per spec section 4.5 —
// this table exists only so the optional status dashboard has
// something to show an operator.
//
// Adapted from the teacher corpus's heartbeat.Server client-status
// map, narrowed to a plain timestamp table: the teacher's dead/alive
// callback hooks have no counterpart here since nothing in this core
// reacts to liveness besides the transport's own unicast deadline.
type Liveness struct {
	mu       sync.RWMutex
	lastSeen map[int]time.Time
}

// NewLiveness returns an empty liveness table.
func NewLiveness() *Liveness {
	return &Liveness{lastSeen: make(map[int]time.Time)}
}

// Mark records that num was heard from at t.
func (l *Liveness) Mark(num int, t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSeen[num] = t
}

// Snapshot returns a copy of the full lastSeen table.
func (l *Liveness) Snapshot() map[int]time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[int]time.Time, len(l.lastSeen))
	for k, v := range l.lastSeen {
		out[k] = v
	}
	return out
}
