// Package timers runs the node's background retransmission tasks
// that are not tied to a single Paxos slot. Today that is exactly
// one task: the heartbeat broadcaster. The per-slot re-propose timer
// lives inside internal/paxos, co-located with the proposer state it
// mutates.
package timers

import (
	"math/rand"
	"sync"
	"time"

	"quorumnode/internal/membership"
	"quorumnode/internal/wire"
)

// Transport is the outbound dependency the heartbeat task needs.
type Transport interface {
	Broadcast(build func(to membership.Location) wire.Envelope)
}

// Heartbeat broadcasts a Heartbeat Envelope at a randomized interval
// uniformly chosen in [min, max), rerolling after every fire, so that
// every node's background task does not synchronize on the same clock
// tick. The "broadcast, then arm the next fire" loop shape is adapted
// from the teacher corpus's fixed-interval gossip loop; the random
// delay itself has no counterpart there.
type Heartbeat struct {
	view      *membership.View
	transport Transport
	min, max  time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// New constructs a Heartbeat task. It does not start firing until
// Start is called.
func New(view *membership.View, transport Transport, min, max time.Duration) *Heartbeat {
	if min <= 0 {
		min = 1000 * time.Millisecond
	}
	if max <= min {
		max = min + 1000*time.Millisecond
	}
	return &Heartbeat{view: view, transport: transport, min: min, max: max}
}

// Start arms the first randomized fire.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = false
	h.timer = time.AfterFunc(h.nextInterval(), h.fire)
}

// Stop cancels the pending fire. A fire already in progress runs to
// completion but does not reschedule itself.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
	}
}

func (h *Heartbeat) nextInterval() time.Duration {
	span := h.max - h.min
	if span <= 0 {
		return h.min
	}
	return h.min + time.Duration(rand.Int63n(int64(span)))
}

func (h *Heartbeat) fire() {
	self := h.view.Self()
	h.transport.Broadcast(func(to membership.Location) wire.Envelope {
		return wire.Heartbeat(self, to)
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.timer = time.AfterFunc(h.nextInterval(), h.fire)
}
