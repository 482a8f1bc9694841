// Package node wires the membership view, transport, stable storage,
// Paxos state machine, and retransmission timers into the single
// externally-visible API described in spec section 6: start, stop,
// setPeers, submit, submit(value, csn), getDecidedValues,
// becomeLeader, isLeader, clearStableStorage.
package node

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"quorumnode/internal/config"
	"quorumnode/internal/membership"
	"quorumnode/internal/paxos"
	"quorumnode/internal/storage"
	"quorumnode/internal/timers"
	"quorumnode/internal/transport"
	"quorumnode/internal/wire"
)

// DecidedObserver is notified whenever a slot is newly decided, so
// the optional status dashboard can push an update without the
// Paxos machine knowing the dashboard exists.
type DecidedObserver func(csn int64, value string)

// Node is one participant: every role (proposer, acceptor, learner)
// co-resident, per spec section 4.
type Node struct {
	view      *membership.View
	store     *storage.Store
	transport *transport.Transport
	machine   *paxos.Machine
	heartbeat *timers.Heartbeat
	liveness  *timers.Liveness

	mu        sync.Mutex
	onDecided DecidedObserver
	onFatal   func(err error)
	running   bool
}

// New constructs a Node from a loaded cluster configuration. It loads
// the stable-storage snapshot before the transport listener is ever
// started, per spec section 4.6's startup order: a node must recover
// its acceptor promises before it can answer a single message.
func New(cfg config.Cluster) (*Node, error) {
	view := membership.New(cfg.Self, cfg.Peers)
	store := storage.New(cfg.StorageDir, strconv.Itoa(cfg.Self.Num))

	snap, err := store.Load()
	if errors.Is(err, storage.ErrCorrupt) {
		// A corrupt snapshot is logged and the acceptor starts fresh
		// rather than aborting startup.
		log.Printf("[node %d] %v; starting with empty acceptor state", cfg.Self.Num, err)
		snap, err = storage.Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("node: loading stable storage: %w", err)
	}

	n := &Node{view: view, store: store, liveness: timers.NewLiveness()}
	n.transport = transport.New(view, cfg.SocketDeadline, n)
	n.machine = paxos.New(view, store, n.transport, snap, cfg.ProposeTimeout)
	n.machine.SetOnLearn(n.notifyDecided)
	n.machine.SetOnFatal(n.notifyFatal)
	n.heartbeat = timers.New(view, n.transport, cfg.HeartbeatMin, cfg.HeartbeatMax)
	return n, nil
}

// SetOnDecided registers the callback invoked whenever a slot is
// newly learned. It must be called before Start if the caller wants
// to observe slots decided from this point forward; it is not
// retroactive over slots learned before it was registered.
func (n *Node) SetOnDecided(fn DecidedObserver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDecided = fn
}

func (n *Node) notifyDecided(csn int64, value string) {
	n.mu.Lock()
	fn := n.onDecided
	n.mu.Unlock()
	if fn != nil {
		fn(csn, value)
	}
}

// SetOnFatal registers the callback invoked when stable storage
// reports an unrecoverable write fault, per spec section 7. It must
// be called before Start.
func (n *Node) SetOnFatal(fn func(err error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onFatal = fn
}

func (n *Node) notifyFatal(err error) {
	n.mu.Lock()
	fn := n.onFatal
	n.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Start opens the listening socket and begins the heartbeat
// broadcaster. Calling Start twice without an intervening Stop is a
// no-op.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return nil
	}
	if err := n.transport.Start(); err != nil {
		return err
	}
	n.heartbeat.Start()
	n.running = true
	return nil
}

// Stop halts the heartbeat broadcaster and closes the listening
// socket, waiting for in-flight work to drain.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.mu.Unlock()

	n.heartbeat.Stop()
	n.transport.Stop()
}

// Dispatch implements transport.Dispatcher. Every inbound Envelope,
// self-delivered or received over the wire, marks its sender live
// before being handed to the Paxos state machine; liveness tracking
// has no bearing on consensus safety, only on what the status
// dashboard can show an operator.
func (n *Node) Dispatch(env wire.Envelope) {
	n.liveness.Mark(env.From.Num, time.Now())
	n.machine.Dispatch(env)
}

// Submit proposes value at the next locally chosen slot and returns
// that slot's csn.
func (n *Node) Submit(value string) int64 {
	return n.machine.Submit(value)
}

// SubmitAt (re-)proposes value at a specific slot.
func (n *Node) SubmitAt(value string, csn int64) {
	n.machine.SubmitAt(value, csn)
}

// GetDecidedValues returns every slot learned so far.
func (n *Node) GetDecidedValues() map[int64]string {
	return n.machine.GetDecidedValues()
}

// BecomeLeader sets this node's own advisory leader flag, per spec
// section 4.5. It does not broadcast a NewLeaderNotification; callers
// that need the rest of the cluster to agree should rely on the
// transport's crash-triggered rotation instead.
func (n *Node) BecomeLeader() {
	n.view.BecomeLeader()
}

// IsLeader reports whether this node currently believes itself to be
// the advisory leader.
func (n *Node) IsLeader() bool {
	return n.view.IsLeader()
}

// SetPeers replaces the local membership view wholesale.
func (n *Node) SetPeers(peers []membership.Location) {
	n.view.SetPeers(peers)
}

// ClearStableStorage deletes this node's on-disk snapshot. It is an
// operator escape hatch, not something the state machine ever calls
// itself; a node normally never forgets what it has promised.
func (n *Node) ClearStableStorage() error {
	return n.store.Clear()
}

// Self returns this node's own membership entry.
func (n *Node) Self() membership.Location {
	return n.view.Self()
}

// Leader returns the peer currently flagged leader, if any.
func (n *Node) Leader() (membership.Location, bool) {
	return n.view.Leader()
}

// Peers returns a snapshot of the full membership, self included.
func (n *Node) Peers() []membership.Location {
	return n.view.Peers()
}

// LastSeen returns a snapshot of when each peer num was last heard
// from, for the status dashboard.
func (n *Node) LastSeen() map[int]time.Time {
	return n.liveness.Snapshot()
}
