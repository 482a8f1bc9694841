// Package membership tracks the fixed set of peers participating in a
// Paxos cluster and the single advisory leader flag shared across them.
package membership

import "sync"

// Location identifies one participant: its dial address and its
// num, a small integer in [0, N) that seeds proposal numbers and
// indexes the peer set. IsLeader is a hint, not a safety-critical bit.
type Location struct {
	Host     string
	Port     int
	Num      int
	IsLeader bool
}

// View holds the local copy of the cluster's membership. Exactly one
// Location in the set carries IsLeader at any time (or none, before
// the first rotation). The view never participates in consensus
// safety; it only biases retransmission in the transport layer.
type View struct {
	mu    sync.RWMutex
	self  Location
	peers map[int]Location // num -> Location, includes self
}

// New builds a View seeded with self and the full peer set (self
// included). N is len(peers).
func New(self Location, peers []Location) *View {
	v := &View{peers: make(map[int]Location, len(peers))}
	for _, p := range peers {
		v.peers[p.Num] = p
	}
	v.peers[self.Num] = self
	v.self = self
	return v
}

// SetPeers replaces the local copy of the peer set wholesale. The
// caller is responsible for re-establishing the leader flag if it
// must be preserved; SetPeers does not infer one.
func (v *View) SetPeers(peers []Location) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.peers = make(map[int]Location, len(peers))
	for _, p := range peers {
		v.peers[p.Num] = p
	}
}

// N returns the size of the fixed membership.
func (v *View) N() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.peers)
}

// Self returns this node's own location, including its current
// leader flag.
func (v *View) Self() Location {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.peers[v.self.Num]
}

// Peers returns a snapshot of every peer in the membership, self
// included, in no particular order.
func (v *View) Peers() []Location {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Location, 0, len(v.peers))
	for _, p := range v.peers {
		out = append(out, p)
	}
	return out
}

// PeerByNum resolves a num to its Location, reporting false when num
// is not in the membership. The transport and rotation logic do not
// call it; they work from the Locations they already hold.
func (v *View) PeerByNum(num int) (Location, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.peers[num]
	return p, ok
}

// BecomeLeader sets this node's own leader flag and clears every
// other peer's. It does not broadcast a NewLeaderNotification; the
// caller (rotation logic, or an operator via the Node API) is
// responsible for that.
func (v *View) BecomeLeader() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setLeaderLocked(v.self.Num)
}

// SetLeader marks the peer identified by num as leader and clears
// every other peer's flag. It is a no-op if num is not in the
// membership.
func (v *View) SetLeader(num int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.peers[num]; !ok {
		return
	}
	v.setLeaderLocked(num)
}

func (v *View) setLeaderLocked(num int) {
	for n, p := range v.peers {
		p.IsLeader = n == num
		v.peers[n] = p
	}
}

// IsLeader reports whether this node currently believes itself to be
// the leader.
func (v *View) IsLeader() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.peers[v.self.Num].IsLeader
}

// Leader returns the peer currently flagged leader, if any.
func (v *View) Leader() (Location, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, p := range v.peers {
		if p.IsLeader {
			return p, true
		}
	}
	return Location{}, false
}

// Majority returns the smallest count that is strictly greater than
// N/2, i.e. the quorum size for this membership.
func (v *View) Majority() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.peers)/2 + 1
}
