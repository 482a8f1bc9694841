// Package transport delivers Envelopes between quorumnode peers over
// plain TCP: one JSON message per connection, closed after the
// single write, in the same net.Listen/net.DialTimeout shape the
// rest of this codebase's network packages use.
//
// A unicast that times out against the peer currently flagged leader
// triggers a leader rotation broadcast and one retry, per spec
// section 4.5. Self-delivery (the local copy made by Broadcast) is
// posted onto the same inbound queue the network listener feeds, so
// it never re-enters the dispatcher synchronously.
package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"quorumnode/internal/membership"
	"quorumnode/internal/wire"
)

const defaultDeadline = 5 * time.Second

// Dispatcher handles one inbound Envelope. The node's Paxos state
// machine implements this.
type Dispatcher interface {
	Dispatch(env wire.Envelope)
}

// Transport owns the node's listening socket and every outbound
// connection it initiates.
type Transport struct {
	view     *membership.View
	deadline time.Duration
	disp     Dispatcher

	mu       sync.Mutex
	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup

	// inbound is the single queue both the network listener and
	// Broadcast's self-delivery feed. A lone goroutine drains it into
	// the dispatcher, which keeps self-delivery from re-entering the
	// dispatcher's exclusion domain from inside Broadcast's own call
	// stack.
	inbound chan wire.Envelope
}

// New creates a Transport bound to view's self address. Dispatch is
// not invoked until Start is called.
func New(view *membership.View, deadline time.Duration, disp Dispatcher) *Transport {
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	return &Transport{
		view:     view,
		deadline: deadline,
		disp:     disp,
		inbound:  make(chan wire.Envelope, 64),
	}
}

// Start opens the listening socket and begins accepting connections
// and draining the inbound queue. It returns once the socket is
// bound; acceptance runs in the background.
func (t *Transport) Start() error {
	self := t.view.Self()
	addr := fmt.Sprintf("%s:%d", self.Host, self.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	t.mu.Lock()
	t.listener = ln
	t.quit = make(chan struct{})
	t.mu.Unlock()

	log.Printf("[node %d] transport listening on %s", self.Num, addr)

	t.wg.Add(2)
	go t.acceptLoop()
	go t.dispatchLoop()
	return nil
}

// Stop closes the listening socket and waits for both background
// loops to exit. In-flight unicasts run to their deadline rather than
// being cancelled.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.listener != nil {
		t.listener.Close()
	}
	quit := t.quit
	t.mu.Unlock()

	if quit != nil {
		close(quit)
	}
	t.wg.Wait()
}

// acceptLoop accepts one connection at a time and decodes exactly one
// Envelope from it before moving on to the next Accept, per spec
// section 4.2's "listener accepts connections sequentially" contract.
func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		t.mu.Lock()
		ln := t.listener
		t.mu.Unlock()
		if ln == nil {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-t.quit:
				return
			default:
				log.Printf("[transport] accept error: %v", err)
				continue
			}
		}
		t.handleInbound(conn)
	}
}

func (t *Transport) handleInbound(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(t.deadline))

	env, err := wire.Decode(conn)
	if err != nil {
		log.Printf("[transport] decode fault, dropping connection: %v", err)
		return
	}
	log.Printf("[transport] received %s (id=%s) from node %d", env.Kind, env.ID, env.From.Num)
	t.inbound <- env
}

func (t *Transport) dispatchLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.quit:
			return
		case env := <-t.inbound:
			t.disp.Dispatch(env)
		}
	}
}

// Broadcast delivers a copy of msg to every peer, self included. The
// self copy bypasses the network entirely and is posted onto the
// same inbound queue the listener feeds, under the same
// serialization discipline as a message that arrived over the wire.
func (t *Transport) Broadcast(build func(to membership.Location) wire.Envelope) {
	self := t.view.Self()
	for _, p := range t.view.Peers() {
		env := build(p)
		if p.Num == self.Num {
			t.inbound <- env
			continue
		}
		go t.unicast(p, env, true)
	}
}

// Unicast sends one Envelope to peer over a single connection,
// closing it after the write. On deadline expiry, if peer was
// flagged leader this triggers a rotation and retries once to the
// same destination, per spec section 4.5.
func (t *Transport) Unicast(peer membership.Location, env wire.Envelope) {
	t.unicast(peer, env, true)
}

func (t *Transport) unicast(peer membership.Location, env wire.Envelope, allowRetry bool) {
	addr := fmt.Sprintf("%s:%d", peer.Host, peer.Port)
	conn, err := net.DialTimeout("tcp", addr, t.deadline)
	if err != nil {
		if isTimeout(err) {
			t.handleCrash(peer, env, allowRetry)
			return
		}
		log.Printf("[transport] unicast to %s: dropping, non-timeout I/O fault: %v", addr, err)
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(t.deadline))
	if err := wire.Encode(conn, env); err != nil {
		if isTimeout(err) {
			t.handleCrash(peer, env, allowRetry)
			return
		}
		log.Printf("[transport] unicast to %s: dropping, non-timeout I/O fault: %v", addr, err)
	}
}

func (t *Transport) handleCrash(peer membership.Location, env wire.Envelope, allowRetry bool) {
	log.Printf("[transport] unicast to node %d timed out, presuming crash", peer.Num)

	leader, ok := t.view.Leader()
	if !ok || leader.Num != peer.Num {
		return
	}
	t.rotateLeader(leader.Num)

	if allowRetry {
		t.unicast(peer, env, false)
	}
}

// rotateLeader computes (currentLeader.num + 1) mod N and broadcasts
// a NewLeaderNotification for it, per spec section 4.5.
func (t *Transport) rotateLeader(currentNum int) {
	n := t.view.N()
	if n == 0 {
		return
	}
	newNum := (currentNum + 1) % n
	t.view.SetLeader(newNum)

	self := t.view.Self()
	notify := wire.NewLeaderNotify{Num: newNum}
	t.Broadcast(func(to membership.Location) wire.Envelope {
		return wire.Envelope{
			Kind:            wire.KindNewLeaderNotify,
			From:            self,
			To:              to,
			NewLeaderNotify: &notify,
		}
	})
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
