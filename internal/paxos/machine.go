// Package paxos implements the per-slot, multi-decree Paxos state
// machine: proposer, acceptor, and learner roles co-resident on every
// node, dispatched by message kind under a single mutual-exclusion
// domain as required by spec section 5.
//
// Slots (command sequence numbers, csn) are independent; each is an
// instance of single-decree Paxos and may be decided concurrently and
// out of order with any other slot.
package paxos

import (
	"errors"
	"log"
	"sync"
	"time"

	"quorumnode/internal/membership"
	"quorumnode/internal/storage"
	"quorumnode/internal/wire"
)

// Transport is the outbound half of the network the state machine
// needs: broadcasting one Envelope per peer (self included, via
// self-delivery) and unicasting a single Envelope to one peer.
type Transport interface {
	Broadcast(build func(to membership.Location) wire.Envelope)
	Unicast(peer membership.Location, env wire.Envelope)
}

// Machine is the node's single Paxos state machine instance. Every
// exported method that touches state takes the same mutex, matching
// spec section 5's single logical exclusion domain: inbound dispatch,
// proposal submission, and timer callbacks never run concurrently
// with one another.
type Machine struct {
	mu sync.Mutex

	view      *membership.View
	store     *storage.Store
	transport Transport

	proposeTimeout time.Duration

	// psn is this node's own proposal-number counter. It is seeded at
	// view.Self().Num and always satisfies psn mod N == num.
	psn int64
	n   int64

	// nextCSN is the local counter submit(value) uses to pick the
	// next log slot; it never decreases and is independent of psn.
	nextCSN int64

	// acceptor state (durable; mirrored to storage on every mutating
	// handler per spec section 4.6).
	minPSNs     map[int64]int64
	maxAccepted map[int64]wire.Proposal

	// proposer state (volatile).
	//
	// proposals holds each in-flight round's own {csn, psn, value}
	// triple, psn fixed for the life of the round. bestAccepted tracks
	// the highest-psn AcceptedProposal seen across this round's
	// PrepareResponses, kept separate from proposals because its psn
	// belongs to a prior, lower-numbered round and must never
	// overwrite the current round's own psn — only its value, once a
	// majority promise is in, is adopted for the AcceptRequest this
	// node sends.
	proposals    map[int64]wire.Proposal
	bestAccepted map[int64]*wire.Proposal
	acceptTally  *tally
	reproposeTmr map[int64]*time.Timer

	// learner state (volatile in this design; see spec section 9).
	//
	// notifyCounts is keyed csn -> psn -> count of AcceptNotifications
	// seen for that exact (csn, psn) pair, not a single counter per
	// csn. A literal per-csn-only counter (as spec section 4.3's prose
	// reads in isolation) would let acceptances of genuinely different
	// values accumulate toward the same threshold across repeated
	// rounds, since a single acceptor can emit more than one
	// AcceptNotification for a csn over its lifetime as it promises
	// higher psns. Keying by (csn, psn) is the decision recorded in
	// DESIGN.md that keeps the learner's majority check tied to one
	// specific proposal, which is what section 8's Agreement property
	// actually requires.
	notifyCounts map[int64]map[int64]int
	hasLearned   map[int64]bool
	chosenValues map[int64]string

	// onLearn, if set, is called after a slot is newly learned, still
	// holding m.mu. It must not call back into the Machine. The node
	// package uses this to feed the optional status dashboard without
	// the state machine knowing that dashboard exists.
	onLearn func(csn int64, value string)

	// onFatal, if set, is called when persist observes
	// storage.ErrUnrecoverable — the one storage fault spec section 7
	// says must surface to the operator.
	onFatal func(err error)
}

// SetOnLearn registers a callback invoked whenever a new slot is
// learned. Must be called before the Machine starts receiving
// messages.
func (m *Machine) SetOnLearn(fn func(csn int64, value string)) {
	m.onLearn = fn
}

// SetOnFatal registers a callback invoked when a stable-storage write
// is unrecoverable. Must be called before the Machine starts
// receiving messages.
func (m *Machine) SetOnFatal(fn func(err error)) {
	m.onFatal = fn
}

// New constructs a Machine from a previously loaded snapshot. The
// caller is responsible for calling storage.Store.Load before
// wiring, per spec section 4.6's "load before the listener accepts
// any message" startup order.
func New(view *membership.View, store *storage.Store, transport Transport, initial storage.Snapshot, proposeTimeout time.Duration) *Machine {
	m := &Machine{
		view:           view,
		store:          store,
		transport:      transport,
		proposeTimeout: proposeTimeout,
		psn:            int64(view.Self().Num),
		n:              int64(view.N()),
		minPSNs:        initial.MinPSNs,
		maxAccepted:    initial.MaxAccepted,
		proposals:      make(map[int64]wire.Proposal),
		bestAccepted:   make(map[int64]*wire.Proposal),
		acceptTally:    newTally(),
		reproposeTmr:   make(map[int64]*time.Timer),
		notifyCounts:   make(map[int64]map[int64]int),
		hasLearned:     make(map[int64]bool),
		chosenValues:   make(map[int64]string),
	}
	if m.minPSNs == nil {
		m.minPSNs = make(map[int64]int64)
	}
	if m.maxAccepted == nil {
		m.maxAccepted = make(map[int64]wire.Proposal)
	}
	return m
}

// Dispatch routes one inbound Envelope to the handler for its Kind.
// This is the sole entry point the transport layer calls; it is also
// the path self-delivered broadcasts take, so it never assumes the
// message arrived over the network.
func (m *Machine) Dispatch(env wire.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch env.Kind {
	case wire.KindHeartbeat:
		// No state change; presence on the wire is sufficient.

	case wire.KindPrepareRequest:
		if env.PrepareRequest == nil {
			log.Printf("[node %d] malformed prepare_request, discarding", m.selfNum())
			return
		}
		m.handlePrepareRequest(env.From, *env.PrepareRequest)

	case wire.KindPrepareResponse:
		if env.PrepareResponse == nil {
			log.Printf("[node %d] malformed prepare_response, discarding", m.selfNum())
			return
		}
		m.handlePrepareResponse(*env.PrepareResponse)

	case wire.KindAcceptRequest:
		if env.AcceptRequest == nil {
			log.Printf("[node %d] malformed accept_request, discarding", m.selfNum())
			return
		}
		m.handleAcceptRequest(env.AcceptRequest.Proposal)

	case wire.KindAcceptNotification:
		if env.AcceptNotification == nil {
			log.Printf("[node %d] malformed accept_notification, discarding", m.selfNum())
			return
		}
		m.handleAcceptNotification(env.AcceptNotification.Proposal)

	case wire.KindNewLeaderNotify:
		if env.NewLeaderNotify == nil {
			log.Printf("[node %d] malformed new_leader_notification, discarding", m.selfNum())
			return
		}
		m.view.SetLeader(env.NewLeaderNotify.Num)

	default:
		log.Printf("[node %d] unknown message kind %q, discarding", m.selfNum(), env.Kind)
	}
}

func (m *Machine) selfNum() int {
	return m.view.Self().Num
}

// persist writes the current acceptor state to stable storage. A
// write fault is logged; it does not panic or block the caller, per
// spec section 7's storage-write-fault policy. Callers that must not
// proceed on failure (the AcceptRequest path, ahead of broadcasting
// AcceptNotification) check the returned error themselves.
func (m *Machine) persist() error {
	snap := storage.Snapshot{
		MinPSNs:     copyPSNs(m.minPSNs),
		MaxAccepted: copyAccepted(m.maxAccepted),
	}
	if err := m.store.Save(snap); err != nil {
		log.Printf("[node %d] stable storage write fault: %v", m.selfNum(), err)
		if errors.Is(err, storage.ErrUnrecoverable) && m.onFatal != nil {
			m.onFatal(err)
		}
		return err
	}
	return nil
}

func copyPSNs(in map[int64]int64) map[int64]int64 {
	out := make(map[int64]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyAccepted(in map[int64]wire.Proposal) map[int64]wire.Proposal {
	out := make(map[int64]wire.Proposal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Submit chooses the next csn from the local monotonically
// increasing counter and delegates to SubmitAt.
func (m *Machine) Submit(value string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	csn := m.nextCSN
	m.nextCSN++
	m.submitLocked(value, csn)
	return csn
}

// SubmitAt (re-)proposes value for the given csn, per spec section
// 4.3's six-step submit(value, csn) algorithm. It is exported so a
// stale-round proposer and an expired re-propose timer can both
// re-enter it directly, and so an operator can re-drive a specific
// slot.
func (m *Machine) SubmitAt(value string, csn int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitLocked(value, csn)
}

func (m *Machine) submitLocked(value string, csn int64) {
	// 1. Cancel any existing re-propose timer for this slot.
	if t, ok := m.reproposeTmr[csn]; ok {
		t.Stop()
		delete(m.reproposeTmr, csn)
	}

	// 2. A fresh round starts its promise tally at zero and forgets
	// any value adopted by a prior round for this slot.
	m.acceptTally.reset(csn)
	delete(m.bestAccepted, csn)

	// 3. Build and store the proposal this node now champions.
	proposal := wire.Proposal{CSN: csn, PSN: m.psn, Value: value}
	m.proposals[csn] = proposal

	// 4. Arm a fresh re-propose timer.
	m.reproposeTmr[csn] = time.AfterFunc(m.proposeTimeout, func() {
		m.SubmitAt(value, csn)
	})

	// 5. Broadcast PrepareRequest(csn, psn).
	self := m.view.Self()
	req := wire.PrepareRequest{CSN: csn, PSN: proposal.PSN}
	m.transport.Broadcast(func(to membership.Location) wire.Envelope {
		return wire.Envelope{
			Kind:           wire.KindPrepareRequest,
			From:           self,
			To:             to,
			PrepareRequest: &req,
		}
	})

	// 6. Advance the local psn counter by N, preserving psn mod N == num.
	m.psn += m.n
}

// GetDecidedValues returns a snapshot of every slot learned so far.
// Slots never proposed, or not yet decided, are simply absent from
// the map — the sparse-sequence representation spec section 9 leaves
// to the implementer.
func (m *Machine) GetDecidedValues() map[int64]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]string, len(m.chosenValues))
	for k, v := range m.chosenValues {
		out[k] = v
	}
	return out
}
