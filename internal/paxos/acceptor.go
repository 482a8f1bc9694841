package paxos

import (
	"quorumnode/internal/membership"
	"quorumnode/internal/wire"
)

// handlePrepareRequest is the acceptor role's response to phase 1 of
// a proposer's round. Called with m.mu held.
//
// The local predicate is strictly "<", not "<=": a PrepareRequest
// whose psn equals the current promise does not raise minPSNs, but
// the acceptor still replies to it, letting it count toward the
// sender's majority. This is spec section 9's documented "Prepare on
// equal psn" behavior, preserved here rather than "corrected" against
// the canonical literature.
func (m *Machine) handlePrepareRequest(from membership.Location, req wire.PrepareRequest) {
	cur, ok := m.minPSNs[req.CSN]
	if !ok || cur < req.PSN {
		m.minPSNs[req.CSN] = req.PSN
	}

	resp := wire.PrepareResponse{
		CSN:    req.CSN,
		MinPSN: m.minPSNs[req.CSN],
	}
	if accepted, ok := m.maxAccepted[req.CSN]; ok {
		p := accepted
		resp.AcceptedProposal = &p
	}

	self := m.view.Self()
	m.transport.Unicast(from, wire.Envelope{
		Kind:            wire.KindPrepareResponse,
		From:            self,
		To:              from,
		PrepareResponse: &resp,
	})

	// Persist after replying, per the literal step ordering of spec
	// section 4.3 (update, then reply, then persist). Unlike the
	// AcceptRequest path, nothing downstream depends on this promise
	// being durable before the reply is observed.
	m.persist()
}

// handleAcceptRequest is the acceptor role's response to phase 2 of
// a proposer's round. Called with m.mu held.
//
// Persistence happens here before the AcceptNotification broadcast,
// not after it as the bare step count in spec section 4.3 might
// suggest: spec section 5's durability-ordering guarantee is explicit
// that an AcceptNotification for slot s is only ever emitted once the
// snapshot covering that acceptance has been flushed, and that
// invariant governs over the informal step numbering.
func (m *Machine) handleAcceptRequest(proposal wire.Proposal) {
	minPSN, known := m.minPSNs[proposal.CSN]
	if known && proposal.PSN < minPSN {
		return
	}
	if !known || proposal.PSN > minPSN {
		m.minPSNs[proposal.CSN] = proposal.PSN
	}
	m.maxAccepted[proposal.CSN] = proposal

	if err := m.persist(); err != nil {
		// The durability invariant forbids emitting the notification
		// without the flush; the acceptor stays internally consistent
		// and simply does not announce this acceptance. The proposer's
		// re-propose timer will retry and may succeed once storage
		// recovers.
		return
	}

	self := m.view.Self()
	notify := wire.AcceptNotification{Proposal: proposal}
	m.transport.Broadcast(func(to membership.Location) wire.Envelope {
		return wire.Envelope{
			Kind:               wire.KindAcceptNotification,
			From:               self,
			To:                 to,
			AcceptNotification: &notify,
		}
	})
}
