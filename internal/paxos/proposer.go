package paxos

import (
	"quorumnode/internal/membership"
	"quorumnode/internal/wire"
)

// handlePrepareResponse is the proposer role's reaction to an
// acceptor's reply to phase 1. Called with m.mu held.
func (m *Machine) handlePrepareResponse(resp wire.PrepareResponse) {
	if !m.acceptTally.inFlight(resp.CSN) {
		// No round in flight for this csn: either a majority was
		// already reached, or we never started one. Ignore.
		return
	}

	p := m.proposals[resp.CSN]

	// Track the highest-psn proposal any acceptor in this round has
	// already accepted. Its psn belongs to a past round and must never
	// replace this round's own psn in p; only its value is eligible
	// for adoption once a majority has promised.
	if resp.AcceptedProposal != nil {
		if best, ok := m.bestAccepted[resp.CSN]; !ok || best == nil || resp.AcceptedProposal.PSN > best.PSN {
			accepted := *resp.AcceptedProposal
			m.bestAccepted[resp.CSN] = &accepted
		}
	}

	if resp.MinPSN > p.PSN {
		// The round is stale: some acceptor has promised a higher psn
		// than the one we're proposing with. Advance our local counter
		// past it and start a fresh round. Re-propose with whatever
		// value this round would have adopted, so a value already
		// accepted by some acceptor is never abandoned mid-negotiation.
		value := p.Value
		if best := m.bestAccepted[resp.CSN]; best != nil {
			value = best.Value
		}
		for m.psn < resp.MinPSN {
			m.psn += m.n
		}
		m.submitLocked(value, resp.CSN)
		return
	}

	count, _ := m.acceptTally.incr(resp.CSN)
	if count < m.view.Majority() {
		return
	}

	// Majority promise reached: stop tallying, cancel the re-propose
	// timer (the Accept phase now carries liveness for this round),
	// and move to phase 2, adopting the highest-accepted value seen
	// across the round's responses, if any, under this round's own
	// psn.
	m.acceptTally.clear(resp.CSN)
	if t, ok := m.reproposeTmr[resp.CSN]; ok {
		t.Stop()
		delete(m.reproposeTmr, resp.CSN)
	}

	toSend := p
	if best := m.bestAccepted[resp.CSN]; best != nil {
		toSend.Value = best.Value
	}

	self := m.view.Self()
	req := wire.AcceptRequest{Proposal: toSend}
	m.transport.Broadcast(func(to membership.Location) wire.Envelope {
		return wire.Envelope{
			Kind:          wire.KindAcceptRequest,
			From:          self,
			To:            to,
			AcceptRequest: &req,
		}
	})
}
