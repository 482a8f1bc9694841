package paxos

import "quorumnode/internal/wire"

// handleAcceptNotification is the learner role's reaction to an
// acceptor's broadcast of an accepted proposal. Called with m.mu
// held.
func (m *Machine) handleAcceptNotification(proposal wire.Proposal) {
	if m.hasLearned[proposal.CSN] {
		// Learner idempotence: once a slot is learned, further
		// notifications never mutate chosenValues.
		return
	}

	byPSN, ok := m.notifyCounts[proposal.CSN]
	if !ok {
		byPSN = make(map[int64]int)
		m.notifyCounts[proposal.CSN] = byPSN
	}
	byPSN[proposal.PSN]++

	if byPSN[proposal.PSN] < m.view.Majority() {
		return
	}

	m.hasLearned[proposal.CSN] = true
	m.chosenValues[proposal.CSN] = proposal.Value
	delete(m.notifyCounts, proposal.CSN)

	// Learned-value durability is best-effort in this core; only
	// acceptor state is required for safety (spec section 9).
	m.persist()

	if m.onLearn != nil {
		m.onLearn(proposal.CSN, proposal.Value)
	}
}
