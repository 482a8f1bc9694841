// Package wire defines the on-the-wire message record exchanged
// between quorumnode peers: one self-describing JSON Envelope per
// TCP connection, closed after the single write, matching the
// transport contract in spec section 6.
package wire

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"quorumnode/internal/membership"
)

// Kind tags which payload field of an Envelope is populated.
type Kind string

const (
	KindHeartbeat           Kind = "heartbeat"
	KindPrepareRequest      Kind = "prepare_request"
	KindPrepareResponse     Kind = "prepare_response"
	KindAcceptRequest       Kind = "accept_request"
	KindAcceptNotification  Kind = "accept_notification"
	KindNewLeaderNotify     Kind = "new_leader_notification"
)

// Proposal is the immutable triple a proposer champions for a slot.
type Proposal struct {
	CSN   int64  `json:"csn"`
	PSN   int64  `json:"psn"`
	Value string `json:"value"`
}

// Envelope carries exactly one Message variant, tagged by Kind, along
// with the sender and intended receiver locations every message
// carries per spec section 3.
type Envelope struct {
	Kind Kind                 `json:"kind"`
	From membership.Location  `json:"from"`
	To   membership.Location  `json:"to"`

	// ID correlates a logged send with its logged receipt. It carries
	// no protocol meaning; dispatch never branches on it.
	ID string `json:"id"`

	PrepareRequest      *PrepareRequest      `json:"prepare_request,omitempty"`
	PrepareResponse     *PrepareResponse     `json:"prepare_response,omitempty"`
	AcceptRequest       *AcceptRequest       `json:"accept_request,omitempty"`
	AcceptNotification  *AcceptNotification  `json:"accept_notification,omitempty"`
	NewLeaderNotify     *NewLeaderNotify     `json:"new_leader_notification,omitempty"`
}

// PrepareRequest is phase 1 of a proposer's round for csn.
type PrepareRequest struct {
	CSN int64 `json:"csn"`
	PSN int64 `json:"psn"`
}

// PrepareResponse is an acceptor's reply to a PrepareRequest.
// AcceptedProposal is nil when the acceptor has never accepted
// anything for this csn.
type PrepareResponse struct {
	CSN              int64     `json:"csn"`
	MinPSN           int64     `json:"min_psn"`
	AcceptedProposal *Proposal `json:"accepted_proposal,omitempty"`
}

// AcceptRequest is phase 2 of a proposer's round.
type AcceptRequest struct {
	Proposal Proposal `json:"proposal"`
}

// AcceptNotification is broadcast by an acceptor to all learners
// upon accepting a proposal.
type AcceptNotification struct {
	Proposal Proposal `json:"proposal"`
}

// NewLeaderNotify asks every recipient to flag Num as leader and
// clear every other peer's flag.
type NewLeaderNotify struct {
	Num int `json:"num"`
}

// Heartbeat returns an Envelope carrying no payload; its presence on
// the wire is the only signal it conveys.
func Heartbeat(from, to membership.Location) Envelope {
	return Envelope{Kind: KindHeartbeat, From: from, To: to, ID: uuid.New().String()}
}

// Encode writes one JSON-encoded Envelope to w. One Envelope per
// connection; the caller closes the connection after this returns.
// An Envelope built without an ID (every constructor but Heartbeat
// leaves it blank today) is stamped with one here, so every message
// that ever hits the wire carries a log-correlation ID.
func Encode(w io.Writer, env Envelope) error {
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	return json.NewEncoder(w).Encode(env)
}

// Decode reads exactly one JSON-encoded Envelope from r.
func Decode(r io.Reader) (Envelope, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}
