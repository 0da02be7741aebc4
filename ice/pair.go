package ice

import "fmt"

// PairState tracks a CandidatePair through the ICE check-list state machine
// (spec.md §4.5).
type PairState int

const (
	Frozen PairState = iota
	Waiting
	InProgress
	Succeeded
	Failed
)

func (s PairState) String() string {
	switch s {
	case Frozen:
		return "Frozen"
	case Waiting:
		return "Waiting"
	case InProgress:
		return "In-Progress"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// CandidatePair is a candidate pairing eligible for a connectivity check.
type CandidatePair struct {
	id         string
	Local      Candidate
	Remote     Candidate
	Foundation string
	Component  int

	State     PairState
	Nominated bool

	// PendingNomination records that a peer's USE-CANDIDATE arrived before
	// this pair's own connectivity check succeeded. handleResponse consults
	// it once the check completes, so an inbound nomination is confirmed
	// only against a check we actually ran ourselves, never taken on faith.
	PendingNomination bool

	// tid is the transaction ID of the in-flight connectivity check, if
	// State == InProgress; used to cancel retransmissions on nomination.
	tid string
}

func newCandidatePair(id string, local, remote Candidate) *CandidatePair {
	if local.Component != remote.Component {
		panic(fmt.Sprintf("ice: paired candidates have different components: %d != %d", local.Component, remote.Component))
	}
	return &CandidatePair{
		id:         id,
		Local:      local,
		Remote:     remote,
		Foundation: local.Foundation + remote.Foundation,
		Component:  local.Component,
	}
}

func (p *CandidatePair) String() string {
	return fmt.Sprintf("%s: %s -> %s [%s]", p.id, p.Local.Address, p.Remote.Address, p.State)
}

// Priority implements the spec.md §3 pair priority formula, where G/D are
// the controlling/controlled agent's candidate priorities respectively.
func (p *CandidatePair) Priority(controlling bool) uint64 {
	var g, d uint64
	if controlling {
		g, d = uint64(p.Local.Priority), uint64(p.Remote.Priority)
	} else {
		g, d = uint64(p.Remote.Priority), uint64(p.Local.Priority)
	}

	lo, hi := g, d
	if lo > hi {
		lo, hi = hi, lo
	}
	var bit uint64
	if g > d {
		bit = 1
	}
	return lo<<32 + hi<<1 + bit
}
