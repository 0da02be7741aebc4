package ice

import (
	"net"
	"testing"

	"github.com/lanikai/iceagent/stun"
)

func mustTransportAddr(t *testing.T, ipStr string, port int) TransportAddress {
	t.Helper()
	ip := net.ParseIP(ipStr)
	if ip == nil {
		t.Fatalf("bad IP %q", ipStr)
	}
	return transportAddressFromIP(UDP, ip, port)
}

func newTestRole(controlling bool) *Role {
	return &Role{controlling: controlling, tieBreaker: 42}
}

func TestAddCandidatePairsFormsCartesianProductFilteredByComponent(t *testing.T) {
	cl := NewCheckList(nil, nil, newTestRole(true))

	local1 := NewHostCandidate(mustTransportAddr(t, "10.0.0.1", 1), 1)
	local2 := NewHostCandidate(mustTransportAddr(t, "10.0.0.1", 2), 2)
	remote1 := NewHostCandidate(mustTransportAddr(t, "192.0.2.1", 3478), 1)
	remote2 := NewHostCandidate(mustTransportAddr(t, "192.0.2.1", 3479), 2)

	cl.AddCandidatePairs([]Candidate{local1, local2}, []Candidate{remote1, remote2})

	pairs := cl.Pairs()
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2 (cross-component pairs must be excluded): %v", len(pairs), pairs)
	}
	for _, p := range pairs {
		if p.Local.Component != p.Remote.Component {
			t.Errorf("pair %s mixes components", p)
		}
	}
}

func TestInitialStatesOneWaitingPerFoundation(t *testing.T) {
	cl := NewCheckList(nil, nil, newTestRole(true))

	base := mustTransportAddr(t, "10.0.0.1", 1)
	local := NewHostCandidate(base, 1)
	remote1 := NewHostCandidate(mustTransportAddr(t, "192.0.2.1", 1), 1)
	remote2 := NewHostCandidate(mustTransportAddr(t, "192.0.2.2", 1), 1)

	cl.AddCandidatePairs([]Candidate{local}, []Candidate{remote1, remote2})

	waiting := 0
	for _, p := range cl.Pairs() {
		if p.State == Waiting {
			waiting++
		}
		if p.State != Waiting && p.State != Frozen {
			t.Errorf("unexpected initial state %s for pair %s", p.State, p)
		}
	}
	if waiting != 2 {
		t.Errorf("got %d Waiting pairs, want 2 (one per distinct foundation)", waiting)
	}
}

func TestSortAndPruneDropsRedundantPairs(t *testing.T) {
	cl := NewCheckList(nil, nil, newTestRole(true))

	base := mustTransportAddr(t, "10.0.0.1", 1)
	hostLocal := NewHostCandidate(base, 1)
	srflxLocal := NewServerReflexiveCandidate(mustTransportAddr(t, "203.0.113.5", 9999), base, 1, "stun.example.com")
	remote := NewHostCandidate(mustTransportAddr(t, "192.0.2.1", 1), 1)

	cl.AddCandidatePairs([]Candidate{hostLocal, srflxLocal}, []Candidate{remote})

	pairs := cl.Pairs()
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1 (srflx pair sharing a base with a higher-priority host pair is redundant): %v", len(pairs), pairs)
	}
	if pairs[0].Local.Type != Host {
		t.Errorf("surviving pair should be the higher-priority host pair, got %s", pairs[0].Local.Type)
	}
}

func TestPairsOrderedByDescendingPriority(t *testing.T) {
	cl := NewCheckList(nil, nil, newTestRole(true))

	local := NewHostCandidate(mustTransportAddr(t, "10.0.0.1", 1), 1)
	remoteLow := Candidate{
		Address: mustTransportAddr(t, "192.0.2.1", 1), Type: Host,
		Base: mustTransportAddr(t, "192.0.2.1", 1), Priority: 10, Foundation: "aaaaaaaa", Component: 1,
	}
	remoteHigh := Candidate{
		Address: mustTransportAddr(t, "192.0.2.2", 1), Type: Host,
		Base: mustTransportAddr(t, "192.0.2.2", 1), Priority: 1000000, Foundation: "bbbbbbbb", Component: 1,
	}

	cl.AddCandidatePairs([]Candidate{local}, []Candidate{remoteLow, remoteHigh})

	pairs := cl.Pairs()
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	if pairs[0].Priority(true) < pairs[1].Priority(true) {
		t.Errorf("pairs not sorted descending by priority: %v", pairs)
	}
}

func TestAdoptPeerReflexiveCreatesWaitingPairAndTriggersCheck(t *testing.T) {
	cl := NewCheckList(nil, nil, newTestRole(false))

	local := mustTransportAddr(t, "10.0.0.1", 1)
	remote := mustTransportAddr(t, "192.0.2.9", 55555)

	p := cl.AdoptPeerReflexive(local, remote, 1, 12345)
	if p.State != Waiting && p.State != InProgress {
		t.Errorf("adopted pair should be queued for a check, got state %s", p.State)
	}
	if p.Remote.Type != PeerReflexive {
		t.Errorf("adopted pair's remote candidate should be peer-reflexive, got %s", p.Remote.Type)
	}

	// Re-adopting the same (local, remote) must return the existing pair,
	// not create a duplicate.
	p2 := cl.AdoptPeerReflexive(local, remote, 1, 12345)
	if p2 != p {
		t.Error("AdoptPeerReflexive created a duplicate pair for an existing (local, remote)")
	}
}

func TestHandleNominationSelectsPairAndPrunesComponent(t *testing.T) {
	cl := NewCheckList(nil, nil, newTestRole(true))

	local := NewHostCandidate(mustTransportAddr(t, "10.0.0.1", 1), 1)
	remoteA := NewHostCandidate(mustTransportAddr(t, "192.0.2.1", 1), 1)
	remoteB := NewHostCandidate(mustTransportAddr(t, "192.0.2.2", 1), 1)

	cl.AddCandidatePairs([]Candidate{local}, []Candidate{remoteA, remoteB})

	pairs := cl.Pairs()
	winner := pairs[0]
	winner.State = Succeeded

	cl.HandleNomination(winner)

	selected, ok := cl.Selected(1)
	if !ok || selected != winner {
		t.Fatalf("expected %s selected for component 1, got %v (ok=%v)", winner, selected, ok)
	}
	if !winner.Nominated {
		t.Error("winning pair should be marked Nominated")
	}

	for _, p := range cl.Pairs() {
		if p != winner && p.Component == 1 {
			t.Errorf("non-winning pair %s should have been pruned from the component", p)
		}
	}

	if cl.State() != Completed {
		t.Errorf("check list with every component selected should be Completed, got %v", cl.State())
	}
}

// TestPendingNominationIsNotConfirmedUntilOwnCheckSucceeds reproduces the
// server-side gating fix: an inbound USE-CANDIDATE must not finalize
// nomination against a pair whose own connectivity check hasn't succeeded
// yet. It only takes effect once handleResponse observes that pair's check
// actually succeed.
func TestPendingNominationIsNotConfirmedUntilOwnCheckSucceeds(t *testing.T) {
	cl := NewCheckList(nil, nil, newTestRole(false))

	local := NewHostCandidate(mustTransportAddr(t, "10.0.0.1", 1), 1)
	remote := NewHostCandidate(mustTransportAddr(t, "192.0.2.1", 1), 1)
	cl.AddCandidatePairs([]Candidate{local}, []Candidate{remote})

	p := cl.Pairs()[0]
	p.State = InProgress

	cl.markPendingNomination(p)
	if _, ok := cl.Selected(1); ok {
		t.Fatal("pending nomination must not select a pair before its own check succeeds")
	}

	resp := stun.NewMessage(stun.ClassSuccessResponse, stun.MethodBinding, stun.NewTransactionID())
	resp.AddXorMappedAddress(p.Local.Address.stunAddr())

	cl.handleResponse(p, resp, p.Remote.Address)

	selected, ok := cl.Selected(1)
	if !ok || selected != p {
		t.Fatalf("expected pending-nominated pair to be selected once its check succeeded, got %v (ok=%v)", selected, ok)
	}
	if !p.Nominated {
		t.Error("pair should be marked Nominated once its pending nomination is confirmed")
	}
}

func TestCheckListFailsWhenNoPairCanSucceed(t *testing.T) {
	cl := NewCheckList(nil, nil, newTestRole(true))

	local := NewHostCandidate(mustTransportAddr(t, "10.0.0.1", 1), 1)
	remote := NewHostCandidate(mustTransportAddr(t, "192.0.2.1", 1), 1)
	cl.AddCandidatePairs([]Candidate{local}, []Candidate{remote})

	for _, p := range cl.Pairs() {
		p.State = Failed
	}
	cl.updateState()

	if cl.State() != Failed {
		t.Errorf("check list with no viable pair should be Failed, got %v", cl.State())
	}
}
