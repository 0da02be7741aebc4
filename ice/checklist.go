package ice

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lanikai/iceagent/stun"
)

// CheckListState tracks a CheckList's overall progress, per spec.md §4.5.
type CheckListState int

const (
	Running CheckListState = iota
	Completed
	Failed
)

// CheckList owns every CandidatePair for one media stream (which may span
// several components) and schedules ordinary and triggered connectivity
// checks against them through a Stack.
type CheckList struct {
	stack       *Stack
	credentials *CredentialsManager
	role        *Role

	mu         sync.Mutex
	pairs      []*CandidatePair
	triggered  []*CandidatePair
	nextPairID int
	state      CheckListState
	selected   map[int]*CandidatePair
	components map[int]bool

	// unfreezeSiblings, if set, is invoked with a succeeded pair's
	// foundation so the CheckLists of the agent's other streams can
	// unfreeze their matching pairs (spec.md §4.5).
	unfreezeSiblings func(foundation string)

	listenerMu sync.Mutex
	listeners  []chan CheckListState

	stop chan struct{}
}

// NewCheckList creates an empty, Running check list bound to stack.
func NewCheckList(stack *Stack, credentials *CredentialsManager, role *Role) *CheckList {
	return &CheckList{
		stack:       stack,
		credentials: credentials,
		role:        role,
		selected:    make(map[int]*CandidatePair),
		components:  make(map[int]bool),
		stop:        make(chan struct{}),
	}
}

// AddCandidatePairs forms the Cartesian product of locals x remotes,
// keeping only compatible pairs, then re-sorts/prunes and assigns initial
// states per spec.md §4.5.
func (cl *CheckList) AddCandidatePairs(locals, remotes []Candidate) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for _, local := range locals {
		cl.components[local.Component] = true
		for _, remote := range remotes {
			if !canBePaired(local, remote) {
				continue
			}
			p := newCandidatePair(cl.newPairID(), local, remote)
			cl.pairs = append(cl.pairs, p)
		}
	}

	cl.pairs = cl.sortAndPrune(cl.pairs)
	cl.assignInitialStates()
}

func (cl *CheckList) newPairID() string {
	cl.nextPairID++
	return "pair#" + strconv.Itoa(cl.nextPairID)
}

// canBePaired implements spec.md §4.5's pairing filter: same component,
// matching transport, matching address family.
func canBePaired(local, remote Candidate) bool {
	return local.Component == remote.Component &&
		local.Address.protocol == remote.Address.protocol &&
		local.Address.family == remote.Address.family
}

// sortAndPrune sorts pairs from highest to lowest priority (using the
// caller-held lock's role) and prunes redundant pairs -- those sharing both
// remote address and local base with a higher-priority pair -- except pairs
// already mid-flight or resolved.
func (cl *CheckList) sortAndPrune(pairs []*CandidatePair) []*CandidatePair {
	controlling := cl.role.Controlling()
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Priority(controlling) > pairs[j].Priority(controlling)
	})

	kept := pairs[:0]
	for i, p := range pairs {
		if p.State == InProgress || p.State == Succeeded || p.State == Failed {
			kept = append(kept, p)
			continue
		}
		redundant := false
		for j := 0; j < i; j++ {
			if isRedundant(p, pairs[j]) {
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, p)
		}
	}
	return kept
}

func isRedundant(p1, p2 *CandidatePair) bool {
	return p1.Remote.Address.Equal(p2.Remote.Address) && p1.Local.Base.Equal(p2.Local.Base)
}

// assignInitialStates groups pairs by foundation; within each group, the
// pair with the lowest component id (ties broken by highest priority)
// becomes Waiting, all others start Frozen.
func (cl *CheckList) assignInitialStates() {
	controlling := cl.role.Controlling()
	groups := make(map[string][]*CandidatePair)
	for _, p := range cl.pairs {
		if p.State != Frozen {
			continue
		}
		groups[p.Foundation] = append(groups[p.Foundation], p)
	}
	for _, group := range groups {
		best := group[0]
		for _, p := range group[1:] {
			switch {
			case p.Component < best.Component:
				best = p
			case p.Component == best.Component && p.Priority(controlling) > best.Priority(controlling):
				best = p
			}
		}
		best.State = Waiting
	}
}

// Tick runs one scheduling step, per spec.md §4.5: drain the triggered FIFO
// first, else promote/pick the highest-priority Waiting pair.
func (cl *CheckList) Tick() {
	p := cl.nextCheck()
	if p == nil {
		cl.updateState()
		return
	}
	cl.sendCheck(p)
}

func (cl *CheckList) nextCheck() *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if len(cl.triggered) > 0 {
		p := cl.triggered[0]
		cl.triggered = cl.triggered[1:]
		p.State = InProgress
		return p
	}

	controlling := cl.role.Controlling()
	var waiting, frozen *CandidatePair
	for _, p := range cl.pairs {
		switch p.State {
		case Waiting:
			if waiting == nil || p.Priority(controlling) > waiting.Priority(controlling) {
				waiting = p
			}
		case Frozen:
			if frozen == nil || p.Priority(controlling) > frozen.Priority(controlling) {
				frozen = p
			}
		}
	}
	if waiting != nil {
		waiting.State = InProgress
		return waiting
	}
	if frozen != nil {
		frozen.State = InProgress
		return frozen
	}
	return nil
}

// sendCheck issues a Binding Request for p, per spec.md §4.5 step 3.
func (cl *CheckList) sendCheck(p *CandidatePair) {
	req := stun.NewMessage(stun.ClassRequest, stun.MethodBinding, stun.NewTransactionID())
	req.AddUsername(cl.credentials.Username())
	req.AddPriority(p.Local.PeerReflexivePriority())
	if cl.role.Controlling() {
		req.AddIceControlling(cl.role.TieBreaker())
	} else {
		req.AddIceControlled(cl.role.TieBreaker())
	}
	req.AddMessageIntegrity(stun.ShortTermKey(cl.credentials.RemotePassword()))

	collector := &checkCollector{cl: cl, pair: p}
	tid := cl.stack.SendRequest(req, p.Remote.Address, p.Local.Address, collector, nil)
	p.tid = string(tid.Bytes())
}

// sendNomination issues the second, USE-CANDIDATE-bearing Binding Request a
// controlling agent sends to nominate an already-Succeeded pair.
func (cl *CheckList) sendNomination(p *CandidatePair) {
	req := stun.NewMessage(stun.ClassRequest, stun.MethodBinding, stun.NewTransactionID())
	req.AddUsername(cl.credentials.Username())
	req.AddPriority(p.Local.PeerReflexivePriority())
	req.AddIceControlling(cl.role.TieBreaker())
	req.AddUseCandidate()
	req.AddMessageIntegrity(stun.ShortTermKey(cl.credentials.RemotePassword()))

	collector := &nominationCollector{cl: cl, pair: p}
	cl.stack.SendRequest(req, p.Remote.Address, p.Local.Address, collector, nil)
}

type checkCollector struct {
	cl   *CheckList
	pair *CandidatePair
}

func (c *checkCollector) OnResponse(resp *stun.Message, from TransportAddress) {
	c.cl.handleResponse(c.pair, resp, from)
}

func (c *checkCollector) OnTimeout() {
	c.cl.mu.Lock()
	c.pair.State = Failed
	c.cl.mu.Unlock()
	c.cl.updateState()
}

type nominationCollector struct {
	cl   *CheckList
	pair *CandidatePair
}

func (c *nominationCollector) OnResponse(resp *stun.Message, from TransportAddress) {
	if resp.Class == stun.ClassSuccessResponse {
		c.cl.HandleNomination(c.pair)
	}
}

func (c *nominationCollector) OnTimeout() {}

// handleResponse implements spec.md §4.5's response-handling table.
func (cl *CheckList) handleResponse(p *CandidatePair, resp *stun.Message, from TransportAddress) {
	if resp.Class == stun.ClassErrorResponse {
		code, _, _ := resp.ErrorCode()
		if code == 487 {
			cl.role.Switch()
			cl.mu.Lock()
			p.State = Waiting
			cl.triggered = append(cl.triggered, p)
			cl.mu.Unlock()
			return
		}
		cl.mu.Lock()
		p.State = Failed
		cl.mu.Unlock()
		cl.updateState()
		return
	}

	mapped, ok := resp.MappedAddress()
	if !ok {
		cl.mu.Lock()
		p.State = Failed
		cl.mu.Unlock()
		cl.updateState()
		return
	}
	mappedAddr := transportAddressFromStun(p.Local.Address.protocol, mapped)

	cl.mu.Lock()
	if mappedAddr.Equal(p.Local.Address) {
		p.State = Succeeded
		pending := p.PendingNomination && !p.Nominated
		cl.mu.Unlock()
		if cl.unfreezeSiblings != nil {
			cl.unfreezeSiblings(p.Foundation)
		}
		if pending {
			cl.HandleNomination(p)
		}
		cl.updateState()
		return
	}

	// New mapped address: synthesize a peer-reflexive local candidate whose
	// base is this pair's local candidate.
	prflx := NewPeerReflexiveCandidate(mappedAddr, p.Local.Address, p.Local.Component, p.Local.PeerReflexivePriority())
	newPair := newCandidatePair(cl.newPairID(), prflx, p.Remote)
	newPair.State = Succeeded
	newPair.PendingNomination = p.PendingNomination
	cl.pairs = append(cl.pairs, newPair)
	pending := newPair.PendingNomination && !newPair.Nominated
	cl.mu.Unlock()
	if pending {
		cl.HandleNomination(newPair)
	}
	cl.updateState()
}

// UnfreezeFoundation transitions any Frozen pair sharing foundation to
// Waiting; called on this check list when a sibling check list reports a
// Succeeded pair for the same foundation.
func (cl *CheckList) UnfreezeFoundation(foundation string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, p := range cl.pairs {
		if p.Foundation == foundation && p.State == Frozen {
			p.State = Waiting
		}
	}
}

// markPendingNomination records that a peer's USE-CANDIDATE referred to p
// before p's own connectivity check succeeded. handleResponse confirms the
// nomination once (and only if) that check actually completes successfully.
func (cl *CheckList) markPendingNomination(p *CandidatePair) {
	cl.mu.Lock()
	p.PendingNomination = true
	cl.mu.Unlock()
}

// AdoptPeerReflexive implements the triggered-check half of spec.md §4.5
// and §4.6: given a Binding Request received on local from remote with the
// peer's chosen priority, return the implied pair if it already exists;
// otherwise create it in Waiting and enqueue it on the triggered FIFO. An
// existing pair is returned unchanged and is not enqueued.
func (cl *CheckList) AdoptPeerReflexive(local, remote TransportAddress, component int, priority uint32) *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for _, p := range cl.pairs {
		if p.Local.Address.Equal(local) && p.Remote.Address.Equal(remote) {
			return p
		}
	}

	localCand := NewHostCandidate(local, component)
	remoteCand := NewPeerReflexiveCandidate(remote, local, component, priority)
	p := newCandidatePair(cl.newPairID(), localCand, remoteCand)
	p.State = Waiting
	cl.pairs = append(cl.pairs, p)
	cl.pairs = cl.sortAndPrune(cl.pairs)
	cl.triggerCheck(p)
	cl.components[component] = true
	log.Debug("Adopted peer-reflexive pair %s", p)
	return p
}

// triggerCheck enqueues p on the triggered FIFO if it isn't already
// in-flight or resolved. Caller must hold cl.mu.
func (cl *CheckList) triggerCheck(p *CandidatePair) {
	if p.State == Frozen || p.State == Waiting {
		cl.triggered = append(cl.triggered, p)
	}
}

// HandleNomination implements spec.md §4.5's nomination-confirmation step:
// the component's selected pair becomes p; every other Waiting/Frozen pair
// in the component is removed, and In-Progress pairs with lower priority
// have their retransmissions cancelled.
func (cl *CheckList) HandleNomination(p *CandidatePair) {
	cl.mu.Lock()

	p.Nominated = true
	p.State = Succeeded
	log.Info("Nominated pair %s for component %d", p, p.Component)
	controlling := cl.role.Controlling()

	kept := cl.pairs[:0]
	for _, q := range cl.pairs {
		if q.Component != p.Component || q == p {
			kept = append(kept, q)
			continue
		}
		switch q.State {
		case Waiting, Frozen:
			continue // removed
		case InProgress:
			if q.Priority(controlling) < p.Priority(controlling) {
				cl.cancelInProgress(q)
			}
		}
		kept = append(kept, q)
	}
	cl.pairs = kept

	triggeredKept := cl.triggered[:0]
	for _, q := range cl.triggered {
		if q.Component == p.Component && q != p {
			continue
		}
		triggeredKept = append(triggeredKept, q)
	}
	cl.triggered = triggeredKept

	cl.selected[p.Component] = p
	cl.mu.Unlock()

	cl.updateState()
}

func (cl *CheckList) cancelInProgress(p *CandidatePair) {
	if p.tid == "" {
		return
	}
	cl.stack.clientMu.Lock()
	tx, ok := cl.stack.client[p.tid]
	cl.stack.clientMu.Unlock()
	if ok {
		tx.cancel(false)
	}
}

// AttemptNomination sends the USE-CANDIDATE-bearing request for a
// controlling agent's regular nomination of a Succeeded pair.
func (cl *CheckList) AttemptNomination(p *CandidatePair) {
	if !cl.role.Controlling() {
		return
	}
	cl.sendNomination(p)
}

// updateState recomputes and publishes CheckList.State per spec.md §4.5.
func (cl *CheckList) updateState() {
	cl.mu.Lock()

	if cl.state != Running {
		cl.mu.Unlock()
		return
	}

	allSelected := len(cl.components) > 0
	for comp := range cl.components {
		if _, ok := cl.selected[comp]; !ok {
			allSelected = false
			break
		}
	}
	if allSelected {
		cl.state = Completed
		cl.mu.Unlock()
		log.Info("Check list completed: every component has a selected pair")
		cl.notifyState(Completed)
		return
	}

	active := false
	anySelected := len(cl.selected) > 0
	for _, p := range cl.pairs {
		if p.State == Waiting || p.State == InProgress || p.State == Frozen {
			active = true
			break
		}
	}
	if !active && !anySelected {
		cl.state = Failed
		cl.mu.Unlock()
		log.Warn("Check list failed: no pair is Waiting/InProgress/Frozen and no component has a selected pair")
		cl.notifyState(Failed)
		return
	}
	cl.mu.Unlock()
}

func (cl *CheckList) notifyState(s CheckListState) {
	cl.listenerMu.Lock()
	defer cl.listenerMu.Unlock()
	for _, ch := range cl.listeners {
		select {
		case ch <- s:
		default:
		}
	}
}

// State returns the check list's current state.
func (cl *CheckList) State() CheckListState {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.state
}

// Selected returns the selected pair for component, if any.
func (cl *CheckList) Selected(component int) (*CandidatePair, bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	p, ok := cl.selected[component]
	return p, ok
}

// Pairs returns a snapshot of the check list's pairs in priority order
// (descending), satisfying the check-list iteration-order property.
func (cl *CheckList) Pairs() []*CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]*CandidatePair, len(cl.pairs))
	copy(out, cl.pairs)
	controlling := cl.role.Controlling()
	sort.Slice(out, func(i, j int) bool { return out[i].Priority(controlling) > out[j].Priority(controlling) })
	return out
}

// Run starts a periodic scheduling goroutine ticking every interval (a
// typical value is 20ms times the number of active check lists, per
// spec.md §4.5) until Stop is called.
func (cl *CheckList) Run(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cl.Tick()
			case <-cl.stop:
				return
			}
		}
	}()
}

// Stop ends the Run loop.
func (cl *CheckList) Stop() {
	select {
	case <-cl.stop:
	default:
		close(cl.stop)
	}
}

