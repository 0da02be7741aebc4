package ice

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// Role identifies which side of a connectivity check an agent is playing:
// the controlling agent nominates pairs; the controlled agent waits to be
// told which pair was selected. See RFC 8445 §3 and spec.md §4.6.
type Role struct {
	mu          sync.Mutex
	controlling bool
	tieBreaker  uint64
}

// NewRole creates a Role with a random tie-breaker, per RFC 8445 §16.1 (a
// uniformly random 64-bit value used to resolve simultaneous role
// conflicts).
func NewRole(controlling bool) *Role {
	return &Role{controlling: controlling, tieBreaker: randomTieBreaker()}
}

func randomTieBreaker() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

func (r *Role) Controlling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controlling
}

func (r *Role) TieBreaker() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tieBreaker
}

// Switch flips controlling <-> controlled, in response to a role conflict
// (spec.md §4.5 and §4.6).
func (r *Role) Switch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controlling = !r.controlling
}

// Agent composes one role, one credential set, one Stack, and a CheckList
// per media stream into the single object an application drives: add
// candidates, start checking, observe the selected pairs. This mirrors the
// teacher's own top-level Agent, generalized from one hardcoded stream to
// the spec's arbitrary stream/component layout.
type Agent struct {
	Role        *Role
	Credentials *CredentialsManager
	Stack       *Stack
	Server      *ConnCheckServer

	mu         sync.Mutex
	checkLists map[string]*CheckList // keyed by stream/media id
}

// NewAgent wires a Stack, a connectivity-check server, and an empty set of
// check lists around the given role and credentials.
func NewAgent(controlling bool, credentials *CredentialsManager, config StackConfig) *Agent {
	a := &Agent{
		Role:        NewRole(controlling),
		Credentials: credentials,
		Stack:       NewStack(credentials, config),
		checkLists:  make(map[string]*CheckList),
	}
	a.Server = NewConnCheckServer(a.Stack, credentials, a.Role, a.allCheckLists)
	return a
}

// AddStream creates (if absent) and returns the CheckList for a media id,
// e.g. "audio" or "video", or "0"/"1" for SDP m-line indices.
func (a *Agent) AddStream(media string) *CheckList {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cl, ok := a.checkLists[media]; ok {
		return cl
	}
	cl := NewCheckList(a.Stack, a.Credentials, a.Role)
	cl.unfreezeSiblings = a.unfreezeSiblings(media)
	a.checkLists[media] = cl
	return cl
}

// Stream returns the CheckList previously created by AddStream, if any.
func (a *Agent) Stream(media string) (*CheckList, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cl, ok := a.checkLists[media]
	return cl, ok
}

func (a *Agent) allCheckLists() []*CheckList {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*CheckList, 0, len(a.checkLists))
	for _, cl := range a.checkLists {
		out = append(out, cl)
	}
	return out
}

// unfreezeSiblings returns a closure a CheckList can call to propagate a
// foundation's success to every other stream's check list, per spec.md
// §4.5's cross-check-list unfreezing rule.
func (a *Agent) unfreezeSiblings(media string) func(foundation string) {
	return func(foundation string) {
		a.mu.Lock()
		siblings := make([]*CheckList, 0, len(a.checkLists))
		for m, cl := range a.checkLists {
			if m != media {
				siblings = append(siblings, cl)
			}
		}
		a.mu.Unlock()
		for _, cl := range siblings {
			cl.UnfreezeFoundation(foundation)
		}
	}
}

// Run starts every stream's check list scheduling loop.
func (a *Agent) Run(interval time.Duration) {
	for _, cl := range a.allCheckLists() {
		cl.Run(interval)
	}
}

// Shutdown stops every check list and the underlying stack.
func (a *Agent) Shutdown() {
	for _, cl := range a.allCheckLists() {
		cl.Stop()
	}
	a.Stack.Shutdown()
}
