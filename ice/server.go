package ice

import (
	"github.com/lanikai/iceagent/stun"
)

// ConnCheckServer answers inbound Binding Requests on behalf of one agent,
// per spec.md §4.6: it validates the USERNAME, learns (or confirms) the
// peer's candidate as a pair in the owning CheckList, resolves role
// conflicts, and reflects the request's source address back as
// XOR-MAPPED-ADDRESS.
type ConnCheckServer struct {
	stack       *Stack
	credentials *CredentialsManager
	role        *Role
	checkLists  func() []*CheckList
}

// NewConnCheckServer builds a server that answers Binding Requests for the
// check lists returned by checkLists (called fresh on every request, so
// streams can be added after construction).
func NewConnCheckServer(stack *Stack, credentials *CredentialsManager, role *Role, checkLists func() []*CheckList) *ConnCheckServer {
	s := &ConnCheckServer{stack: stack, credentials: credentials, role: role, checkLists: checkLists}
	stack.AddRequestListener(s)
	return s
}

// OnRequest implements RequestListener.
func (s *ConnCheckServer) OnRequest(req *stun.Message, local, remote TransportAddress, tx *ServerTransaction) {
	if req.Method != stun.MethodBinding {
		return
	}

	username, ok := req.Username()
	if !ok || !s.usernameMatchesLocalUfrag(username) {
		return // not addressed to us; drop silently per spec.md §4.6
	}

	priority, ok := req.Priority()
	if !ok {
		resp := s.errorResponse(req, 400, "Bad Request")
		_ = s.stack.SendResponse(req.TransactionID, resp, local, remote)
		return
	}

	if conflict, controllingWins := s.roleConflict(req); conflict {
		if !controllingWins {
			log.Info("Role conflict with %s: switching role", remote)
			s.role.Switch()
		} else {
			log.Info("Role conflict with %s: keeping our role, rejecting with 487", remote)
			resp := s.errorResponse(req, 487, "Role Conflict")
			resp.AddMessageIntegrity(stun.ShortTermKey(s.credentials.LocalPassword()))
			_ = s.stack.SendResponse(req.TransactionID, resp, local, remote)
			return
		}
	}

	cl := s.findCheckList(local, priority)
	var pair *CandidatePair
	if cl != nil {
		component := componentFromPriorityContext(local, cl)
		pair = cl.AdoptPeerReflexive(local, remote, component, priority)
	}

	// A regular-nomination request is flagged by USE-CANDIDATE; as a
	// documented fallback for peers that never send USE-CANDIDATE (e.g.
	// aggressive-nomination peers), every Binding Request received while
	// this agent is controlled is treated as an implicit nomination of its
	// pair.
	useCandidate := req.Get(stun.AttrUseCandidate) != nil || !s.role.Controlling()
	if useCandidate && pair != nil && cl != nil && !pair.Nominated {
		// Nomination is only confirmed against a check we ran ourselves: if
		// this pair's own connectivity check has already succeeded, confirm
		// it now; otherwise remember the intent and let handleResponse
		// finalize it once that check actually completes.
		if pair.State == Succeeded {
			cl.HandleNomination(pair)
		} else {
			cl.markPendingNomination(pair)
		}
	}

	resp := stun.NewMessage(stun.ClassSuccessResponse, stun.MethodBinding, req.TransactionID)
	resp.AddXorMappedAddress(remote.stunAddr())
	resp.AddUsername(username)
	resp.AddMessageIntegrity(stun.ShortTermKey(s.credentials.LocalPassword()))
	resp.AddFingerprint()

	_ = s.stack.SendResponse(req.TransactionID, resp, local, remote)
}

// usernameMatchesLocalUfrag implements spec.md §4.6's USERNAME check: the
// "ufrag:ufrag" value must start with our local ufrag.
func (s *ConnCheckServer) usernameMatchesLocalUfrag(username string) bool {
	prefix := s.credentials.LocalUfrag() + ":"
	return len(username) >= len(prefix) && username[:len(prefix)] == prefix
}

// roleConflict implements RFC 8445 §7.3.1.1: both sides believe they are
// controlling (or both controlled). controllingWins reports whether our
// tie-breaker wins (we keep our role and the peer must switch).
func (s *ConnCheckServer) roleConflict(req *stun.Message) (conflict bool, controllingWins bool) {
	if theirs, ok := req.IceControlling(); ok {
		if !s.role.Controlling() {
			return false, false
		}
		return true, s.role.TieBreaker() >= theirs
	}
	if theirs, ok := req.IceControlled(); ok {
		if s.role.Controlling() {
			return false, false
		}
		return true, s.role.TieBreaker() >= theirs
	}
	return false, false
}

// findCheckList picks the CheckList a request on "local" belongs to: first
// by an exact existing-pair match, falling back to the first check list
// that has claimed any local address at all. The fallback is exact for the
// common single-stream case; an agent running several concurrent streams on
// distinct local sockets would need to key this by local address instead.
func (s *ConnCheckServer) findCheckList(local TransportAddress, priority uint32) *CheckList {
	lists := s.checkLists()
	for _, cl := range lists {
		for _, p := range cl.Pairs() {
			if p.Local.Address.Equal(local) {
				return cl
			}
		}
	}
	for _, cl := range lists {
		if len(cl.components) > 0 {
			return cl
		}
	}
	return nil
}

func componentFromPriorityContext(local TransportAddress, cl *CheckList) int {
	for comp := range cl.components {
		return comp
	}
	return 1
}

func (s *ConnCheckServer) errorResponse(req *stun.Message, code int, reason string) *stun.Message {
	resp := stun.NewMessage(stun.ClassErrorResponse, req.Method, req.TransactionID)
	resp.AddErrorCode(code, reason)
	return resp
}
