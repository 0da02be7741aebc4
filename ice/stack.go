package ice

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/iceagent/internal/logging"
	"github.com/lanikai/iceagent/stun"
)

var log = logging.DefaultLogger.WithTag("ice")

// RequestListener handles inbound Binding (or other) Requests. tx is
// provided so the listener can call Stack.SendResponse exactly once.
type RequestListener interface {
	OnRequest(req *stun.Message, local, remote TransportAddress, tx *ServerTransaction)
}

// IndicationListener handles inbound Indications delivered to a given local
// address.
type IndicationListener interface {
	OnIndication(ind *stun.Message, local, remote TransportAddress)
}

// Stack composes the message codec, transaction tables, network-access
// registry, and credentials into the single entry point described in
// spec.md §6: send_request/send_response/send_indication plus listener
// registration.
type Stack struct {
	config StackConfig

	net         *NetAccessManager
	credentials *CredentialsManager

	clientMu sync.Mutex
	client   map[string]*ClientTransaction

	server *serverTransactionTable

	listenerMu        sync.RWMutex
	requestListeners  []RequestListener
	indicationByLocal map[string][]IndicationListener

	stop      chan struct{}
	closeOnce sync.Once
}

// NewStack constructs a Stack with the given credentials and configuration.
func NewStack(credentials *CredentialsManager, config StackConfig) *Stack {
	s := &Stack{
		config:            config,
		credentials:       credentials,
		client:            make(map[string]*ClientTransaction),
		indicationByLocal: make(map[string][]IndicationListener),
		stop:              make(chan struct{}),
	}
	s.net = newNetAccessManager(s.dispatch)
	s.server = newServerTransactionTable(time.Now)
	s.server.runSweeper(time.Second, s.stop)
	return s
}

// AddSocket registers a bound socket with the stack's network-access layer.
func (s *Stack) AddSocket(protocol Protocol, local TransportAddress, remote *TransportAddress, socket Socket) *Connector {
	return s.net.AddSocket(protocol, local, remote, socket)
}

// AddUDPSocket listens on addr and registers the resulting socket, returning
// the TransportAddress the stack now owns (useful as a Host candidate base).
func (s *Stack) AddUDPSocket(addr *net.UDPAddr) (TransportAddress, error) {
	c, err := s.net.ListenUDP(addr)
	if err != nil {
		return TransportAddress{}, err
	}
	return c.local, nil
}

// RemoveSocket unregisters and closes a previously-added socket.
func (s *Stack) RemoveSocket(protocol Protocol, local TransportAddress, remote *TransportAddress) error {
	return s.net.RemoveSocket(protocol, local, remote)
}

// AddRequestListener registers a listener invoked for every newly-created
// server transaction. Replayed retransmissions reach it only when
// StackConfig.PropagateRetransmissions is set.
func (s *Stack) AddRequestListener(l RequestListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.requestListeners = append(s.requestListeners, l)
}

// AddIndicationListener registers a listener for indications arriving on
// local.
func (s *Stack) AddIndicationListener(local TransportAddress, l IndicationListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	key := local.String()
	s.indicationByLocal[key] = append(s.indicationByLocal[key], l)
}

// SendRequest sends req to "to" via the connector bound to "via", tracking
// it as a client transaction reported to collector.
func (s *Stack) SendRequest(req *stun.Message, to, via TransportAddress, collector TransactionCollector, params *RetransmitParams) stun.TransactionID {
	p := DefaultRetransmitParams
	if params != nil {
		p = *params
	}

	tx := newClientTransaction(req, via, to, collector, stackSender{s}, p, s.removeClientTransaction)
	s.clientMu.Lock()
	s.client[txKey(req.TransactionID)] = tx
	s.clientMu.Unlock()

	log.Debug("Sending method %v request %x to %s via %s", req.Method, req.TransactionID.Bytes(), to, via)
	tx.start()
	return req.TransactionID
}

// SendResponse sends resp for the server transaction identified by tid, via
// the connector bound to "via", to the peer "to". It fails with
// ErrTransactionAlreadyAnswered if called twice for the same transaction.
func (s *Stack) SendResponse(tid stun.TransactionID, resp *stun.Message, via, to TransportAddress) error {
	key := string(tid.Bytes())
	s.server.mu.Lock()
	tx, ok := s.server.byID[key]
	s.server.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrTransactionDoesNotExist, "transaction %x", tid.Bytes())
	}

	b := resp.Encode()
	if err := tx.setResponse(b); err != nil {
		return err
	}
	if err := s.net.Send(b, via, to); err != nil {
		return errors.Wrapf(err, "ice: sending response for transaction %x", tid.Bytes())
	}
	return nil
}

// SendIndication sends an indication; indications are fire-and-forget, with
// no transaction tracking.
func (s *Stack) SendIndication(ind *stun.Message, to, via TransportAddress) error {
	return s.net.Send(ind.Encode(), via, to)
}

// Shutdown cancels all outstanding transactions and closes every connector.
func (s *Stack) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.stop)
		// cancel(false) removes the transaction from s.client through
		// removeClientTransaction, which takes clientMu itself, so the
		// transactions are collected first and cancelled without the lock.
		s.clientMu.Lock()
		txs := make([]*ClientTransaction, 0, len(s.client))
		for _, tx := range s.client {
			txs = append(txs, tx)
		}
		s.clientMu.Unlock()
		for _, tx := range txs {
			tx.cancel(false)
		}
		s.net.shutdown()
	})
}

func (s *Stack) removeClientTransaction(id stun.TransactionID) {
	s.clientMu.Lock()
	delete(s.client, txKey(id))
	s.clientMu.Unlock()
}

// dispatch is the NetAccessManager's inbound frame handler: decode, then
// route per spec.md §4.4.
func (s *Stack) dispatch(b []byte, local, remote TransportAddress) {
	msg, err := stun.Decode(b)
	if err != nil && msg != nil && msg.Class == stun.ClassRequest {
		// The header decoded but an attribute did not: answer 400.
		tx, created := s.server.getOrCreate(msg.TransactionID, local, remote)
		if created {
			_ = s.SendResponse(msg.TransactionID, s.errorResponse(msg, 400, "Bad Request"), local, remote)
		} else if cached, ok := tx.cachedResponse(); ok {
			_ = s.net.Send(cached, local, remote)
		}
		return
	}
	if err != nil || msg == nil {
		return
	}

	switch msg.Class {
	case stun.ClassSuccessResponse, stun.ClassErrorResponse:
		s.dispatchResponse(msg, remote)
	case stun.ClassRequest:
		s.dispatchRequest(b, msg, local, remote)
	case stun.ClassIndication:
		s.dispatchIndication(msg, local, remote)
	}
}

func (s *Stack) dispatchResponse(msg *stun.Message, remote TransportAddress) {
	s.clientMu.Lock()
	tx, ok := s.client[txKey(msg.TransactionID)]
	s.clientMu.Unlock()
	if !ok {
		log.Debug("Dropping response %x: no matching transaction", msg.TransactionID.Bytes())
		return // phantom response, dropped silently
	}
	tx.deliver(msg, remote)
}

func (s *Stack) dispatchRequest(raw []byte, msg *stun.Message, local, remote TransportAddress) {
	tx, created := s.server.getOrCreate(msg.TransactionID, local, remote)
	if !created {
		if cached, ok := tx.cachedResponse(); ok {
			_ = s.net.Send(cached, local, remote)
		}
		if s.config.PropagateRetransmissions {
			s.notifyRequestListeners(msg, local, remote, tx)
		}
		return
	}

	if len(msg.UnknownAttributes) > 0 {
		log.Warn("Rejecting request from %s: unknown comprehension-required attributes %v", remote, msg.UnknownAttributes)
		resp := s.errorResponse(msg, 420, "Unknown Attribute")
		resp.AddUnknownAttributes(msg.UnknownAttributes)
		_ = s.SendResponse(msg.TransactionID, resp, local, remote)
		return
	}

	if s.config.RequireIntegrity || msg.Get(stun.AttrMessageIntegrity) != nil {
		if !s.validateIntegrity(raw, msg) {
			log.Warn("Rejecting request from %s: failed MESSAGE-INTEGRITY check", remote)
			resp := s.errorResponse(msg, 401, "Unauthorized")
			_ = s.SendResponse(msg.TransactionID, resp, local, remote)
			s.server.mu.Lock()
			delete(s.server.byID, string(msg.TransactionID.Bytes()))
			s.server.mu.Unlock()
			return
		}
	}

	if err := stun.CheckFingerprint(raw); err != nil {
		log.Warn("Dropping request from %s: %s", remote, err)
		s.server.mu.Lock()
		delete(s.server.byID, string(msg.TransactionID.Bytes()))
		s.server.mu.Unlock()
		return
	}

	s.notifyRequestListeners(msg, local, remote, tx)
}

// notifyRequestListeners fires every registered RequestListener for msg. It
// is called both for newly-created server transactions and, when
// StackConfig.PropagateRetransmissions is set, for retransmissions of a
// request the stack already answered (spec.md §6).
func (s *Stack) notifyRequestListeners(msg *stun.Message, local, remote TransportAddress, tx *ServerTransaction) {
	s.listenerMu.RLock()
	listeners := append([]RequestListener(nil), s.requestListeners...)
	s.listenerMu.RUnlock()
	for _, l := range listeners {
		l.OnRequest(msg, local, remote, tx)
	}
}

func (s *Stack) dispatchIndication(msg *stun.Message, local, remote TransportAddress) {
	s.listenerMu.RLock()
	listeners := append([]IndicationListener(nil), s.indicationByLocal[local.String()]...)
	s.listenerMu.RUnlock()
	for _, l := range listeners {
		l.OnIndication(msg, local, remote)
	}
}

func (s *Stack) validateIntegrity(raw []byte, msg *stun.Message) bool {
	username, ok := msg.Username()
	if !ok {
		return false
	}
	key, ok := s.credentials.LocalKey(username)
	if !ok {
		return false
	}
	return stun.VerifyMessageIntegrity(raw, key)
}

func (s *Stack) errorResponse(req *stun.Message, code int, reason string) *stun.Message {
	resp := stun.NewMessage(stun.ClassErrorResponse, req.Method, req.TransactionID)
	resp.AddErrorCode(code, reason)
	return resp
}

func txKey(id stun.TransactionID) string { return string(id.Bytes()) }

// stackSender adapts Stack to the transportSender interface client
// transactions use to send bytes without depending on Stack directly.
type stackSender struct{ s *Stack }

func (ss stackSender) sendBytes(b []byte, local, remote TransportAddress) error {
	return ss.s.net.Send(b, local, remote)
}
