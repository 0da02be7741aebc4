package ice

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/iceagent/stun"
)

// RetransmitParams configures the RFC 5389 §7.2.1 retransmission schedule:
// an initial request, then n retransmits with the retransmit interval
// doubling from t0 up to a ceiling of tmax, followed by one final wait of
// tmax before the transaction times out.
type RetransmitParams struct {
	T0   time.Duration
	Tmax time.Duration
	N    int
}

// DefaultRetransmitParams reproduces the concrete send schedule {0, 100,
// 300, 700, 1500, 3100, 4700, 6300} ms with a timeout at 7900 ms: 7
// retransmits after the initial send, doubling from 100ms and capping at
// 1600ms.
var DefaultRetransmitParams = RetransmitParams{
	T0:   100 * time.Millisecond,
	Tmax: 1600 * time.Millisecond,
	N:    7,
}

// sendTimes returns the absolute offsets (from transaction start) at which
// the request should be (re)sent, followed by the timeout offset.
func (p RetransmitParams) sendTimes() (sends []time.Duration, timeout time.Duration) {
	sends = append(sends, 0)
	delay := p.T0
	for i := 0; i < p.N; i++ {
		sends = append(sends, sends[len(sends)-1]+delay)
		delay *= 2
		if delay > p.Tmax {
			delay = p.Tmax
		}
	}
	timeout = sends[len(sends)-1] + p.Tmax
	return
}

// TransactionCollector receives the outcome of a client transaction.
type TransactionCollector interface {
	OnResponse(resp *stun.Message, from TransportAddress)
	OnTimeout()
}

// transportSender abstracts the stack's outbound path so client
// transactions don't need to know about connectors directly.
type transportSender interface {
	sendBytes(b []byte, local, remote TransportAddress) error
}

// ClientTransaction drives one outstanding request through the RFC 5389
// retransmission schedule until a correlated response arrives, it is
// cancelled, or it times out.
type ClientTransaction struct {
	id      stun.TransactionID
	request *stun.Message
	local   TransportAddress
	remote  TransportAddress

	collector TransactionCollector
	sender    transportSender
	params    RetransmitParams

	mu        sync.Mutex
	cancelled bool
	answered  bool
	timer     *time.Timer
	onDone    func(stun.TransactionID) // removes this transaction from the owning table
}

func newClientTransaction(req *stun.Message, local, remote TransportAddress, collector TransactionCollector, sender transportSender, params RetransmitParams, onDone func(stun.TransactionID)) *ClientTransaction {
	return &ClientTransaction{
		id:        req.TransactionID,
		request:   req,
		local:     local,
		remote:    remote,
		collector: collector,
		sender:    sender,
		params:    params,
		onDone:    onDone,
	}
}

// start sends the initial request and schedules retransmits/timeout.
func (tx *ClientTransaction) start() {
	sends, timeout := tx.params.sendTimes()
	b := tx.request.Encode()

	for _, at := range sends[1:] {
		at := at
		time.AfterFunc(at, func() { tx.retransmit(b) })
	}
	tx.timer = time.AfterFunc(timeout, tx.expire)

	if err := tx.sender.sendBytes(b, tx.local, tx.remote); err != nil {
		log.Warn("%s", errors.Wrapf(err, "ice: sending transaction %x", tx.id.Bytes()))
	}
}

func (tx *ClientTransaction) retransmit(b []byte) {
	tx.mu.Lock()
	done := tx.cancelled || tx.answered
	tx.mu.Unlock()
	if done {
		return
	}
	if err := tx.sender.sendBytes(b, tx.local, tx.remote); err != nil {
		log.Warn("%s", errors.Wrapf(err, "ice: retransmitting transaction %x", tx.id.Bytes()))
	}
}

func (tx *ClientTransaction) expire() {
	tx.mu.Lock()
	answered := tx.answered
	cancelled := tx.cancelled
	tx.mu.Unlock()
	if answered {
		return
	}

	// A transaction cancelled with waitForResponse=true reaches this point
	// without ever calling finish(): it must still be pulled from the
	// owning table once its timer fires, just without reporting a timeout
	// the caller never asked to hear about.
	tx.finish()
	if !cancelled {
		tx.collector.OnTimeout()
	}
}

// deliver correlates an inbound response to this transaction. It must only
// be called once per transaction by the stack's dispatcher.
func (tx *ClientTransaction) deliver(resp *stun.Message, from TransportAddress) {
	tx.mu.Lock()
	if tx.cancelled || tx.answered {
		tx.mu.Unlock()
		return
	}
	tx.answered = true
	tx.mu.Unlock()

	if tx.timer != nil {
		tx.timer.Stop()
	}
	tx.finish()
	tx.collector.OnResponse(resp, from)
}

// cancel stops further retransmits. If waitForResponse is false, the
// transaction is torn down immediately; if true, retransmits stop but the
// timeout timer keeps running and removes the transaction from the owning
// table, without reporting a timeout, once it fires.
func (tx *ClientTransaction) cancel(waitForResponse bool) {
	tx.mu.Lock()
	tx.cancelled = true
	tx.mu.Unlock()

	if !waitForResponse && tx.timer != nil {
		tx.timer.Stop()
		tx.finish()
	}
}

func (tx *ClientTransaction) finish() {
	if tx.onDone != nil {
		tx.onDone(tx.id)
	}
}
