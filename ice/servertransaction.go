package ice

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/iceagent/stun"
)

// serverTransactionLifetime is how long a server transaction's cached
// response remains available to answer retransmitted requests.
const serverTransactionLifetime = 9500 * time.Millisecond

// ServerTransaction caches the response to an inbound request so that
// retransmissions of the same request (by transaction ID) get the same
// answer instead of re-running request processing.
type ServerTransaction struct {
	id     stun.TransactionID
	local  TransportAddress
	remote TransportAddress

	mu             sync.Mutex
	response       []byte
	retransmitting bool
	expiresAt      time.Time
}

func newServerTransaction(id stun.TransactionID, local, remote TransportAddress, now time.Time) *ServerTransaction {
	return &ServerTransaction{
		id:        id,
		local:     local,
		remote:    remote,
		expiresAt: now.Add(serverTransactionLifetime),
	}
}

// setResponse caches resp for replay to retransmissions. Returns
// ErrTransactionAlreadyAnswered if called more than once.
func (tx *ServerTransaction) setResponse(resp []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.retransmitting {
		return errors.Wrapf(ErrTransactionAlreadyAnswered, "transaction %x", tx.id.Bytes())
	}
	tx.response = resp
	tx.retransmitting = true
	return nil
}

// cachedResponse returns the previously-cached response, if any.
func (tx *ServerTransaction) cachedResponse() ([]byte, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.response, tx.retransmitting
}

func (tx *ServerTransaction) expired(now time.Time) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return now.After(tx.expiresAt)
}

// serverTransactionTable is the concurrent map of in-flight/recently
// answered server transactions, swept periodically to bound memory per
// spec.md §5's resource discipline.
type serverTransactionTable struct {
	mu    sync.Mutex
	byID  map[string]*ServerTransaction
	clock func() time.Time
}

func newServerTransactionTable(clock func() time.Time) *serverTransactionTable {
	return &serverTransactionTable{byID: make(map[string]*ServerTransaction), clock: clock}
}

// getOrCreate returns the existing transaction for id, or creates one.
// created reports whether this call created a new entry, so the caller
// knows whether to run full request validation or just replay the cache.
func (t *serverTransactionTable) getOrCreate(id stun.TransactionID, local, remote TransportAddress) (tx *ServerTransaction, created bool) {
	key := string(id.Bytes())
	t.mu.Lock()
	defer t.mu.Unlock()
	if tx, ok := t.byID[key]; ok {
		return tx, false
	}
	tx = newServerTransaction(id, local, remote, t.clock())
	t.byID[key] = tx
	return tx, true
}

func (t *serverTransactionTable) sweep() {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, tx := range t.byID {
		if tx.expired(now) {
			delete(t.byID, k)
		}
	}
}

func (t *serverTransactionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// runSweeper starts a single background sweeper goroutine that evicts
// expired server transactions every interval, until stop is closed.
func (t *serverTransactionTable) runSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-stop:
				return
			}
		}
	}()
}
