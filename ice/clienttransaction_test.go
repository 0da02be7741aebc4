package ice

import (
	"sync"
	"testing"
	"time"

	"github.com/lanikai/iceagent/stun"
)

// TestRetransmitSchedule checks the concrete send schedule named in
// spec.md §4.2: sends at {0, 100, 300, 700, 1500, 3100, 4700, 6300} ms,
// timing out at 7900ms.
func TestRetransmitSchedule(t *testing.T) {
	sends, timeout := DefaultRetransmitParams.sendTimes()

	want := []time.Duration{
		0, 100 * time.Millisecond, 300 * time.Millisecond, 700 * time.Millisecond,
		1500 * time.Millisecond, 3100 * time.Millisecond, 4700 * time.Millisecond, 6300 * time.Millisecond,
	}
	if len(sends) != len(want) {
		t.Fatalf("got %d send times, want %d: %v", len(sends), len(want), sends)
	}
	for i, s := range sends {
		if s != want[i] {
			t.Errorf("send[%d] = %v, want %v", i, s, want[i])
		}
	}
	if timeout != 7900*time.Millisecond {
		t.Errorf("timeout = %v, want 7900ms", timeout)
	}
}

func TestRetransmitScheduleCapsAtTmax(t *testing.T) {
	p := RetransmitParams{T0: 500 * time.Millisecond, Tmax: 1 * time.Second, N: 3}
	sends, _ := p.sendTimes()
	// Offsets: 0, 500, 1500 (500+1000 capped), 2500 (1500+1000 capped).
	want := []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond, 2500 * time.Millisecond}
	for i, s := range sends {
		if s != want[i] {
			t.Errorf("send[%d] = %v, want %v", i, s, want[i])
		}
	}
}

type recordingSender struct {
	mu    sync.Mutex
	sends int
}

func (r *recordingSender) sendBytes(b []byte, local, remote TransportAddress) error {
	r.mu.Lock()
	r.sends++
	r.mu.Unlock()
	return nil
}

type recordingCollector struct {
	mu       sync.Mutex
	response *stun.Message
	timedOut bool
	done     chan struct{}
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{done: make(chan struct{}, 1)}
}

func (c *recordingCollector) OnResponse(resp *stun.Message, from TransportAddress) {
	c.mu.Lock()
	c.response = resp
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *recordingCollector) OnTimeout() {
	c.mu.Lock()
	c.timedOut = true
	c.mu.Unlock()
	c.done <- struct{}{}
}

func TestClientTransactionDeliversResponseOnce(t *testing.T) {
	req := stun.NewMessage(stun.ClassRequest, stun.MethodBinding, stun.NewTransactionID())
	sender := &recordingSender{}
	collector := newRecordingCollector()

	var removed stun.TransactionID
	removedCh := make(chan struct{}, 1)
	params := RetransmitParams{T0: 5 * time.Millisecond, Tmax: 20 * time.Millisecond, N: 2}

	tx := newClientTransaction(req, TransportAddress{}, TransportAddress{}, collector, sender, params, func(id stun.TransactionID) {
		removed = id
		removedCh <- struct{}{}
	})
	tx.start()

	resp := stun.NewMessage(stun.ClassSuccessResponse, stun.MethodBinding, req.TransactionID)
	tx.deliver(resp, TransportAddress{})

	select {
	case <-collector.done:
	case <-time.After(time.Second):
		t.Fatal("collector never notified")
	}
	select {
	case <-removedCh:
	case <-time.After(time.Second):
		t.Fatal("onDone never called")
	}

	if string(removed.Bytes()) != string(req.TransactionID.Bytes()) {
		t.Errorf("onDone called with wrong transaction id")
	}

	// A second delivery must be ignored.
	tx.deliver(resp, TransportAddress{})
}

// TestClientTransactionCancelWithWaitForResponseStillCleansUp reproduces the
// cancellation-leak fix: cancel(true) must not leave the transaction parked
// forever just because its timeout callback is suppressed.
func TestClientTransactionCancelWithWaitForResponseStillCleansUp(t *testing.T) {
	req := stun.NewMessage(stun.ClassRequest, stun.MethodBinding, stun.NewTransactionID())
	sender := &recordingSender{}
	collector := newRecordingCollector()
	params := RetransmitParams{T0: 2 * time.Millisecond, Tmax: 4 * time.Millisecond, N: 1}

	removedCh := make(chan struct{}, 1)
	tx := newClientTransaction(req, TransportAddress{}, TransportAddress{}, collector, sender, params, func(stun.TransactionID) {
		removedCh <- struct{}{}
	})
	tx.start()
	tx.cancel(true)

	select {
	case <-removedCh:
	case <-time.After(time.Second):
		t.Fatal("cancelled transaction was never removed from its owning table")
	}

	collector.mu.Lock()
	timedOut := collector.timedOut
	collector.mu.Unlock()
	if timedOut {
		t.Error("a cancelled transaction must not report OnTimeout")
	}
}

func TestClientTransactionTimesOutWithoutResponse(t *testing.T) {
	req := stun.NewMessage(stun.ClassRequest, stun.MethodBinding, stun.NewTransactionID())
	sender := &recordingSender{}
	collector := newRecordingCollector()
	params := RetransmitParams{T0: 2 * time.Millisecond, Tmax: 4 * time.Millisecond, N: 1}

	tx := newClientTransaction(req, TransportAddress{}, TransportAddress{}, collector, sender, params, func(stun.TransactionID) {})
	tx.start()

	select {
	case <-collector.done:
	case <-time.After(time.Second):
		t.Fatal("collector never notified of timeout")
	}

	collector.mu.Lock()
	timedOut := collector.timedOut
	collector.mu.Unlock()
	if !timedOut {
		t.Error("expected OnTimeout to have been called")
	}
}
