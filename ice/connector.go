package ice

import (
	"net"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Socket is the minimal I/O surface a Connector needs: enough of
// net.PacketConn to send and receive datagrams. A TCP stream is adapted to
// this interface by packetConnFromConn below.
type Socket interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	LocalAddr() net.Addr
	Close() error
}

// Connector owns one bound socket, addressed by local address and,
// for TCP, a fixed remote address (spec.md §3's Connector invariant).
type Connector struct {
	local    TransportAddress
	remote   TransportAddress // zero value (Unresolved) for UDP
	hasPeer  bool
	protocol Protocol
	socket   Socket

	sendMu sync.Mutex

	stop chan struct{}
}

func newConnector(protocol Protocol, local TransportAddress, remote *TransportAddress, socket Socket) *Connector {
	c := &Connector{
		protocol: protocol,
		local:    local,
		socket:   socket,
		stop:     make(chan struct{}),
	}
	if remote != nil {
		c.remote = *remote
		c.hasPeer = true
	}
	return c
}

// SetHopLimit sets the outgoing TTL (IPv4) or hop limit (IPv6) on this
// connector's socket, when it is a *net.UDPConn. Unbound protocols (e.g. a
// TCP connector) return an error.
func (c *Connector) SetHopLimit(hops int) error {
	conn, ok := c.socket.(*net.UDPConn)
	if !ok {
		return errNotUDP
	}
	if c.local.family == IPv6 {
		return ipv6.NewPacketConn(conn).SetHopLimit(hops)
	}
	return ipv4.NewPacketConn(conn).SetTTL(hops)
}

// send writes b to addr, synchronized per spec.md §5 ("send is synchronized
// on the connector").
func (c *Connector) send(b []byte, addr net.Addr) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.socket.WriteTo(b, addr)
	return err
}

// readLoop is the connector's single reader goroutine (receive is
// single-threaded per connector, driven by this loop standing in for an I/O
// reactor). It reports every inbound frame to onFrame until the connector is
// closed.
func (c *Connector) readLoop(onFrame func(b []byte, local, remote TransportAddress)) {
	buf := make([]byte, 1500)
	for {
		n, addr, err := c.socket.ReadFrom(buf)
		if err != nil {
			log.Debug("Connector %s: read loop exiting: %s", c.local, err)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		remote := NewTransportAddress(addr)
		onFrame(data, c.local, remote)
	}
}

func (c *Connector) close() error {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	return c.socket.Close()
}

var errNotUDP = &net.OpError{Op: "sethoplimit", Err: net.UnknownNetworkError("not a UDP connector")}

// less establishes the total order over Connectors the registry's sorted set
// relies on (spec.md §3's Connector ordering invariant).
func (c *Connector) less(other *Connector) bool {
	if c.local.String() != other.local.String() {
		return c.local.String() < other.local.String()
	}
	return c.remote.String() < other.remote.String()
}
