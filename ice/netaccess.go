package ice

import (
	"net"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// FrameHandler processes one inbound frame reported by a Connector.
type FrameHandler func(b []byte, local, remote TransportAddress)

// NetAccessManager is the registry of bound sockets (spec.md §4.4):
// UDP connectors keyed by local address alone, TCP connectors keyed by
// (local, remote).
type NetAccessManager struct {
	mu  sync.RWMutex
	udp map[string]*Connector
	tcp map[string]*Connector

	onFrame FrameHandler
}

func newNetAccessManager(onFrame FrameHandler) *NetAccessManager {
	return &NetAccessManager{
		udp:     make(map[string]*Connector),
		tcp:     make(map[string]*Connector),
		onFrame: onFrame,
	}
}

// AddSocket registers socket as a Connector for local (and, for TCP, the
// fixed remote peer) and starts its read loop.
func (n *NetAccessManager) AddSocket(protocol Protocol, local TransportAddress, remote *TransportAddress, socket Socket) *Connector {
	c := newConnector(protocol, local, remote, socket)

	n.mu.Lock()
	if protocol == TCP {
		n.tcp[tcpKey(local, c.remote)] = c
	} else {
		n.udp[local.String()] = c
	}
	n.mu.Unlock()

	log.Debug("Registered %s connector on %s", protocol, local)
	go c.readLoop(n.onFrame)
	return c
}

// RemoveSocket unregisters and closes the Connector for (local, remote).
func (n *NetAccessManager) RemoveSocket(protocol Protocol, local TransportAddress, remote *TransportAddress) error {
	n.mu.Lock()
	var c *Connector
	if protocol == TCP && remote != nil {
		key := tcpKey(local, *remote)
		c = n.tcp[key]
		delete(n.tcp, key)
	} else {
		c = n.udp[local.String()]
		delete(n.udp, local.String())
	}
	n.mu.Unlock()

	if c == nil {
		return &ErrNoRoute{Local: local}
	}
	if err := c.close(); err != nil {
		return errors.Wrapf(err, "ice: closing connector on %s", local)
	}
	return nil
}

// Send looks up the Connector that owns local (and, for TCP, remote) and
// writes b to remote over it, per the lookup rules in spec.md §4.4.
func (n *NetAccessManager) Send(b []byte, local, remote TransportAddress) error {
	c := n.lookup(local, remote)
	if c == nil {
		return &ErrNoRoute{Local: local, Remote: remote}
	}
	return c.send(b, remote.netAddr())
}

func (n *NetAccessManager) lookup(local, remote TransportAddress) *Connector {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if remote.protocol == TCP {
		if c, ok := n.tcp[tcpKey(local, remote)]; ok {
			return c
		}
		// No exact (local, remote) match: fall back to an unbound listening
		// Connector that can still negotiate this peer (spec.md §4.4).
		for _, c := range n.tcp {
			if c.local.Equal(local) && !c.hasPeer {
				return c
			}
		}
		return nil
	}

	return n.udp[local.String()]
}

// Connectors returns every registered Connector in the total order defined
// by Connector.less, giving callers (e.g. diagnostics) a stable, sorted view
// of the registry per spec.md §3's ordering invariant.
func (n *NetAccessManager) Connectors() []*Connector {
	n.mu.RLock()
	defer n.mu.RUnlock()

	all := make([]*Connector, 0, len(n.udp)+len(n.tcp))
	for _, c := range n.udp {
		all = append(all, c)
	}
	for _, c := range n.tcp {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].less(all[j]) })
	return all
}

// shutdown closes every registered connector.
func (n *NetAccessManager) shutdown() {
	for _, c := range n.Connectors() {
		_ = c.close()
	}
}

func tcpKey(local, remote TransportAddress) string {
	return local.String() + "|" + remote.String()
}

// ListenUDP opens a UDP socket on addr and registers it with the manager,
// mirroring the stack's usual construction path for a host candidate base.
func (n *NetAccessManager) ListenUDP(addr *net.UDPAddr) (*Connector, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "ice: listen udp on %s", addr)
	}
	local := NewTransportAddress(conn.LocalAddr())
	return n.AddSocket(UDP, local, nil, conn), nil
}
