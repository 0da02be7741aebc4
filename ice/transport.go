package ice

import (
	"fmt"
	"net"
	"strings"

	"github.com/lanikai/iceagent/stun"
)

// Protocol identifies the transport a TransportAddress or Candidate speaks.
type Protocol string

const (
	UDP Protocol = "udp"
	TCP Protocol = "tcp"
)

// Family classifies an IP address, including the unresolved case for
// addresses carried only as a hostname (e.g. before DNS resolution by an
// external harvester).
type Family int

const (
	Unresolved Family = iota
	IPv4
	IPv6
)

// IPAddress is either the raw (4- or 16-byte) bytes of a resolved address,
// or a hostname string when unresolved.
type IPAddress string

// TransportAddress is (IP bytes or hostname, port, transport). Equality is
// bytewise over all three fields, so it's a plain comparable value type.
type TransportAddress struct {
	protocol Protocol
	ip       IPAddress
	family   Family
	port     int
}

// NewTransportAddress builds a resolved TransportAddress from a net.Addr.
func NewTransportAddress(addr net.Addr) TransportAddress {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return transportAddressFromIP(TCP, a.IP, a.Port)
	case *net.UDPAddr:
		return transportAddressFromIP(UDP, a.IP, a.Port)
	default:
		panic("ice: unsupported net.Addr type: " + addr.String())
	}
}

// NewUnresolvedTransportAddress builds a TransportAddress carrying a
// hostname that has not yet been resolved to an IP address.
func NewUnresolvedTransportAddress(protocol Protocol, host string, port int) TransportAddress {
	return TransportAddress{protocol: protocol, ip: IPAddress(host), family: Unresolved, port: port}
}

func transportAddressFromIP(protocol Protocol, ip net.IP, port int) TransportAddress {
	if v4 := ip.To4(); v4 != nil {
		return TransportAddress{protocol: protocol, ip: IPAddress(v4), family: IPv4, port: port}
	}
	v6 := ip.To16()
	return TransportAddress{protocol: protocol, ip: IPAddress(v6), family: IPv6, port: port}
}

// transportAddressFromStun converts a wire-level stun.Addr, decoded off a
// STUN message, into a TransportAddress on the given transport.
func transportAddressFromStun(protocol Protocol, addr stun.Addr) TransportAddress {
	return transportAddressFromIP(protocol, addr.IP, addr.Port)
}

// stunAddr converts to the minimal wire-level address the stun package
// codec operates on.
func (ta TransportAddress) stunAddr() stun.Addr {
	return stun.Addr{IP: ta.ipNet(), Port: ta.port}
}

func (ta TransportAddress) ipNet() net.IP {
	switch ta.family {
	case IPv4, IPv6:
		return net.IP(ta.ip)
	default:
		return nil
	}
}

func (ta TransportAddress) resolved() bool {
	return ta.family != Unresolved
}

func (ta TransportAddress) displayIP() string {
	if ta.resolved() {
		return ta.ipNet().String()
	}
	return string(ta.ip)
}

// netAddr converts back to a standard library net.Addr, for use when
// actually sending on a socket. Panics if unresolved; callers must resolve
// before reaching the network-access layer.
func (ta TransportAddress) netAddr() net.Addr {
	if !ta.resolved() {
		panic("ice: netAddr on unresolved TransportAddress " + ta.String())
	}
	switch ta.protocol {
	case TCP:
		return &net.TCPAddr{IP: ta.ipNet(), Port: ta.port}
	default:
		return &net.UDPAddr{IP: ta.ipNet(), Port: ta.port}
	}
}

// Equal compares all three fields bytewise, per the data model's equality
// rule; two TransportAddress values with different Family never compare
// equal even if one happens to be the IPv4-in-IPv6 form of the other's
// bytes, since resolution always normalizes to the narrower family.
func (ta TransportAddress) Equal(other TransportAddress) bool {
	return ta.protocol == other.protocol &&
		ta.family == other.family &&
		ta.ip == other.ip &&
		ta.port == other.port
}

func (ta TransportAddress) String() string {
	host := ta.displayIP()
	if ta.family == IPv6 {
		return fmt.Sprintf("%s/[%s]:%d", ta.protocol, host, ta.port)
	}
	return fmt.Sprintf("%s/%s:%d", ta.protocol, host, ta.port)
}

func (p Protocol) normalize() Protocol {
	return Protocol(strings.ToLower(string(p)))
}

// resolveTransportAddress resolves a host:port pair (as found in an SDP
// candidate line) to a TransportAddress over the given protocol. DNS
// resolution itself belongs to the harvester/gathering layer, but a literal
// IP given here resolves synchronously with no network I/O.
func resolveTransportAddress(protocol Protocol, host string, port int) (TransportAddress, error) {
	hostport := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	switch protocol {
	case TCP:
		addr, err := net.ResolveTCPAddr("tcp", hostport)
		if err != nil {
			return TransportAddress{}, err
		}
		return NewTransportAddress(addr), nil
	default:
		addr, err := net.ResolveUDPAddr("udp", hostport)
		if err != nil {
			return TransportAddress{}, err
		}
		return NewTransportAddress(addr), nil
	}
}
