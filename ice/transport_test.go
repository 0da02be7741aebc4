package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportAddressIPv4(t *testing.T) {
	ta := NewTransportAddress(&net.UDPAddr{
		IP:   net.ParseIP("1.2.3.4"),
		Port: 5678,
	})

	assert.True(t, ta.resolved())
	assert.Equal(t, IPv4, ta.family)
	assert.Equal(t, []byte{1, 2, 3, 4}, []byte(ta.ip))
	assert.Equal(t, "1.2.3.4", ta.displayIP())
	assert.Equal(t, "udp/1.2.3.4:5678", ta.String())
}

func TestTransportAddressIPv6(t *testing.T) {
	ta := NewTransportAddress(&net.UDPAddr{
		IP:   net.ParseIP("1:2:3:4::"),
		Port: 5678,
	})

	assert.True(t, ta.resolved())
	assert.Equal(t, IPv6, ta.family)
	assert.Equal(t, "1:2:3:4::", ta.displayIP())
	assert.Equal(t, "udp/[1:2:3:4::]:5678", ta.String())
}

func TestTransportAddressUnresolved(t *testing.T) {
	ta := NewUnresolvedTransportAddress(UDP, "foo.local", 5678)

	assert.False(t, ta.resolved())
	assert.Equal(t, Unresolved, ta.family)
	assert.Equal(t, IPAddress("foo.local"), ta.ip)
	assert.Equal(t, "foo.local", ta.displayIP())
	assert.Equal(t, "udp/foo.local:5678", ta.String())
}

func TestTransportAddressEqual(t *testing.T) {
	a := NewTransportAddress(&net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 5678})
	b := NewTransportAddress(&net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 5678})
	c := NewTransportAddress(&net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 5679})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestStunAddrRoundTrip(t *testing.T) {
	ta := NewTransportAddress(&net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 32853})
	back := transportAddressFromStun(UDP, ta.stunAddr())
	assert.True(t, ta.Equal(back))
}
