package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func udpAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestParseCandidateSDP(t *testing.T) {
	desc := "candidate:8TB368O9 1 udp 2130706431 192.168.1.1 12345 typ host"
	c, err := ParseCandidateSDP(desc)
	if !assert.NoError(t, err) {
		return
	}

	assert.Equal(t, "8TB368O9", c.Foundation)
	assert.Equal(t, 1, c.Component)
	assert.Equal(t, UDP, c.Address.protocol)
	assert.Equal(t, "192.168.1.1", c.Address.displayIP())
	assert.Equal(t, 12345, c.Address.port)
	assert.Equal(t, uint32(2130706431), c.Priority)
	assert.Equal(t, Host, c.Type)
}

func TestParseCandidateSDPWithExtensions(t *testing.T) {
	desc := "candidate:F00 1 udp 1694498815 203.0.113.1 54321 typ srflx raddr 0.0.0.0 rport 0"
	c, err := ParseCandidateSDP(desc)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, ServerReflexive, c.Type)
	assert.Equal(t, []candidateAttribute{{"raddr", "0.0.0.0"}, {"rport", "0"}}, c.extensions)
}

func TestCandidateSDPRoundTrip(t *testing.T) {
	desc := "candidate:F00 1 udp 2130706431 192.168.1.1 12345 typ host"
	c, err := ParseCandidateSDP(desc)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, desc, c.String())
}

func TestHostCandidateFoundationIndependentOfComponent(t *testing.T) {
	base := NewTransportAddress(udpAddr("10.0.0.1", 1))
	h1 := NewHostCandidate(base, 1)
	h2 := NewHostCandidate(base, 2)
	assert.Equal(t, h1.Foundation, h2.Foundation, "foundation is independent of component id")
}

func TestServerReflexiveFoundationDependsOnServer(t *testing.T) {
	base := NewTransportAddress(udpAddr("10.0.0.1", 1))
	mapped := NewTransportAddress(udpAddr("203.0.113.9", 9000))

	a := NewServerReflexiveCandidate(mapped, base, 1, "stun1.example.org:3478")
	b := NewServerReflexiveCandidate(mapped, base, 1, "stun2.example.org:3478")
	assert.NotEqual(t, a.Foundation, b.Foundation)
}

func TestCandidatePriorityOrdering(t *testing.T) {
	host := computePriority(Host, 1)
	srflx := computePriority(ServerReflexive, 1)
	relay := computePriority(Relayed, 1)
	assert.True(t, host > srflx)
	assert.True(t, srflx > relay)
}
