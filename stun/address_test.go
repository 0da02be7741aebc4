package stun

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXorMappedAddressFixedVector(t *testing.T) {
	tid := TransactionIDFromBytes([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B})
	addr := Addr{IP: net.ParseIP("192.0.2.1"), Port: 32853}

	body := encodeXorAddr(addr, tid)

	// The IPv4 XOR mask uses only the magic cookie (not the transaction ID),
	// so this body is independent of which transaction ID is supplied above.
	want := []byte{0x00, 0x01, 0xA1, 0x47, 0xE1, 0x12, 0xA6, 0x43}
	assert.Equal(t, want, body)

	decoded, err := decodeXorAddr(body, tid)
	if !assert.NoError(t, err) {
		return
	}
	assert.True(t, decoded.IP.Equal(addr.IP))
	assert.Equal(t, addr.Port, decoded.Port)
}

func TestXorAddressInvolutionIPv6(t *testing.T) {
	tid := NewTransactionID()
	addr := Addr{IP: net.ParseIP("2001:db8::1"), Port: 54321}

	body := encodeXorAddr(addr, tid)
	decoded, err := decodeXorAddr(body, tid)
	if !assert.NoError(t, err) {
		return
	}
	assert.True(t, decoded.IP.Equal(addr.IP))
	assert.Equal(t, addr.Port, decoded.Port)
}

func TestXorMaskIsSelfInverse(t *testing.T) {
	mask := []byte{0x21, 0x12, 0xA4, 0x42}
	original := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	dest := append([]byte(nil), original...)

	xorMask(dest, mask)
	assert.NotEqual(t, original, dest)
	xorMask(dest, mask)
	assert.Equal(t, original, dest)
}

func TestMappedAddressPrefersXor(t *testing.T) {
	tid := NewTransactionID()
	msg := NewMessage(ClassSuccessResponse, MethodBinding, tid)
	legacy := Addr{IP: net.ParseIP("198.51.100.2"), Port: 1}
	xor := Addr{IP: net.ParseIP("198.51.100.3"), Port: 2}

	msg.AddMappedAddress(legacy)
	msg.AddXorMappedAddress(xor)

	got, ok := msg.MappedAddress()
	assert.True(t, ok)
	assert.True(t, got.IP.Equal(xor.IP))
	assert.Equal(t, xor.Port, got.Port)
}

func TestXorPeerAndRelayedAddress(t *testing.T) {
	tid := NewTransactionID()
	msg := NewMessage(ClassSuccessResponse, MethodAllocate, tid)
	peer := Addr{IP: net.ParseIP("203.0.113.5"), Port: 48000}
	relayed := Addr{IP: net.ParseIP("203.0.113.6"), Port: 49000}

	msg.AddXorPeerAddress(peer)
	msg.AddXorRelayedAddress(relayed)

	gotPeer, ok := msg.XorPeerAddress()
	assert.True(t, ok)
	assert.True(t, gotPeer.IP.Equal(peer.IP))
	assert.Equal(t, peer.Port, gotPeer.Port)

	gotRelayed, ok := msg.XorRelayedAddress()
	assert.True(t, ok)
	assert.True(t, gotRelayed.IP.Equal(relayed.IP))
	assert.Equal(t, relayed.Port, gotRelayed.Port)
}
