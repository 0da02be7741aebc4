package stun

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBindingRequestRoundTripWithIntegrity(t *testing.T) {
	tid := NewTransactionID()
	msg := NewMessage(ClassRequest, MethodBinding, tid)
	msg.AddUsername("lu:ru")
	msg.AddPriority(0x6E7F1EFF)
	msg.AddIceControlling(0x0102030405060708)
	msg.AddMessageIntegrity(ShortTermKey("password"))

	b := msg.Encode()

	decoded, err := Decode(b)
	if !assert.NoError(t, err) {
		return
	}

	username, ok := decoded.Username()
	assert.True(t, ok)
	assert.Equal(t, "lu:ru", username)

	priority, ok := decoded.Priority()
	assert.True(t, ok)
	assert.Equal(t, uint32(0x6E7F1EFF), priority)

	tieBreaker, ok := decoded.IceControlling()
	assert.True(t, ok)
	assert.Equal(t, uint64(0x0102030405060708), tieBreaker)

	assert.True(t, VerifyMessageIntegrity(b, ShortTermKey("password")))
	assert.False(t, VerifyMessageIntegrity(b, ShortTermKey("wrong-password")))
}

func TestMessageIntegrityDeterministic(t *testing.T) {
	tid := TransactionIDFromBytes([]byte("0123456789AB"))
	key := ShortTermKey("hello")

	build := func() []byte {
		msg := NewMessage(ClassSuccessResponse, MethodBinding, tid)
		msg.AddXorMappedAddress(Addr{IP: net.ParseIP("1.2.3.4"), Port: 5678})
		msg.AddMessageIntegrity(key)
		return msg.Encode()
	}

	a, b := build(), build()
	assert.Equal(t, a, b)
}

func TestMessageIntegrityWithTrailingFingerprint(t *testing.T) {
	tid := NewTransactionID()
	key := ShortTermKey("hello")

	msg := NewMessage(ClassSuccessResponse, MethodBinding, tid)
	msg.AddXorMappedAddress(Addr{IP: net.ParseIP("1.2.3.4"), Port: 5678})
	msg.AddMessageIntegrity(key)
	msg.AddFingerprint()

	b := msg.Encode()
	assert.True(t, VerifyMessageIntegrity(b, key))
	assert.True(t, VerifyFingerprint(b))

	// Flip a byte inside the address attribute: both checks must now fail.
	b[20+4+1] ^= 0xff
	assert.False(t, VerifyMessageIntegrity(b, key))
	assert.False(t, VerifyFingerprint(b))
}

func TestFingerprintInvertsOnTamper(t *testing.T) {
	tid := NewTransactionID()
	msg := NewMessage(ClassRequest, MethodBinding, tid)
	msg.AddSoftware("test")
	msg.AddFingerprint()

	b := msg.Encode()
	assert.True(t, VerifyFingerprint(b))

	tampered := append([]byte(nil), b...)
	tampered[headerLength] ^= 0xff
	assert.False(t, VerifyFingerprint(tampered))
}

func TestLongTermKeyDerivation(t *testing.T) {
	k1 := LongTermKey("alice", "example.org", "secret")
	k2 := LongTermKey("alice", "example.org", "secret")
	assert.Equal(t, k1, k2)

	k3 := LongTermKey("bob", "example.org", "secret")
	assert.NotEqual(t, k1, k3)
}

