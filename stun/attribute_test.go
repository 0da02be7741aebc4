package stun

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUseCandidateFlag(t *testing.T) {
	msg := NewMessage(ClassRequest, MethodBinding, NewTransactionID())
	assert.False(t, msg.HasUseCandidate())
	msg.AddUseCandidate()
	assert.True(t, msg.HasUseCandidate())
}

func TestErrorCodeRoundTrip(t *testing.T) {
	msg := NewMessage(ClassErrorResponse, MethodBinding, NewTransactionID())
	msg.AddErrorCode(487, "Role Conflict")

	b := msg.Encode()
	decoded, err := Decode(b)
	if !assert.NoError(t, err) {
		return
	}
	code, reason, ok := decoded.ErrorCode()
	assert.True(t, ok)
	assert.Equal(t, 487, code)
	assert.Equal(t, "Role Conflict", reason)
}

func TestLifetimeAndChannelNumber(t *testing.T) {
	msg := NewMessage(ClassRequest, MethodRefresh, NewTransactionID())
	msg.AddLifetime(600)
	msg.AddChannelNumber(0x4001)

	b := msg.Encode()
	decoded, err := Decode(b)
	if !assert.NoError(t, err) {
		return
	}

	lifetime, ok := decoded.Lifetime()
	assert.True(t, ok)
	assert.Equal(t, uint32(600), lifetime)

	channel, ok := decoded.ChannelNumber()
	assert.True(t, ok)
	assert.Equal(t, uint16(0x4001), channel)
}

func TestRequestedTransport(t *testing.T) {
	msg := NewMessage(ClassRequest, MethodAllocate, NewTransactionID())
	msg.AddRequestedTransport(ProtocolNumberUDP)

	b := msg.Encode()
	decoded, err := Decode(b)
	if !assert.NoError(t, err) {
		return
	}
	proto, ok := decoded.RequestedTransport()
	assert.True(t, ok)
	assert.Equal(t, byte(ProtocolNumberUDP), proto)
}

func TestUnknownAttributesList(t *testing.T) {
	msg := NewMessage(ClassErrorResponse, MethodBinding, NewTransactionID())
	msg.AddUnknownAttributes([]AttrType{AttrPriority, AttrUseCandidate})

	b := msg.Encode()
	decoded, err := Decode(b)
	if !assert.NoError(t, err) {
		return
	}
	a := decoded.Get(AttrUnknownAttributes)
	if !assert.NotNil(t, a) {
		return
	}
	assert.Equal(t, 4, len(a.Value))
}
