package stun

import (
	"encoding/binary"
)

// AttrType is a STUN/TURN attribute type code. Per RFC 5389 §15, codes below
// 0x8000 are comprehension-required; codes at or above 0x8000 are
// comprehension-optional and may be silently ignored if unrecognized.
type AttrType uint16

const (
	AttrMappedAddress     AttrType = 0x0001
	AttrUsername          AttrType = 0x0006
	AttrMessageIntegrity  AttrType = 0x0008
	AttrErrorCode         AttrType = 0x0009
	AttrUnknownAttributes AttrType = 0x000A
	AttrChannelNumber     AttrType = 0x000C
	AttrLifetime          AttrType = 0x000D
	AttrXorPeerAddress    AttrType = 0x0012
	AttrData              AttrType = 0x0013
	AttrRealm             AttrType = 0x0014
	AttrNonce             AttrType = 0x0015
	AttrXorRelayedAddress AttrType = 0x0016
	AttrRequestedAddressFamily AttrType = 0x0017
	AttrEvenPort          AttrType = 0x0018
	AttrRequestedTransport AttrType = 0x0019
	AttrDontFragment      AttrType = 0x001A
	AttrXorMappedAddress  AttrType = 0x0020
	AttrReservationToken  AttrType = 0x0022
	AttrPriority          AttrType = 0x0024
	AttrUseCandidate      AttrType = 0x0025
	AttrConnectionID      AttrType = 0x002A
	AttrSoftware          AttrType = 0x8022
	AttrAlternateServer   AttrType = 0x8023
	AttrFingerprint       AttrType = 0x8028
	AttrIceControlled     AttrType = 0x8029
	AttrIceControlling    AttrType = 0x802A
)

// knownAttrTypes lists every comprehension-required (< 0x8000) type code
// this codec recognizes. Anything else below 0x8000 triggers 420 Unknown
// Attribute when present in a request.
var knownAttrTypes = map[AttrType]bool{
	AttrMappedAddress:          true,
	AttrUsername:               true,
	AttrMessageIntegrity:       true,
	AttrErrorCode:              true,
	AttrUnknownAttributes:      true,
	AttrChannelNumber:          true,
	AttrLifetime:               true,
	AttrXorPeerAddress:         true,
	AttrData:                   true,
	AttrRealm:                  true,
	AttrNonce:                  true,
	AttrXorRelayedAddress:      true,
	AttrRequestedAddressFamily: true,
	AttrEvenPort:               true,
	AttrRequestedTransport:     true,
	AttrDontFragment:           true,
	AttrXorMappedAddress:       true,
	AttrReservationToken:       true,
	AttrPriority:               true,
	AttrUseCandidate:           true,
	AttrConnectionID:           true,
}

// RawAttribute is the TLV wire representation of an attribute: a type code
// plus an opaque value. Typed accessors (below) build and interpret Value
// for each attribute variant in the §3 table.
type RawAttribute struct {
	Type  AttrType
	Value []byte
}

// wireSize returns the total bytes this attribute occupies on the wire,
// including the 4-byte TLV header and 4-byte-boundary padding.
func (a *RawAttribute) wireSize() int {
	return 4 + len(a.Value) + pad4(len(a.Value))
}

func (a *RawAttribute) encodeInto(b []byte) int {
	binary.BigEndian.PutUint16(b[0:2], uint16(a.Type))
	binary.BigEndian.PutUint16(b[2:4], uint16(len(a.Value)))
	n := copy(b[4:], a.Value)
	return 4 + n + pad4(n)
}

func decodeAttribute(b []byte) (RawAttribute, int, error) {
	if len(b) < 4 {
		return RawAttribute{}, 0, ErrTruncatedAttribute
	}
	typ := AttrType(binary.BigEndian.Uint16(b[0:2]))
	length := int(binary.BigEndian.Uint16(b[2:4]))
	if length > len(b)-4 {
		return RawAttribute{}, 0, ErrTruncatedAttribute
	}
	value := make([]byte, length)
	copy(value, b[4:4+length])

	total := 4 + length + pad4(length)
	if total > len(b) {
		// Padding ran past the end of the buffer; accept what's there.
		total = len(b)
	}
	return RawAttribute{Type: typ, Value: value}, total, nil
}

// ---- USERNAME / REALM / NONCE / SOFTWARE / DATA (opaque, variable-length, padded) ----

func (m *Message) AddUsername(username string) {
	m.Add(AttrUsername, []byte(username))
}

func (m *Message) Username() (string, bool) {
	a := m.Get(AttrUsername)
	if a == nil {
		return "", false
	}
	return string(a.Value), true
}

func (m *Message) AddRealm(realm string)     { m.Add(AttrRealm, []byte(realm)) }
func (m *Message) AddNonce(nonce string)      { m.Add(AttrNonce, []byte(nonce)) }
func (m *Message) AddSoftware(software string) { m.Add(AttrSoftware, []byte(software)) }
func (m *Message) AddData(data []byte)        { m.Add(AttrData, data) }

func (m *Message) Realm() (string, bool) {
	if a := m.Get(AttrRealm); a != nil {
		return string(a.Value), true
	}
	return "", false
}

func (m *Message) Nonce() (string, bool) {
	if a := m.Get(AttrNonce); a != nil {
		return string(a.Value), true
	}
	return "", false
}

// ---- PRIORITY ----

func (m *Message) AddPriority(p uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, p)
	m.Add(AttrPriority, v)
}

func (m *Message) Priority() (uint32, bool) {
	a := m.Get(AttrPriority)
	if a == nil || len(a.Value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(a.Value), true
}

// ---- USE-CANDIDATE (empty flag) ----

func (m *Message) AddUseCandidate() {
	m.Add(AttrUseCandidate, nil)
}

func (m *Message) HasUseCandidate() bool {
	return m.Get(AttrUseCandidate) != nil
}

// ---- DONT-FRAGMENT (empty flag) ----

func (m *Message) AddDontFragment() {
	m.Add(AttrDontFragment, nil)
}

// ---- ICE-CONTROLLING / ICE-CONTROLLED (u64 tie-breaker) ----

func (m *Message) AddIceControlling(tieBreaker uint64) {
	m.Add(AttrIceControlling, uint64Bytes(tieBreaker))
}

func (m *Message) AddIceControlled(tieBreaker uint64) {
	m.Add(AttrIceControlled, uint64Bytes(tieBreaker))
}

func (m *Message) IceControlling() (uint64, bool) {
	if a := m.Get(AttrIceControlling); a != nil && len(a.Value) == 8 {
		return binary.BigEndian.Uint64(a.Value), true
	}
	return 0, false
}

func (m *Message) IceControlled() (uint64, bool) {
	if a := m.Get(AttrIceControlled); a != nil && len(a.Value) == 8 {
		return binary.BigEndian.Uint64(a.Value), true
	}
	return 0, false
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// ---- ERROR-CODE ----

func (m *Message) AddErrorCode(code int, reason string) {
	class := byte(code / 100)
	number := byte(code % 100)
	v := make([]byte, 4+len(reason))
	v[0] = 0
	v[1] = 0
	v[2] = class & 0x07
	v[3] = number
	copy(v[4:], reason)
	m.Add(AttrErrorCode, v)
}

// ErrorCode returns the numeric error code (e.g. 487) and reason phrase.
func (m *Message) ErrorCode() (code int, reason string, ok bool) {
	a := m.Get(AttrErrorCode)
	if a == nil || len(a.Value) < 4 {
		return 0, "", false
	}
	class := int(a.Value[2] & 0x07)
	number := int(a.Value[3])
	return class*100 + number, string(a.Value[4:]), true
}

// ---- UNKNOWN-ATTRIBUTES ----

func (m *Message) AddUnknownAttributes(types []AttrType) {
	v := make([]byte, 2*len(types))
	for i, t := range types {
		binary.BigEndian.PutUint16(v[2*i:], uint16(t))
	}
	m.Add(AttrUnknownAttributes, v)
}

// ---- CHANNEL-NUMBER (TURN, must be >= 0x4000) ----

func (m *Message) AddChannelNumber(n uint16) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint16(v[0:2], n)
	m.Add(AttrChannelNumber, v)
}

func (m *Message) ChannelNumber() (uint16, bool) {
	a := m.Get(AttrChannelNumber)
	if a == nil || len(a.Value) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(a.Value[0:2]), true
}

// ---- LIFETIME (TURN, seconds) ----

func (m *Message) AddLifetime(seconds uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, seconds)
	m.Add(AttrLifetime, v)
}

func (m *Message) Lifetime() (uint32, bool) {
	a := m.Get(AttrLifetime)
	if a == nil || len(a.Value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(a.Value), true
}

// ---- REQUESTED-TRANSPORT (TURN; 17=UDP, 6=TCP) ----

const (
	ProtocolNumberUDP = 17
	ProtocolNumberTCP = 6
)

func (m *Message) AddRequestedTransport(protocolNumber byte) {
	m.Add(AttrRequestedTransport, []byte{protocolNumber, 0, 0, 0})
}

func (m *Message) RequestedTransport() (byte, bool) {
	a := m.Get(AttrRequestedTransport)
	if a == nil || len(a.Value) < 1 {
		return 0, false
	}
	return a.Value[0], true
}

// ---- REQUESTED-ADDRESS-FAMILY (TURN; 1=IPv4, 2=IPv6) ----

func (m *Message) AddRequestedAddressFamily(family byte) {
	m.Add(AttrRequestedAddressFamily, []byte{family, 0, 0, 0})
}

// ---- EVEN-PORT (TURN; R flag in high bit) ----

func (m *Message) AddEvenPort(reserveNext bool) {
	var b byte
	if reserveNext {
		b = 0x80
	}
	m.Add(AttrEvenPort, []byte{b})
}

// ---- RESERVATION-TOKEN (TURN, 8 bytes) ----

func (m *Message) AddReservationToken(token [8]byte) {
	m.Add(AttrReservationToken, token[:])
}

// ---- CONNECTION-ID (TURN, u32) ----

func (m *Message) AddConnectionID(id uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, id)
	m.Add(AttrConnectionID, v)
}
