package stun

import (
	"encoding/binary"
	"net"
)

// Additional RFC 3489 legacy address attributes and the MAPPED-ADDRESS
// family, sharing the same [pad|family|port|addr] body defined in spec.md
// §3 and §6. CHANGE-REQUEST, also listed here, is the exception: its body
// is a 4-byte flags field, not an address.
const (
	AttrSourceAddress      AttrType = 0x0004
	AttrChangedAddress     AttrType = 0x0005
	AttrResponseAddress    AttrType = 0x0002
	AttrReflectedFrom      AttrType = 0x000B
	AttrChangeRequest      AttrType = 0x0003
	AttrDestinationAddress AttrType = 0x0011 // non-standard, used by some TURN relays
)

func init() {
	for _, t := range []AttrType{
		AttrSourceAddress, AttrChangedAddress, AttrResponseAddress,
		AttrReflectedFrom, AttrChangeRequest, AttrAlternateServer,
	} {
		knownAttrTypes[t] = true
	}
}

const (
	familyIPv4 = 0x01
	familyIPv6 = 0x02
)

// Addr is the wire-level address carried by STUN address attributes: just
// enough to encode/decode the TLV body, independent of any higher-level
// transport/candidate model that a caller (the ice package) layers on top.
type Addr struct {
	IP   net.IP
	Port int
}

func encodeAddr(addr Addr) []byte {
	ip4 := addr.IP.To4()
	var value []byte
	if ip4 != nil {
		value = make([]byte, 8)
		value[1] = familyIPv4
		copy(value[4:8], ip4)
	} else {
		ip6 := addr.IP.To16()
		value = make([]byte, 20)
		value[1] = familyIPv6
		copy(value[4:20], ip6)
	}
	binary.BigEndian.PutUint16(value[2:4], uint16(addr.Port))
	return value
}

func decodeAddr(value []byte) (Addr, error) {
	if len(value) < 4 {
		return Addr{}, ErrTruncatedAttribute
	}
	port := int(binary.BigEndian.Uint16(value[2:4]))
	switch value[1] {
	case familyIPv4:
		if len(value) < 8 {
			return Addr{}, ErrTruncatedAttribute
		}
		ip := make(net.IP, 4)
		copy(ip, value[4:8])
		return Addr{IP: ip, Port: port}, nil
	case familyIPv6:
		if len(value) < 20 {
			return Addr{}, ErrTruncatedAttribute
		}
		ip := make(net.IP, 16)
		copy(ip, value[4:20])
		return Addr{IP: ip, Port: port}, nil
	default:
		return Addr{}, ErrTruncatedAttribute
	}
}

// xorMask is its own inverse: applying it twice returns the original bytes.
func xorMask(dest, mask []byte) {
	for i := range dest {
		dest[i] ^= mask[i%len(mask)]
	}
}

func encodeXorAddr(addr Addr, tid TransactionID) []byte {
	v := encodeAddr(addr)
	xorMask(v[2:4], MagicCookieBytes[0:2])
	xorMask(v[4:8], MagicCookieBytes[:])
	if len(v) > 8 {
		xorMask(v[8:], tid.Bytes())
	}
	return v
}

func decodeXorAddr(value []byte, tid TransactionID) (Addr, error) {
	if len(value) < 4 {
		return Addr{}, ErrTruncatedAttribute
	}
	v := make([]byte, len(value))
	copy(v, value)
	xorMask(v[2:4], MagicCookieBytes[0:2])
	xorMask(v[4:8], MagicCookieBytes[:])
	if len(v) > 8 {
		xorMask(v[8:], tid.Bytes())
	}
	return decodeAddr(v)
}

func (m *Message) addAddr(t AttrType, addr Addr) {
	m.Add(t, encodeAddr(addr))
}

func (m *Message) addXorAddr(t AttrType, addr Addr) {
	m.Add(t, encodeXorAddr(addr, m.TransactionID))
}

func (m *Message) getAddr(t AttrType) (Addr, bool) {
	a := m.Get(t)
	if a == nil {
		return Addr{}, false
	}
	addr, err := decodeAddr(a.Value)
	return addr, err == nil
}

func (m *Message) getXorAddr(t AttrType) (Addr, bool) {
	a := m.Get(t)
	if a == nil {
		return Addr{}, false
	}
	addr, err := decodeXorAddr(a.Value, m.TransactionID)
	return addr, err == nil
}

func (m *Message) AddMappedAddress(addr Addr)    { m.addAddr(AttrMappedAddress, addr) }
func (m *Message) AddXorMappedAddress(addr Addr) { m.addXorAddr(AttrXorMappedAddress, addr) }
func (m *Message) AddXorPeerAddress(addr Addr)   { m.addXorAddr(AttrXorPeerAddress, addr) }
func (m *Message) AddXorRelayedAddress(addr Addr) {
	m.addXorAddr(AttrXorRelayedAddress, addr)
}
func (m *Message) AddAlternateServer(addr Addr) { m.addAddr(AttrAlternateServer, addr) }

// MappedAddress returns the best available mapped address, preferring
// XOR-MAPPED-ADDRESS over the legacy MAPPED-ADDRESS per RFC 5389 §11.
func (m *Message) MappedAddress() (Addr, bool) {
	if a, ok := m.getXorAddr(AttrXorMappedAddress); ok {
		return a, true
	}
	return m.getAddr(AttrMappedAddress)
}

func (m *Message) XorPeerAddress() (Addr, bool)    { return m.getXorAddr(AttrXorPeerAddress) }
func (m *Message) XorRelayedAddress() (Addr, bool) { return m.getXorAddr(AttrXorRelayedAddress) }
