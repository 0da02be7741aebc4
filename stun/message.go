// Package stun implements the binary message framing, typed attribute
// table, and credential/integrity pipeline of RFC 5389 STUN (and the
// handful of RFC 5766 TURN attributes ICE needs from a client). It is a
// pure codec: nothing in this package performs I/O.
package stun

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Class is the 2-bit STUN message class.
type Class uint16

const (
	ClassRequest        Class = 0
	ClassIndication     Class = 1
	ClassSuccessResponse Class = 2
	ClassErrorResponse  Class = 3
)

func (c Class) String() string {
	switch c {
	case ClassRequest:
		return "request"
	case ClassIndication:
		return "indication"
	case ClassSuccessResponse:
		return "success response"
	case ClassErrorResponse:
		return "error response"
	default:
		return fmt.Sprintf("class(%#x)", uint16(c))
	}
}

// Method is the 12-bit STUN message method.
type Method uint16

const (
	MethodBinding          Method = 0x001
	MethodAllocate         Method = 0x003 // TURN
	MethodRefresh          Method = 0x004 // TURN
	MethodSend             Method = 0x006 // TURN (indication only)
	MethodData             Method = 0x007 // TURN (indication only)
	MethodCreatePermission Method = 0x008 // TURN
	MethodChannelBind      Method = 0x009 // TURN
)

const (
	headerLength = 20
	magicCookie  = 0x2112A442
)

// MagicCookieBytes is the wire representation of the RFC 5389 magic cookie.
var MagicCookieBytes = [4]byte{0x21, 0x12, 0xA4, 0x42}

// TransactionID identifies a STUN transaction. It is 12 bytes for RFC 5389
// messages, or 16 bytes for legacy RFC 3489 messages decoded when the magic
// cookie is absent.
//
// ApplicationData carries an opaque handle a caller can stash alongside a
// transaction ID, e.g. a TURN harvester's allocation/permission bookkeeping.
// It plays no role in encoding, decoding, or equality.
type TransactionID struct {
	raw             string
	ApplicationData interface{}
}

// NewTransactionID generates a random RFC 5389 (12-byte) transaction ID.
func NewTransactionID() TransactionID {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return TransactionID{raw: string(buf)}
}

// TransactionIDFromBytes wraps an existing 12- or 16-byte transaction ID,
// e.g. one read off the wire or supplied by a test vector.
func TransactionIDFromBytes(b []byte) TransactionID {
	return TransactionID{raw: string(b)}
}

func (t TransactionID) Bytes() []byte { return []byte(t.raw) }

func (t TransactionID) Legacy() bool { return len(t.raw) == 16 }

func (t TransactionID) Equal(o TransactionID) bool { return t.raw == o.raw }

// Hash returns the low 32 bits of the transaction ID, suitable for use as a
// map key alongside Equal for collision resolution in tests.
func (t TransactionID) Hash() uint32 {
	if len(t.raw) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32([]byte(t.raw)[len(t.raw)-4:])
}

func (t TransactionID) String() string {
	return fmt.Sprintf("%x", t.raw)
}

// Message is a decoded STUN message: header fields plus an ordered sequence
// of attributes.
type Message struct {
	Class         Class
	Method        Method
	TransactionID TransactionID
	Attributes    []RawAttribute

	// UnknownAttributes accumulates comprehension-required attribute types
	// this codec didn't recognize while decoding. A request carrying any of
	// these should be answered with 420 Unknown Attribute.
	UnknownAttributes []AttrType
}

// NewMessage constructs an empty message with a fresh or caller-supplied
// transaction ID.
func NewMessage(class Class, method Method, tid TransactionID) *Message {
	if tid.raw == "" {
		tid = NewTransactionID()
	}
	return &Message{Class: class, Method: method, TransactionID: tid}
}

// Add appends a raw attribute and returns it, so content-dependent
// attributes (MESSAGE-INTEGRITY, FINGERPRINT) can later patch Value in
// place.
func (m *Message) Add(t AttrType, value []byte) *RawAttribute {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.Attributes = append(m.Attributes, RawAttribute{Type: t, Value: cp})
	return &m.Attributes[len(m.Attributes)-1]
}

// Get returns the first attribute of the given type, or nil.
func (m *Message) Get(t AttrType) *RawAttribute {
	for i := range m.Attributes {
		if m.Attributes[i].Type == t {
			return &m.Attributes[i]
		}
	}
	return nil
}

// attributeBytesLength returns the total wire length, in bytes, of the
// message's attributes (header + value + padding, per attribute).
func (m *Message) attributeBytesLength() int {
	n := 0
	for _, a := range m.Attributes {
		n += a.wireSize()
	}
	return n
}

func composeMessageType(class Class, method Method) uint16 {
	c := uint16(class)
	t := (c<<7)&0x0100 | (c<<4)&0x0010
	mt := uint16(method)
	t |= (mt<<2)&0x3e00 | (mt<<1)&0x00e0 | (mt & 0x000f)
	return t
}

func decomposeMessageType(t uint16) (Class, Method) {
	class := Class((t&0x0100)>>7 | (t&0x0010)>>4)
	method := Method((t&0x3e00)>>2 | (t&0x00e0)>>1 | (t & 0x000f))
	return class, method
}

// Encode serializes the message, including whatever attributes have already
// been added (in order). Content-dependent attributes (MESSAGE-INTEGRITY,
// FINGERPRINT) must be computed via AddMessageIntegrity/AddFingerprint
// before the final call to Encode, since those helpers call Encode
// internally to hash the prefix.
func (m *Message) Encode() []byte {
	length := m.attributeBytesLength()
	buf := make([]byte, headerLength+length)

	messageType := composeMessageType(m.Class, m.Method)

	hdr := buf[:headerLength]
	binary.BigEndian.PutUint16(hdr[0:2], messageType)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(length))
	if m.TransactionID.Legacy() {
		copy(hdr[4:20], m.TransactionID.raw)
	} else {
		binary.BigEndian.PutUint32(hdr[4:8], magicCookie)
		copy(hdr[8:20], m.TransactionID.raw)
	}

	off := headerLength
	for _, a := range m.Attributes {
		off += a.encodeInto(buf[off:])
	}
	return buf
}

// Decode parses a wire-format STUN message. It returns (nil, nil) if the
// data does not look like a STUN message at all (used by demultiplexers
// that share a port with other protocols).
func Decode(data []byte) (*Message, error) {
	if len(data) < headerLength {
		return nil, nil
	}

	messageType := binary.BigEndian.Uint16(data[0:2])
	if messageType>>14 != 0 {
		return nil, nil
	}

	length := binary.BigEndian.Uint16(data[2:4])
	if length%4 != 0 {
		return nil, ErrBadLength
	}

	class, method := decomposeMessageType(messageType)

	var tid TransactionID
	if binary.BigEndian.Uint32(data[4:8]) == magicCookie {
		tid = TransactionID{raw: string(data[8:20])}
	} else {
		// RFC 3489 legacy message: no magic cookie, 16-byte transaction ID
		// spanning what would otherwise be cookie+tid.
		tid = TransactionID{raw: string(data[4:20])}
	}

	if int(length) > len(data)-headerLength {
		return nil, ErrBadLength
	}

	msg := &Message{Class: class, Method: method, TransactionID: tid}

	body := data[headerLength : headerLength+int(length)]
	for len(body) > 0 {
		attr, n, err := decodeAttribute(body)
		if err != nil {
			return msg, err
		}
		body = body[n:]

		if attr.Type < 0x8000 && !knownAttrTypes[attr.Type] {
			msg.UnknownAttributes = append(msg.UnknownAttributes, attr.Type)
		}
		if attr.Type == AttrUsername && len(attr.Value) == 0 {
			return msg, ErrBadUsername
		}
		msg.Attributes = append(msg.Attributes, attr)
	}

	return msg, nil
}

func pad4(n int) int {
	return -n & 3
}
