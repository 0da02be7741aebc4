package stun

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"
	"strings"
)

const fingerprintXor = 0x5354554E

// AddMessageIntegrity appends a MESSAGE-INTEGRITY attribute computed over
// every attribute already added to the message, per RFC 5389 §15.4. It must
// be the last attribute added except for a following AddFingerprint call.
func (m *Message) AddMessageIntegrity(key []byte) {
	attr := m.Add(AttrMessageIntegrity, make([]byte, 20))
	b := m.Encode()
	prefixLen := len(b) - attr.wireSize()

	mac := hmac.New(sha1.New, key)
	mac.Write(b[:prefixLen])
	copy(attr.Value, mac.Sum(nil))
}

// AddFingerprint appends a FINGERPRINT attribute computed over every byte
// emitted so far. Per spec.md §3, it must be the last attribute in the
// message; callers must not add further attributes afterward.
func (m *Message) AddFingerprint() {
	attr := m.Add(AttrFingerprint, make([]byte, 4))
	b := m.Encode()
	prefixLen := len(b) - attr.wireSize()

	crc := crc32.ChecksumIEEE(b[:prefixLen])
	binary.BigEndian.PutUint32(attr.Value, crc^fingerprintXor)
}

// VerifyMessageIntegrity recomputes the HMAC-SHA1 over the raw wire bytes of
// a received message and compares it against the MESSAGE-INTEGRITY
// attribute's value, using the given key. It operates on raw bytes (rather
// than a decoded Message) because the hash covers the message header with
// its length field temporarily rewritten to reflect only the bytes up to
// and including MESSAGE-INTEGRITY -- not the full received length, which
// may include a trailing FINGERPRINT.
func VerifyMessageIntegrity(raw []byte, key []byte) bool {
	miOffset, miValue := findAttribute(raw, AttrMessageIntegrity)
	if miOffset < 0 || len(miValue) != 20 {
		return false
	}

	prefixLen := miOffset + 4 + 20 // MI's own TLV is included in the rewritten length,
	// but the hash itself covers only up to the start of MI (see AddMessageIntegrity).
	hashLen := miOffset

	patched := make([]byte, hashLen)
	copy(patched, raw[:hashLen])
	binary.BigEndian.PutUint16(patched[2:4], uint16(prefixLen-headerLength))

	mac := hmac.New(sha1.New, key)
	mac.Write(patched)
	return hmac.Equal(mac.Sum(nil), miValue)
}

// VerifyFingerprint recomputes the CRC-32 over the raw wire bytes up to the
// FINGERPRINT attribute and compares it against the attribute's value.
func VerifyFingerprint(raw []byte) bool {
	fpOffset, fpValue := findAttribute(raw, AttrFingerprint)
	if fpOffset < 0 || len(fpValue) != 4 {
		return false
	}
	want := binary.BigEndian.Uint32(fpValue)
	got := crc32.ChecksumIEEE(raw[:fpOffset]) ^ fingerprintXor
	return got == want
}

// CheckFingerprint validates a trailing FINGERPRINT attribute, if present.
// It returns nil when raw carries no FINGERPRINT at all (callers decide
// whether one was required), and ErrBadFingerprint when one is present but
// does not match.
func CheckFingerprint(raw []byte) error {
	fpOffset, _ := findAttribute(raw, AttrFingerprint)
	if fpOffset < 0 {
		return nil
	}
	if !VerifyFingerprint(raw) {
		return ErrBadFingerprint
	}
	return nil
}

// findAttribute scans the raw attribute section for the first occurrence of
// t, returning its TLV start offset (relative to the whole message,
// including the 20-byte header) and its value bytes. Returns (-1, nil) if
// not found or the message is malformed.
func findAttribute(raw []byte, t AttrType) (int, []byte) {
	if len(raw) < headerLength {
		return -1, nil
	}
	off := headerLength
	for off+4 <= len(raw) {
		typ := AttrType(binary.BigEndian.Uint16(raw[off : off+2]))
		length := int(binary.BigEndian.Uint16(raw[off+2 : off+4]))
		if off+4+length > len(raw) {
			return -1, nil
		}
		if typ == t {
			return off, raw[off+4 : off+4+length]
		}
		off += 4 + length + pad4(length)
	}
	return -1, nil
}

// ShortTermKey derives the HMAC key for short-term credentials: the
// SASLprep'd password, used as-is (RFC 5389 §15.4).
func ShortTermKey(password string) []byte {
	return []byte(saslprep(password))
}

// LongTermKey derives the HMAC key for long-term credentials:
// MD5(username:realm:SASLprep(password)) (RFC 5389 §15.4).
func LongTermKey(username, realm, password string) []byte {
	h := md5.New()
	h.Write([]byte(username))
	h.Write([]byte(":"))
	h.Write([]byte(realm))
	h.Write([]byte(":"))
	h.Write([]byte(saslprep(password)))
	return h.Sum(nil)
}

// saslprep applies a pragmatic subset of RFC 4013 SASLprep: it strips
// characters that are always prohibited in the output (C.2.1 control
// characters). Non-ASCII whitespace is neither mapped nor trimmed; it is
// passed through unchanged. Full Unicode normalization
// (stringprep tables) is out of scope for this codec; the ecosystem's
// options for it (golang.org/x/text/secure/precis) carry a much larger
// dependency footprint than a password-normalization helper warrants here.
func saslprep(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
