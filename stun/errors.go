package stun

import "fmt"

// Decode errors. These are recoverable locally: a request that triggers one
// produces a 400 error response (420 is reserved for the unknown
// comprehension-required attributes Decode collects without failing); a
// response that triggers one is simply dropped by the caller. Decode returns
// no Message alongside ErrBadLength, so a request with a bad length field
// cannot be answered and is dropped as well.
var (
	ErrTruncatedAttribute = fmt.Errorf("stun: truncated attribute")
	ErrBadLength          = fmt.Errorf("stun: length field does not match message size")
	ErrBadUsername        = fmt.Errorf("stun: malformed USERNAME attribute")
	ErrBadIntegrity       = fmt.Errorf("stun: MESSAGE-INTEGRITY does not validate")
	ErrBadFingerprint     = fmt.Errorf("stun: FINGERPRINT does not validate")
)
