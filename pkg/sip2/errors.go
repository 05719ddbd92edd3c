package sip2

import "errors"

// Sentinel errors for the SIP2 protocol engine. Callers compare with
// errors.Is; the connection manager and HTTP surface map these to the
// dispositions in the error handling table.
var (
	ErrInvalidSequence       = errors.New("sip2: sequence number out of range 0-9")
	ErrMalformedTrailer      = errors.New("sip2: frame does not end with AY<seq>AZ<hex4> trailer")
	ErrUnexpectedResponseCode = errors.New("sip2: unexpected response command code")
	ErrSequenceInUse         = errors.New("sip2: sequence number already has a pending request")
	ErrClientAtCapacity      = errors.New("sip2: all ten sequence numbers are in use")
	ErrConnectTimeout        = errors.New("sip2: connect did not complete within timeout")
	ErrRequestTimeout        = errors.New("sip2: request timed out waiting for response")
	ErrChecksumMismatch      = errors.New("sip2: response checksum did not match")
	ErrNotConnected          = errors.New("sip2: client is not connected")
	ErrMasterKeyMissing      = errors.New("sip2: mask master key is not configured")
)
