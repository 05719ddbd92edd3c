package sip2

import "time"

// timestampLayout is the fixed 18-byte SIP2 transaction date/time:
// YYYYMMDD followed by four spaces (the legacy zone field, never
// populated by this gateway, per the non-goal of emitting anything
// but UTC) followed by HHMMSS.
const timestampLayout = "20060102    150405"

// FormatTimestamp renders t in UTC using the fixed SIP2 layout. Every
// formatter call goes through this; nothing in this package ever emits
// a non-UTC timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Timestamp is a parsed response's opaque 18-byte transaction time.
// SIP2 timestamps are never parsed into instants: clock skew between
// gateway and LMS must not affect correctness, so the raw string is
// the contract.
type Timestamp string
