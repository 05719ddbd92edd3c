// Package mask implements the deterministic PII redaction used on every
// path that might otherwise carry a patron identifier into a log line,
// dashboard event, or breaker record.
package mask

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMasterKeyMissing is returned by Mask when no master key has been
// configured on the Service.
var ErrMasterKeyMissing = errors.New("mask: master key is not configured")

const maxRecursionDepth = 32

// Service holds the process-wide HMAC master key. It is safe for
// concurrent use; the key is set once at startup and never mutated.
type Service struct {
	masterKey []byte
}

// New constructs a Service. An empty key is accepted so that Mask can
// report ErrMasterKeyMissing instead of the caller needing to check
// configuration in two places.
func New(masterKey string) *Service {
	return &Service{masterKey: []byte(masterKey)}
}

// Mask returns s unchanged when it is empty. Otherwise it returns
// "MASKED_" followed by the first 16 hex characters of the HMAC-SHA256
// of s keyed by the master key.
func (s *Service) Mask(value string) (string, error) {
	if value == "" {
		return value, nil
	}
	if len(s.masterKey) == 0 {
		return "", ErrMasterKeyMissing
	}
	mac := hmac.New(sha256.New, s.masterKey)
	mac.Write([]byte(value))
	sum := hex.EncodeToString(mac.Sum(nil))
	return "MASKED_" + sum[:16], nil
}

// maskOrFallback masks value, falling back to a fixed redaction string
// when the master key is missing rather than propagating the error —
// used on the dashboard path per the error handling table.
func (s *Service) maskOrFallback(value string) string {
	masked, err := s.Mask(value)
	if err != nil {
		return "********"
	}
	return masked
}

func containsFold(key, substr string) bool {
	return strings.Contains(strings.ToLower(key), substr)
}

func isCredentialKey(key string) bool {
	if containsFold(key, "password") || containsFold(key, "pass") || containsFold(key, "pin") {
		return true
	}
	upper := strings.ToUpper(key)
	return upper == "CQ" || upper == "CO"
}

// identitySubstrings covers both the spec's exact field names
// (patronIdentifier, patronBarcode, ...) and the shorter Go struct
// field names actually used on the wire types (PatronID, ItemID, ...).
var identitySubstrings = []string{
	"patronidentifier", "patronbarcode", "patronid",
	"itemidentifier", "itembarcode", "itemid",
	"personalname",
}

func isIdentityKey(key string) bool {
	for _, substr := range identitySubstrings {
		if containsFold(key, substr) {
			return true
		}
	}
	upper := strings.ToUpper(key)
	return upper == "AA" || upper == "AB" || upper == "AE"
}

// MaskPayload recursively redacts a value that may be a primitive, a
// slice, or a string-keyed map, per the key classification in the
// masking service's contract. Recursion is capped defensively; values
// below the cap are returned unchanged rather than causing an error.
func (s *Service) MaskPayload(v any) any {
	return s.maskPayload(v, 0)
}

func (s *Service) maskPayload(v any, depth int) any {
	if depth >= maxRecursionDepth {
		return v
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			switch {
			case isCredentialKey(k):
				if _, ok := inner.(string); ok {
					out[k] = "********"
				} else {
					out[k] = inner
				}
			case isIdentityKey(k):
				if str, ok := inner.(string); ok {
					out[k] = s.maskOrFallback(str)
				} else {
					out[k] = inner
				}
			default:
				out[k] = s.maskPayload(inner, depth+1)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = s.maskPayload(inner, depth+1)
		}
		return out
	default:
		return v
	}
}
