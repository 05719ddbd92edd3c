package sip2

import "testing"

func TestSanitizeStripsFramingBytes(t *testing.T) {
	in := "Smith|John\r\n\x01Doe"
	want := "SmithJohnDoe"
	if got := Sanitize(in); got != want {
		t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	in := "a|b\rc\nd"
	once := Sanitize(in)
	twice := Sanitize(once)
	if once != twice {
		t.Errorf("Sanitize not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestSanitizePreservesUTF8(t *testing.T) {
	in := "café"
	if got := Sanitize(in); got != in {
		t.Errorf("Sanitize(%q) = %q, want unchanged", in, got)
	}
}

func TestTransliterateFoldsAccents(t *testing.T) {
	tests := map[string]string{
		"café":    "cafe",
		"Müller":  "Muller",
		"naïve":   "naive",
		"plain":   "plain",
	}
	for in, want := range tests {
		if got := Transliterate(in); got != want {
			t.Errorf("Transliterate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTransliterateReplacesUnreducibleRunes(t *testing.T) {
	in := "日本語"
	got := Transliterate(in)
	for _, r := range got {
		if r > 0x7F {
			t.Fatalf("Transliterate(%q) = %q still contains non-ASCII rune %q", in, got, r)
		}
	}
}
