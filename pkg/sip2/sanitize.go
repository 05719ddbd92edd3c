package sip2

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sanitize strips every byte a SIP2 field value may never carry: the
// field separator, line endings, and the C0 control range. It is a
// pure total function and is idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
// Bytes at or above 0x20 other than '|' are left untouched, including
// multi-byte UTF-8 sequences, which are always encoded with bytes >= 0x80.
func Sanitize(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '|' || c == '\r' || c == '\n' || c < 0x20 {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// asciiTransliterator folds accented Latin characters to their closest
// plain-ASCII form (NFD decompose, drop combining marks, recompose).
var asciiTransliterator = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Transliterate makes value safe to place on an outbound 7-bit ASCII
// wire. Accented Latin letters fold to their base letter; any rune the
// decompose/strip pass cannot reduce to ASCII is replaced with '?'.
// This is the write-boundary policy required by the formatter; it does
// not touch '|', \r, \n, or control bytes — callers sanitize first.
func Transliterate(value string) string {
	folded, _, err := transform.String(asciiTransliterator, value)
	if err != nil {
		folded = value
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r <= 0x7F {
			b.WriteByte(byte(r))
			continue
		}
		b.WriteByte('?')
	}
	return b.String()
}
