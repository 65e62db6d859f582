// Package textnorm canonicalizes names and query text so that index patterns
// and queries compare byte-for-byte.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalForms are organization-form tokens in canonical (lowercase, no
// punctuation) form. Tokens in this set are never part of a name core.
var legalForms = map[string]struct{}{
	"llc": {}, "inc": {}, "incorporated": {}, "corp": {}, "corporation": {},
	"ltd": {}, "limited": {}, "lp": {}, "llp": {}, "plc": {}, "pllc": {},
	"co": {}, "company": {}, "gmbh": {}, "ag": {}, "sa": {}, "bv": {}, "jsc": {},
	"pjsc": {}, "ojsc": {}, "cjsc": {},
	"ооо": {}, "оао": {}, "зао": {}, "пао": {}, "ао": {}, "нао": {}, "ип": {},
	"тов": {}, "пат": {}, "прат": {}, "ат": {}, "фоп": {}, "пп": {}, "дп": {},
}

// IsLegalForm reports whether tok is an organization legal form such as
// LLC, ООО or ТОВ.
func IsLegalForm(tok string) bool {
	_, ok := legalForms[strings.ReplaceAll(Canonical(tok), " ", "")]
	return ok
}

// Canonical returns s NFKC-folded, lowercased, with combining marks removed,
// punctuation replaced by spaces, and whitespace collapsed. Digits are kept.
func Canonical(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = norm.NFKC.String(s)
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			space = false
		case r == '\'' || r == '’':
			// apostrophes join: o'brien -> obrien
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), " ")
}

// Tokens splits the canonical form of s into words.
func Tokens(s string) []string {
	return strings.Fields(Canonical(s))
}

// StripLegalForms removes legal-form tokens and returns the rest in order,
// plus the removed forms joined by a space.
func StripLegalForms(tokens []string) (core []string, forms string) {
	var removed []string
	for _, t := range tokens {
		if IsLegalForm(t) {
			removed = append(removed, t)
			continue
		}
		core = append(core, t)
	}
	return core, strings.Join(removed, " ")
}

// CanonicalID folds an identifier to its comparable form: the canonical
// letters and digits with separators dropped, so "77-07-083893" equals
// "7707083893" while "AB12345678" stays distinct from "12345678".
func CanonicalID(s string) string {
	return strings.ReplaceAll(Canonical(s), " ", "")
}

// DigitsOnly strips everything but ASCII digits. Used to canonicalize
// identifiers such as "77-07-083893".
func DigitsOnly(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
