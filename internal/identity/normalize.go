// Package identity detects patient records that describe the same person
// and merges them into one canonical record.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold strips diacritics so "José" and "Jose" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName reduces a full name to its first and last alphabetic
// tokens, lowercased. Single-token names are returned as that token.
func NormalizeName(name string) string {
	var tokens []string
	for _, field := range strings.Fields(strings.ToLower(fold(name))) {
		token := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) {
				return r
			}
			return -1
		}, field)
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	switch len(tokens) {
	case 0:
		return ""
	case 1:
		return tokens[0]
	default:
		return tokens[0] + " " + tokens[len(tokens)-1]
	}
}

// NormalizePhone keeps digits only and drops a leading US country code.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// NormalizeAddress lowercases and collapses punctuation and whitespace
// runs to single spaces.
func NormalizeAddress(address string) string {
	return collapse(strings.ToLower(fold(address)), ' ')
}

// Slug turns a name into a lowercase, hyphen-separated id fragment.
func Slug(name string) string {
	return collapse(strings.ToLower(fold(name)), '-')
}

func collapse(s string, sep rune) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteRune(sep)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
