package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultHonorifics are stripped from attendant references before lookup.
var DefaultHonorifics = []string{
	"dr.", "dra.", "prof.", "profa.", "mr.", "mrs.", "ms.",
	"doctor", "doutor", "doutora", "dentist", "attendant", "salesperson",
}

// fold lowercases s and removes diacritics so "João" matches "joao".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func tokenKey(tok string) string {
	return strings.TrimRight(fold(tok), ".,")
}

type tokenSet map[string]struct{}

func newTokenSet(words []string) tokenSet {
	set := make(tokenSet, len(words))
	for _, w := range words {
		if k := tokenKey(strings.TrimSpace(w)); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

func (s tokenSet) has(tok string) bool {
	_, ok := s[tokenKey(tok)]
	return ok
}

// normalizeName strips honorific tokens from both ends of raw and returns
// the folded remainder. Tokens in the middle of a name are kept.
func normalizeName(raw string, honorifics tokenSet) string {
	tokens := strings.Fields(raw)
	for len(tokens) > 0 && honorifics.has(tokens[0]) {
		tokens = tokens[1:]
	}
	for len(tokens) > 0 && honorifics.has(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	return fold(strings.Join(tokens, " "))
}
