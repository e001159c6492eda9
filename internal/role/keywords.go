// Package role classifies local parts that address a function rather than
// a person (admin@, support@, postmaster@).
//
// Matching is whole-token. The local part is lowercased, a +tag suffix is
// dropped and the rest is split on '.', '-' and '_'. An address is
// role-based when the untagged local part equals a keyword, or when its
// first token is a keyword and every remaining token is either a digit run
// or a keyword itself. Keywords are never matched as substrings of a word.
package role

import (
	"strings"
)

// DefaultKeywords is the built-in keyword list.
var DefaultKeywords = []string{
	"abuse", "admin", "administrator", "billing", "contact", "help",
	"hostmaster", "info", "marketing", "no-reply", "noreply", "office",
	"postmaster", "root", "sales", "security", "support", "team", "webmaster",
}

// Matcher is an immutable keyword set. Safe for concurrent use.
type Matcher struct {
	keywords map[string]struct{}
}

// NewMatcher builds a matcher. Keywords are lowercased and trimmed;
// an empty list yields DefaultKeywords.
func NewMatcher(keywords []string) *Matcher {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	m := &Matcher{keywords: make(map[string]struct{}, len(keywords))}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			m.keywords[k] = struct{}{}
		}
	}
	return m
}

// Match reports whether local is role-based and returns the keyword that
// matched.
func (m *Matcher) Match(local string) (string, bool) {
	local = strings.ToLower(strings.Trim(local, `"`))
	if i := strings.IndexByte(local, '+'); i >= 0 {
		local = local[:i]
	}
	if local == "" {
		return "", false
	}
	if m.has(local) {
		return local, true
	}

	tokens := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
	if len(tokens) < 2 || !m.has(tokens[0]) {
		return "", false
	}
	for _, tok := range tokens[1:] {
		if !isDigits(tok) && !m.has(tok) {
			return "", false
		}
	}
	return tokens[0], true
}

func (m *Matcher) has(tok string) bool {
	_, ok := m.keywords[tok]
	return ok
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
