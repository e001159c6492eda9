package parse

import (
	"strings"

	"golang.org/x/net/idna"
)

// Email is the parsed form of a candidate address.
// The check/ packages receive this as parameter.
type Email struct {
	Raw           string // the original, trimmed input
	Local         string // the part before @, case preserved
	Domain        string // the part after @, lowercased ASCII/Punycode form (for DNS/SMTP)
	DomainUnicode string // the part after @, Unicode form (for display/typo detection)
	Quoted        bool   // the local part is a quoted string
	Valid         bool   // false if Raw cannot be split into local part and domain
}

// Address returns the address in the form used on the wire: the local part
// as given and the ASCII domain.
func (e Email) Address() string {
	if !e.Valid {
		return e.Raw
	}
	return e.Local + "@" + e.Domain
}

// NewEmail splits raw into local part and domain.
// Exactly one @ outside a quoted local part is accepted. If splitting fails,
// Valid=false but Raw is always populated. Internationalized domain names
// (IDNA2008) are converted to their Punycode form.
func NewEmail(raw string) Email {
	raw = strings.TrimSpace(raw)

	at := separatorIndex(raw)
	if at < 1 || at >= len(raw)-1 {
		return Email{Raw: raw, Valid: false}
	}
	return buildEmail(raw, raw[:at], raw[at+1:])
}

// separatorIndex returns the index of the @ that separates local part and
// domain, or -1 when there is not exactly one outside quotes.
func separatorIndex(raw string) int {
	at := -1
	inQuote, escaped := false, false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case inQuote && c == '\\':
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == '@' && !inQuote:
			if at >= 0 {
				return -1
			}
			at = i
		}
	}
	if inQuote {
		return -1
	}
	return at
}

// buildEmail constructs an Email with proper IDNA domain handling.
func buildEmail(raw, local, domain string) Email {
	asciiDomain, unicodeDomain, ok := convertDomain(strings.ToLower(domain))
	if !ok {
		return Email{Raw: raw, Valid: false}
	}

	return Email{
		Raw:           raw,
		Local:         local,
		Domain:        asciiDomain,
		DomainUnicode: unicodeDomain,
		Quoted:        len(local) >= 2 && strings.HasPrefix(local, `"`) && strings.HasSuffix(local, `"`),
		Valid:         true,
	}
}

// convertDomain converts a domain to both ASCII/Punycode and Unicode forms.
// Returns (ascii, unicode, ok). ok is false if the domain contains
// non-ASCII characters that fail IDNA2008 validation.
func convertDomain(domain string) (ascii, unicode string, ok bool) {
	if !isASCII(domain) {
		a, err := idna.Lookup.ToASCII(domain)
		if err != nil {
			return "", "", false
		}
		return a, domain, true
	}

	// existing Punycode (xn--mnchen-3ya.de) gets a readable form
	u, err := idna.Display.ToUnicode(domain)
	if err != nil {
		u = domain
	}
	return domain, u, true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
