package check

import (
	"context"
	"strings"
	"unicode"

	"github.com/badoux/checkmail"

	"github.com/optimode/deliverkit/internal/parse"
	"github.com/optimode/deliverkit/types"
)

const (
	maxAddressLen = 254
	maxLocalLen   = 64
	maxLabelLen   = 63
)

// SyntaxChecker validates address structure according to RFC 5321/5322
// with RFC 6531 (SMTPUTF8) and IDNA2008 internationalization support.
// A failure here is terminal for the pipeline.
type SyntaxChecker struct{}

func NewSyntaxChecker() *SyntaxChecker {
	return &SyntaxChecker{}
}

func (c *SyntaxChecker) Check(_ context.Context, email parse.Email) types.CheckOutcome {
	if email.Raw == "" {
		return malformed("empty email address")
	}
	if hasControl(email.Raw) {
		return malformed("address contains control character")
	}
	if !email.Valid {
		return malformed("address must contain exactly one @ with non-empty local part and domain")
	}

	if len(email.Raw) > maxAddressLen || len(email.Address()) > maxAddressLen {
		return malformed("email address exceeds 254 characters")
	}
	if len(email.Local) > maxLocalLen {
		return malformed("local part exceeds 64 characters")
	}

	if email.Quoted {
		if err := validateQuoted(email.Local); err != "" {
			return malformed(err)
		}
	} else if err := validateLocal(email.Local); err != "" {
		return malformed(err)
	}

	if err := validateDomain(email.DomainUnicode); err != "" {
		return malformed(err)
	}

	// checkmail covers the plain ASCII form; quoted and SMTPUTF8 local parts
	// are outside its grammar and were validated above.
	if !email.Quoted && isASCII(email.Local) {
		if err := checkmail.ValidateFormat(email.Local + "@" + email.Domain); err != nil {
			return malformed("invalid email format: " + err.Error())
		}
	}

	return types.CheckOutcome{Stage: types.StageSyntax, Status: types.StatusPass, Detail: "syntax ok"}
}

func malformed(detail string) types.CheckOutcome {
	return types.CheckOutcome{
		Stage:  types.StageSyntax,
		Status: types.StatusFail,
		Code:   types.CodeMalformed,
		Detail: detail,
	}
}

func hasControl(s string) bool {
	for _, ch := range s {
		if unicode.IsControl(ch) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// validateQuoted accepts any printable character inside the quotes,
// including spaces. Returns error text, or "" if ok.
func validateQuoted(local string) string {
	inner := local[1 : len(local)-1]
	if inner == "" {
		return "quoted local part is empty"
	}
	for _, ch := range inner {
		if unicode.IsControl(ch) {
			return "local part contains control character"
		}
	}
	return ""
}

// validateLocal validates an unquoted local part.
// Supports RFC 5321 ASCII characters and RFC 6531 (SMTPUTF8) Unicode characters.
// Returns error text, or "" if ok.
func validateLocal(local string) string {
	if local == "" {
		return "local part is empty"
	}

	// RFC 5321 ASCII special characters (besides alphanumeric)
	asciiSpecial := "!#$%&'*+/=?^_`{|}~-."

	for _, ch := range local {
		if ch > 127 {
			if unicode.IsControl(ch) || unicode.IsSpace(ch) {
				return "local part contains whitespace or control character"
			}
			continue
		}
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			continue
		}
		if !strings.ContainsRune(asciiSpecial, ch) {
			return "local part contains invalid character: " + string(ch)
		}
	}

	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return "local part cannot start or end with a dot"
	}
	if strings.Contains(local, "..") {
		return "local part cannot contain consecutive dots"
	}

	return ""
}

// validateDomain validates the domain part (Unicode form).
// Returns error text, or "" if ok.
func validateDomain(domain string) string {
	if domain == "" {
		return "domain is empty"
	}
	if strings.HasPrefix(domain, "[") {
		return "domain literals are not supported"
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return "domain must contain at least one dot"
	}

	for _, label := range labels {
		if label == "" {
			return "domain contains empty label"
		}
		if len(label) > maxLabelLen {
			return "domain label exceeds 63 characters"
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return "domain label cannot start or end with a hyphen"
		}
		for _, ch := range label {
			if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '-' {
				return "domain label contains invalid character: " + string(ch)
			}
		}
	}

	tld := labels[len(labels)-1]
	for _, ch := range tld {
		if !unicode.IsDigit(ch) {
			return ""
		}
	}
	return "TLD cannot be all digits"
}
