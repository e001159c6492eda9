package parse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/optimode/deliverkit/internal/parse"
)

func TestNewEmail(t *testing.T) {
	tests := []struct {
		raw           string
		local         string
		domain        string
		domainUnicode string
		quoted        bool
	}{
		{raw: "user@example.com", local: "user", domain: "example.com", domainUnicode: "example.com"},
		{raw: "  user@example.com\t", local: "user", domain: "example.com", domainUnicode: "example.com"},
		{raw: "John.Doe@EXAMPLE.COM", local: "John.Doe", domain: "example.com", domainUnicode: "example.com"},
		{raw: `"a@b"@example.com`, local: `"a@b"`, domain: "example.com", domainUnicode: "example.com", quoted: true},
		{raw: `"with \" quote"@example.com`, local: `"with \" quote"`, domain: "example.com", domainUnicode: "example.com", quoted: true},
		{raw: "user@münchen.de", local: "user", domain: "xn--mnchen-3ya.de", domainUnicode: "münchen.de"},
		{raw: "user@xn--mnchen-3ya.de", local: "user", domain: "xn--mnchen-3ya.de", domainUnicode: "münchen.de"},
		{raw: "用户@example.com", local: "用户", domain: "example.com", domainUnicode: "example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			e := parse.NewEmail(tt.raw)
			assert.True(t, e.Valid)
			assert.Equal(t, tt.local, e.Local)
			assert.Equal(t, tt.domain, e.Domain)
			assert.Equal(t, tt.domainUnicode, e.DomainUnicode)
			assert.Equal(t, tt.quoted, e.Quoted)
			assert.Equal(t, tt.local+"@"+tt.domain, e.Address())
		})
	}
}

func TestNewEmail_Unsplittable(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"noatsign",
		"@nodomain",
		"nolocal@",
		"two@at@example.com",
		`"unterminated@example.com`,
	} {
		e := parse.NewEmail(raw)
		assert.False(t, e.Valid, raw)
		assert.Equal(t, e.Raw, e.Address(), "an invalid address keeps its raw form")
	}
}
