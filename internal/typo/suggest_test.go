package typo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/optimode/deliverkit/internal/typo"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		s, t string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"gmail.com", "gmial.com", 2},
		{"münchen", "munchen", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, typo.Distance(tt.s, tt.t), "%q vs %q", tt.s, tt.t)
		assert.Equal(t, tt.want, typo.Distance(tt.t, tt.s), "symmetry %q vs %q", tt.t, tt.s)
	}
}

func TestSuggest(t *testing.T) {
	assert.Equal(t, "gmail.com", typo.Suggest("gmial.com", typo.Providers, 2))
	assert.Equal(t, "hotmail.com", typo.Suggest("hotmial.com", typo.Providers, 2))
	assert.Equal(t, "", typo.Suggest("gmail.com", typo.Providers, 2), "exact match")
	assert.Equal(t, "", typo.Suggest("example.org", typo.Providers, 2))
}
