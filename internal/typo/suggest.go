// Package typo suggests a well-known mail provider for domains that look
// like a misspelling of one (gmial.com -> gmail.com).
package typo

// Providers is the list of major mailbox providers used for suggestions.
var Providers = []string{
	"gmail.com", "googlemail.com",
	"yahoo.com", "yahoo.co.uk", "yahoo.fr", "yahoo.de",
	"outlook.com", "hotmail.com", "hotmail.co.uk", "live.com",
	"icloud.com", "me.com", "mac.com",
	"protonmail.com", "proton.me",
	"aol.com", "zoho.com", "yandex.com", "yandex.ru",
	"mail.com", "gmx.com", "gmx.net", "gmx.de",
	"fastmail.com", "tutanota.com",
}

// Suggest returns the closest provider within threshold edits of domain,
// or "" when domain is itself a provider or nothing is close enough.
func Suggest(domain string, providers []string, threshold int) string {
	best, bestDist := "", threshold+1
	for _, p := range providers {
		if domain == p {
			return ""
		}
		if d := Distance(domain, p); d <= threshold && d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

// Distance computes the Levenshtein edit distance between two strings
// using two rows of min(m,n)+1 cells.
func Distance(s, t string) int {
	sr, tr := []rune(s), []rune(t)
	if len(sr) > len(tr) {
		sr, tr = tr, sr
	}
	if len(sr) == 0 {
		return len(tr)
	}

	prev := make([]int, len(sr)+1)
	curr := make([]int, len(sr)+1)
	for i := range prev {
		prev[i] = i
	}

	for j, tc := range tr {
		curr[0] = j + 1
		for i, sc := range sr {
			cost := 1
			if sc == tc {
				cost = 0
			}
			curr[i+1] = min(curr[i]+1, prev[i+1]+1, prev[i]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(sr)]
}
