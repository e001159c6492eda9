// Package disposable holds the set of known disposable mailbox domains.
package disposable

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"
)

//go:embed list.txt
var rawList string

var (
	defaultOnce sync.Once
	defaultSet  *Set
)

// Set is an immutable set of lowercase domains. Safe for concurrent use.
type Set struct {
	domains map[string]struct{}
}

// Default returns the embedded list.
func Default() *Set {
	defaultOnce.Do(func() {
		s, _ := Parse(strings.NewReader(rawList))
		defaultSet = s
	})
	return defaultSet
}

// Parse reads one domain per line. Blank lines and lines starting with #
// are skipped.
func Parse(r io.Reader) (*Set, error) {
	s := &Set{domains: make(map[string]struct{})}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.domains[strings.ToLower(line)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read disposable list: %w", err)
	}
	return s, nil
}

// Merge returns a new set holding the domains of s and other.
func (s *Set) Merge(other *Set) *Set {
	out := &Set{domains: make(map[string]struct{}, s.Len()+other.Len())}
	for d := range s.domains {
		out.domains[d] = struct{}{}
	}
	for d := range other.domains {
		out.domains[d] = struct{}{}
	}
	return out
}

// Contains reports whether domain is a known disposable domain.
// The match is exact and case-insensitive.
func (s *Set) Contains(domain string) bool {
	if s == nil {
		return false
	}
	_, ok := s.domains[strings.ToLower(strings.TrimSuffix(domain, "."))]
	return ok
}

// Len returns the number of domains in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.domains)
}
