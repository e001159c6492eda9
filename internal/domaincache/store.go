// Package domaincache holds the per-run DomainProfile store shared by the
// network stages. Each domain has a single writer per kind of result:
// concurrent requests for a domain whose resolution is in flight wait for
// that result instead of repeating the network round-trip.
package domaincache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CatchAllState is the tri-state catch-all classification of a domain.
type CatchAllState string

const (
	CatchAllUnknown        CatchAllState = "unknown"
	CatchAllDetected       CatchAllState = "catch_all"
	CatchAllDiscriminating CatchAllState = "discriminating"
)

// MXResult is a completed mail host resolution.
type MXResult struct {
	Hosts    []string // ordered by preference, empty when the domain has no mail host
	Fallback bool     // hosts came from the domain's own A/AAAA records
	NullMX   bool     // the domain publishes a null MX (RFC 7505)
}

// Profile is the cached knowledge about one domain.
type Profile struct {
	Domain     string        `json:"domain"`
	MXHosts    []string      `json:"mxHosts,omitempty"`
	Fallback   bool          `json:"fallback,omitempty"`
	Disposable bool          `json:"disposable,omitempty"`
	CatchAll   CatchAllState `json:"catchAll"`
	LastProbed time.Time     `json:"lastProbed,omitempty"`
}

// Store is a thread-safe, run-scoped DomainProfile store.
// Entries are never evicted; drop the Store at the end of the run.
type Store struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	gates    map[string]chan struct{}

	mx       group[MXResult]
	catchAll group[CatchAllState]

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		profiles: make(map[string]*Profile),
		gates:    make(map[string]chan struct{}),
		mx:       group[MXResult]{entries: make(map[string]*flight[MXResult])},
		catchAll: group[CatchAllState]{entries: make(map[string]*flight[CatchAllState])},
		now:      time.Now,
	}
}

// ResolveMX returns the cached resolution for domain or runs resolve as the
// single writer. Errors are never cached, so a transient failure is retried
// by the next caller. hit reports that the result was produced by another
// caller.
func (s *Store) ResolveMX(ctx context.Context, domain string, resolve func(context.Context) (MXResult, error)) (res MXResult, hit bool, err error) {
	res, hit, err = s.mx.do(ctx, domain, func() (MXResult, error) {
		r, err := resolve(ctx)
		if err == nil {
			s.update(domain, func(p *Profile) {
				p.MXHosts = append([]string(nil), r.Hosts...)
				p.Fallback = r.Fallback
			})
		}
		return r, err
	})
	res.Hosts = append([]string(nil), res.Hosts...)
	return res, hit, err
}

// DetectCatchAll returns the cached catch-all state for domain or runs
// detect as the single writer. Only definitive states are cached; detect
// reports an inconclusive probe by returning an error.
func (s *Store) DetectCatchAll(ctx context.Context, domain string, detect func(context.Context) (CatchAllState, error)) (state CatchAllState, hit bool, err error) {
	state, hit, err = s.catchAll.do(ctx, domain, func() (CatchAllState, error) {
		st, err := detect(ctx)
		if err == nil && st == CatchAllUnknown {
			err = errors.New("catch-all detection inconclusive")
		}
		if err == nil {
			s.update(domain, func(p *Profile) {
				p.CatchAll = st
				p.LastProbed = s.now()
			})
		}
		return st, err
	})
	if err != nil {
		return CatchAllUnknown, hit, err
	}
	return state, hit, nil
}

// MarkDisposable records the disposable list membership of a domain.
func (s *Store) MarkDisposable(domain string, disposable bool) {
	s.update(domain, func(p *Profile) { p.Disposable = disposable })
}

// Touch records a probe of domain without changing its classification.
func (s *Store) Touch(domain string) {
	s.update(domain, func(p *Profile) { p.LastProbed = s.now() })
}

// Profile returns a copy of the profile for domain.
func (s *Store) Profile(domain string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[domain]
	if !ok {
		return Profile{}, false
	}
	cp := *p
	cp.MXHosts = append([]string(nil), p.MXHosts...)
	return cp, true
}

// Len returns the number of profiles in the store (for diagnostics).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

// Acquire blocks until the caller holds the exclusive network slot for
// domain or ctx ends. The returned release func must be called exactly once.
func (s *Store) Acquire(ctx context.Context, domain string) (release func(), err error) {
	s.mu.Lock()
	gate, ok := s.gates[domain]
	if !ok {
		gate = make(chan struct{}, 1)
		s.gates[domain] = gate
	}
	s.mu.Unlock()

	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) update(domain string, fn func(*Profile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[domain]
	if !ok {
		p = &Profile{Domain: domain, CatchAll: CatchAllUnknown}
		s.profiles[domain] = p
	}
	fn(p)
}
