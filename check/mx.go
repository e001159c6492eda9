package check

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/optimode/deliverkit/internal/domaincache"
	"github.com/optimode/deliverkit/internal/metrics"
	"github.com/optimode/deliverkit/internal/parse"
	"github.com/optimode/deliverkit/types"
)

// Resolver is the subset of *net.Resolver used by the MX stage.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// MXConfig is the MX resolver configuration.
type MXConfig struct {
	// Timeout bounds each DNS query.
	Timeout time.Duration
}

// MXResolver resolves the ordered mail hosts of a domain through the
// shared domain cache.
type MXResolver struct {
	cfg      MXConfig
	store    *domaincache.Store
	resolver Resolver
}

// NewMXResolver uses a default *net.Resolver when r is nil.
func NewMXResolver(cfg MXConfig, store *domaincache.Store, r Resolver) *MXResolver {
	if r == nil {
		r = &net.Resolver{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MXResolver{cfg: cfg, store: store, resolver: r}
}

// WithStore returns a copy of r that caches into store.
func (r *MXResolver) WithStore(store *domaincache.Store) *MXResolver {
	cp := *r
	cp.store = store
	return &cp
}

// errTransientDNS marks lookups that may succeed when repeated.
var errTransientDNS = errors.New("transient DNS failure")

func (c *MXResolver) Check(ctx context.Context, email parse.Email) types.CheckOutcome {
	out, _ := c.Resolve(ctx, email)
	return out
}

// Resolve returns the stage outcome and, on PASS, the ordered hosts.
func (c *MXResolver) Resolve(ctx context.Context, email parse.Email) (types.CheckOutcome, []string) {
	res, hit, err := c.store.ResolveMX(ctx, email.Domain, c.lookup(email.Domain))
	metrics.ObserveCache("mx", hit)

	if err != nil {
		if ctx.Err() != nil {
			return inconclusive(types.StageMX, types.CodeTimeout, "MX lookup aborted: "+ctx.Err().Error()), nil
		}
		return inconclusive(types.StageMX, types.CodeDNSTransient, err.Error()), nil
	}

	switch {
	case res.NullMX:
		return types.CheckOutcome{
			Stage:  types.StageMX,
			Status: types.StatusFail,
			Code:   types.CodeNullMX,
			Detail: "domain publishes a null MX and accepts no mail",
		}, nil
	case len(res.Hosts) == 0:
		return types.CheckOutcome{
			Stage:  types.StageMX,
			Status: types.StatusFail,
			Code:   types.CodeNoMailHost,
			Detail: "no MX records and no A/AAAA records found",
		}, nil
	case res.Fallback:
		return types.CheckOutcome{
			Stage:  types.StageMX,
			Status: types.StatusPass,
			Code:   types.CodeMXFallback,
			Detail: "no MX record, using the domain's A/AAAA record",
			MXHost: res.Hosts[0],
		}, res.Hosts
	}

	return types.CheckOutcome{
		Stage:  types.StageMX,
		Status: types.StatusPass,
		Detail: fmt.Sprintf("%d MX record(s) found", len(res.Hosts)),
		MXHost: res.Hosts[0],
	}, res.Hosts
}

// lookup runs the MX query with an A/AAAA fallback. Definitive answers,
// including "no mail host", are returned without error so that they are
// cached; only transient failures are errors.
func (c *MXResolver) lookup(domain string) func(context.Context) (domaincache.MXResult, error) {
	return func(ctx context.Context) (domaincache.MXResult, error) {
		qctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		records, err := c.resolver.LookupMX(qctx, domain)
		// LookupMX may return the valid records together with an error
		// about malformed ones.
		if err != nil && len(records) == 0 && !isNotFound(err) {
			return domaincache.MXResult{}, fmt.Errorf("%w: MX %s: %v", errTransientDNS, domain, err)
		}

		if len(records) == 1 && (records[0].Host == "." || records[0].Host == "") {
			return domaincache.MXResult{NullMX: true}, nil
		}
		if hosts := orderHosts(records); len(hosts) > 0 {
			return domaincache.MXResult{Hosts: hosts}, nil
		}

		addrs, err := c.resolver.LookupHost(qctx, domain)
		if err != nil && !isNotFound(err) {
			return domaincache.MXResult{}, fmt.Errorf("%w: A/AAAA %s: %v", errTransientDNS, domain, err)
		}
		if len(addrs) == 0 {
			return domaincache.MXResult{}, nil
		}
		return domaincache.MXResult{Hosts: []string{domain}, Fallback: true}, nil
	}
}

// orderHosts sorts by ascending preference, keeping lookup order for ties,
// and drops trailing dots, empty names and duplicates.
func orderHosts(records []*net.MX) []string {
	sorted := make([]*net.MX, 0, len(records))
	for _, r := range records {
		if r != nil {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Pref < sorted[j].Pref
	})

	seen := make(map[string]struct{}, len(sorted))
	hosts := make([]string, 0, len(sorted))
	for _, r := range sorted {
		h := strings.ToLower(strings.TrimSuffix(r.Host, "."))
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}
	return hosts
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func inconclusive(stage types.Stage, code, detail string) types.CheckOutcome {
	return types.CheckOutcome{
		Stage:  stage,
		Status: types.StatusInconclusive,
		Code:   code,
		Detail: detail,
	}
}
