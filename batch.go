package deliverkit

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/optimode/deliverkit/internal/parse"
)

// BatchResult is the outcome of VerifyBatch.
type BatchResult struct {
	// Results holds one finalized result per started candidate, in input order.
	Results []VerificationResult
	// Pending holds the candidates that were not started before the batch
	// deadline. They have no result and should be redelivered by the source.
	Pending []Candidate
}

// VerifyBatch verifies candidates concurrently.
// Candidates are grouped by domain; up to Workers domains are verified at
// once and the candidates of one domain run one after another, so a
// destination never sees parallel probes from one batch and every address
// after the first reuses the domain's cached MX and catch-all results.
func (v *Verifier) VerifyBatch(ctx context.Context, candidates []Candidate, opts ...BatchOptions) (BatchResult, error) {
	if v.err != nil {
		return BatchResult{}, v.err
	}

	o := defaultBatchOptions()
	if len(opts) > 0 {
		o = opts[0]
		if o.Workers <= 0 {
			o.Workers = defaultBatchOptions().Workers
		}
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	// Build domain groups, sorted for deterministic scheduling
	groups := make(map[string][]int)
	for i, c := range candidates {
		d := parse.NewEmail(c.Address).Domain
		groups[d] = append(groups[d], i)
	}
	domains := make([]string, 0, len(groups))
	for d := range groups {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	results := make([]VerificationResult, len(candidates))
	started := make([]bool, len(candidates))

	var g errgroup.Group
	g.SetLimit(o.Workers)
	for _, d := range domains {
		idxs := groups[d]
		g.Go(func() error {
			for _, i := range idxs {
				if ctx.Err() != nil {
					return nil
				}
				started[i] = true
				res, err := v.Verify(ctx, candidates[i])
				if err != nil {
					return fmt.Errorf("verifying %q: %w", candidates[i].Address, err)
				}
				results[i] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	var out BatchResult
	for i, ok := range started {
		if ok {
			out.Results = append(out.Results, results[i])
		} else {
			out.Pending = append(out.Pending, candidates[i])
		}
	}
	v.log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"domains":    len(domains),
		"finalized":  len(out.Results),
		"pending":    len(out.Pending),
	}).Info("batch verified")
	return out, nil
}
