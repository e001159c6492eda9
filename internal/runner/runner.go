// Package runner drives one verification run: it pulls candidates from a
// source in batches, verifies them, stores the finalized results and
// acknowledges what was stored.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/optimode/deliverkit"
	"github.com/optimode/deliverkit/internal/source"
	"github.com/optimode/deliverkit/internal/storage"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitPartial = 1
	ExitHard    = 2
)

// Summary counts what a run did.
type Summary struct {
	Processed int            `json:"processed"`
	Stored    int            `json:"stored"`
	Failed    int            `json:"failed"`
	Pending   int            `json:"pending"`
	Verdicts  map[string]int `json:"verdicts"`
}

// ExitCode maps the summary to a process exit status. Hard failures are
// reported by Run's error instead.
func (s Summary) ExitCode() int {
	if s.Failed > 0 || s.Pending > 0 {
		return ExitPartial
	}
	return ExitOK
}

// Runner wires a source, a verifier and a store together.
type Runner struct {
	Source   source.Source
	Store    storage.Store
	Verifier *deliverkit.Verifier

	// BatchSize is the number of candidates pulled per batch. Default: 10
	BatchSize int
	// Workers is the number of domains verified concurrently. Default: 5
	Workers int
	// Timeout bounds the whole run. 0 means no limit beyond ctx.
	Timeout time.Duration

	Log logrus.FieldLogger
}

// Run processes batches until the source is exhausted or the run deadline
// passes. The returned error is non-nil only for hard failures: a source
// read error or an unusable verifier configuration.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	// Domain knowledge is shared by the batches of this run only.
	verifier := r.Verifier.Fresh()

	sum := Summary{Verdicts: make(map[string]int)}
	for batch := 1; ctx.Err() == nil; batch++ {
		items, err := r.Source.Next(ctx, batchSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return sum, fmt.Errorf("read source: %w", err)
		}
		if len(items) == 0 {
			continue
		}

		blog := log.WithField("batch", batch)
		if err := r.process(ctx, verifier, items, &sum, blog); err != nil {
			return sum, err
		}
	}

	log.WithFields(logrus.Fields{
		"processed": sum.Processed,
		"stored":    sum.Stored,
		"failed":    sum.Failed,
		"pending":   sum.Pending,
	}).Info("run finished")
	return sum, nil
}

func (r *Runner) process(ctx context.Context, verifier *deliverkit.Verifier, items []source.Item, sum *Summary, log logrus.FieldLogger) error {
	candidates := make([]deliverkit.Candidate, len(items))
	for i, it := range items {
		candidates[i] = it.Candidate
	}

	res, err := verifier.VerifyBatch(ctx, candidates, deliverkit.BatchOptions{Workers: r.Workers})
	if err != nil {
		return fmt.Errorf("verify batch: %w", err)
	}

	// Results keep input order with the pending candidates left out, so
	// walking both lists in step pairs every result with its item.
	next := 0
	for _, it := range items {
		if next >= len(res.Results) || !sameCandidate(res.Results[next], it.Candidate) {
			sum.Pending++
			log.WithField("address", it.Candidate.Address).Warn("candidate left pending at run deadline")
			continue
		}
		result := res.Results[next]
		next++
		sum.Processed++
		sum.Verdicts[result.Verdict]++

		// Store and ack on a context that outlives the run deadline so a
		// finalized result is not lost.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err := r.Store.Upsert(sctx, result)
		if err == nil {
			sum.Stored++
			err = r.Source.Ack(sctx, it)
			if err != nil {
				err = fmt.Errorf("ack: %w", err)
			}
		}
		cancel()
		if err != nil {
			sum.Failed++
			log.WithError(err).WithField("address", result.Address).Error("result not recorded")
		}
	}
	return nil
}

func sameCandidate(res deliverkit.VerificationResult, c deliverkit.Candidate) bool {
	return res.CorrelationID == c.CorrelationID && res.Address == strings.TrimSpace(c.Address)
}
