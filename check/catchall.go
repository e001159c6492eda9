package check

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/optimode/deliverkit/internal/domaincache"
	"github.com/optimode/deliverkit/internal/metrics"
	"github.com/optimode/deliverkit/internal/parse"
	"github.com/optimode/deliverkit/types"
)

// syntheticPrefix starts the local part of the made-up recipient.
const syntheticPrefix = "fakeuser"

// CatchAllDetector probes a recipient that cannot exist to find out whether
// a domain accepts every address. The answer is kept per domain.
type CatchAllDetector struct {
	smtp   *SMTPProbe
	store  *domaincache.Store
	random io.Reader
}

// NewCatchAllDetector reuses the host walking and greylist handling of smtp.
func NewCatchAllDetector(smtp *SMTPProbe, store *domaincache.Store) *CatchAllDetector {
	return &CatchAllDetector{smtp: smtp, store: store, random: rand.Reader}
}

// WithStore returns a copy of d that runs through smtp and remembers its
// answers in store.
func (d *CatchAllDetector) WithStore(smtp *SMTPProbe, store *domaincache.Store) *CatchAllDetector {
	cp := *d
	cp.smtp = smtp
	cp.store = store
	return &cp
}

// probeFailure is an inconclusive detection. It is returned as an error so
// that the domain cache does not keep it.
type probeFailure struct {
	outcome types.CheckOutcome
}

func (e *probeFailure) Error() string { return e.outcome.Code + ": " + e.outcome.Detail }

// Unwrap lets a waiting caller take over a detection that ran out of time.
func (e *probeFailure) Unwrap() error {
	if e.outcome.Code == types.CodeTimeout {
		return context.DeadlineExceeded
	}
	return nil
}

// Detect must only be called after the real recipient was accepted.
// Catch-all domains are FAIL catch_all, discriminating domains PASS. Any
// other answer is INCONCLUSIVE with the code the session ended on.
func (d *CatchAllDetector) Detect(ctx context.Context, email parse.Email, hosts []string) types.CheckOutcome {
	var decided types.CheckOutcome
	state, hit, err := d.store.DetectCatchAll(ctx, email.Domain, func(ctx context.Context) (domaincache.CatchAllState, error) {
		out, err := d.probe(ctx, email.Domain, hosts)
		if err != nil {
			return domaincache.CatchAllUnknown, err
		}
		decided = out
		switch {
		case out.Status == types.StatusPass:
			return domaincache.CatchAllDetected, nil
		case out.Code == types.CodeMailboxNotFound:
			return domaincache.CatchAllDiscriminating, nil
		}
		return domaincache.CatchAllUnknown, &probeFailure{outcome: out}
	})
	metrics.ObserveCache("catch_all", hit)

	if err != nil {
		var pf *probeFailure
		switch {
		case errors.As(err, &pf):
			// A session that ended early says nothing about the domain.
			out := pf.outcome
			out.Status = types.StatusInconclusive
			return out
		case ctx.Err() != nil:
			return inconclusive(types.StageCatchAll, types.CodeTimeout, "catch-all probe aborted: "+ctx.Err().Error())
		}
		return inconclusive(types.StageCatchAll, types.CodeProtocolError, err.Error())
	}

	if hit {
		decided = types.CheckOutcome{
			Stage:  types.StageCatchAll,
			Code:   types.CodeCached,
			Detail: fmt.Sprintf("%s (cached for %s)", state, email.Domain),
		}
	}
	if state == domaincache.CatchAllDetected {
		decided.Status = types.StatusFail
		if !hit {
			decided.Code = types.CodeCatchAll
			decided.Detail = "domain accepts unknown recipients: " + decided.Detail
		}
	} else {
		decided.Status = types.StatusPass
		if !hit {
			decided.Code = types.CodeDiscriminating
			decided.Detail = "domain rejects unknown recipients: " + decided.Detail
		}
	}
	return decided
}

// probe sends RCPT for a random recipient through the SMTP stage's host walk.
func (d *CatchAllDetector) probe(ctx context.Context, domain string, hosts []string) (types.CheckOutcome, error) {
	if len(hosts) == 0 {
		return inconclusive(types.StageCatchAll, types.CodeMXUnresolved, "no mail hosts to probe"), nil
	}
	d.store.Touch(domain)
	local, err := d.syntheticLocal()
	if err != nil {
		return types.CheckOutcome{}, fmt.Errorf("generate synthetic recipient: %w", err)
	}

	out, tried := d.smtp.probeHosts(ctx, local+"@"+domain, hosts)
	return smtpOutcome(types.StageCatchAll, out, tried), nil
}

func (d *CatchAllDetector) syntheticLocal() (string, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(d.random, buf); err != nil {
		return "", err
	}
	return syntheticPrefix + hex.EncodeToString(buf), nil
}
