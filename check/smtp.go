package check

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/optimode/deliverkit/internal/domaincache"
	"github.com/optimode/deliverkit/internal/parse"
	"github.com/optimode/deliverkit/internal/smtpprobe"
	"github.com/optimode/deliverkit/types"
)

// Prober runs one SMTP recipient probe against one mail host.
// *smtpprobe.Prober implements it.
type Prober interface {
	Probe(ctx context.Context, host, rcpt string) smtpprobe.Outcome
}

// SMTPConfig is the SMTP stage configuration.
type SMTPConfig struct {
	// MaxMXHosts caps how many mail hosts are tried per address.
	MaxMXHosts int
	// GreylistBackoff is the wait before the single retry of a 4xx RCPT reply.
	GreylistBackoff time.Duration
	// CommandTimeout must match the prober's; the greylist retry is skipped
	// unless the remaining budget exceeds GreylistBackoff + CommandTimeout.
	CommandTimeout time.Duration
}

func (c *SMTPConfig) defaults() {
	if c.MaxMXHosts <= 0 {
		c.MaxMXHosts = 3
	}
	if c.GreylistBackoff <= 0 {
		c.GreylistBackoff = 5 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 10 * time.Second
	}
}

// SMTPProbe asks the domain's mail hosts, in preference order, whether they
// accept the recipient.
type SMTPProbe struct {
	cfg    SMTPConfig
	store  *domaincache.Store
	prober Prober
	sleep  func(context.Context, time.Duration) error
}

func NewSMTPProbe(cfg SMTPConfig, store *domaincache.Store, prober Prober) *SMTPProbe {
	cfg.defaults()
	return &SMTPProbe{cfg: cfg, store: store, prober: prober, sleep: sleepCtx}
}

// WithStore returns a copy of c bound to store. Connection rate limits stay
// shared with c.
func (c *SMTPProbe) WithStore(store *domaincache.Store) *SMTPProbe {
	cp := *c
	cp.store = store
	return &cp
}

// Probe runs the stage against hosts, which must come from a passing MX
// stage.
func (c *SMTPProbe) Probe(ctx context.Context, email parse.Email, hosts []string) types.CheckOutcome {
	if len(hosts) == 0 {
		return inconclusive(types.StageSMTP, types.CodeMXUnresolved, "no mail hosts to probe")
	}
	defer c.store.Touch(email.Domain)

	out, tried := c.probeHosts(ctx, email.Address(), hosts)
	return smtpOutcome(types.StageSMTP, out, tried)
}

// probeHosts walks hosts until one answers definitively for the domain.
// It returns the deciding outcome and the number of hosts tried.
func (c *SMTPProbe) probeHosts(ctx context.Context, rcpt string, hosts []string) (smtpprobe.Outcome, int) {
	if len(hosts) > c.cfg.MaxMXHosts {
		hosts = hosts[:c.cfg.MaxMXHosts]
	}

	var out smtpprobe.Outcome
	tried := 0
	for _, host := range hosts {
		tried++
		out = c.prober.Probe(ctx, host, rcpt)
		if out.Retryable && c.retryAllowed(ctx) {
			if err := c.sleep(ctx, c.cfg.GreylistBackoff); err != nil {
				out.Code = types.CodeTimeout
				out.Err = err
				return out, tried
			}
			out = c.prober.Probe(ctx, host, rcpt)
		}
		if !out.NextHost || ctx.Err() != nil {
			break
		}
	}
	return out, tried
}

func (c *SMTPProbe) retryAllowed(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > c.cfg.GreylistBackoff+c.cfg.CommandTimeout
}

func smtpOutcome(stage types.Stage, out smtpprobe.Outcome, tried int) types.CheckOutcome {
	res := types.CheckOutcome{
		Stage:        stage,
		Status:       out.Status,
		Code:         out.Code,
		MXHost:       out.Host,
		SMTPCode:     out.Reply.Code,
		EnhancedCode: out.Reply.Enhanced,
	}
	if res.Status == "" {
		res.Status = types.StatusInconclusive
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", out.State)
	switch {
	case out.Reply.Code != 0:
		b.WriteString(out.Reply.String())
	case out.Err != nil:
		b.WriteString(out.Err.Error())
	default:
		b.WriteString(out.Code)
	}
	if out.NextHost && tried > 1 {
		fmt.Fprintf(&b, " (all %d mail hosts failed)", tried)
	}
	res.Detail = b.String()
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
