package deliverkit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/optimode/deliverkit/check"
	"github.com/optimode/deliverkit/internal/disposable"
	"github.com/optimode/deliverkit/internal/domaincache"
	"github.com/optimode/deliverkit/internal/metrics"
	"github.com/optimode/deliverkit/internal/parse"
	"github.com/optimode/deliverkit/internal/smtpprobe"
	"github.com/optimode/deliverkit/types"
)

// checker is the interface of the static stages.
type checker interface {
	Check(ctx context.Context, email parse.Email) types.CheckOutcome
}

// Verifier is the main fluent builder struct.
// Instantiate with the New() function. A Verifier is safe for concurrent
// use once configured; the builder methods are not.
type Verifier struct {
	syntax     checker
	disposable checker
	role       checker

	mx       *check.MXResolver
	smtp     *check.SMTPProbe
	catchAll *check.CatchAllDetector

	store          *domaincache.Store
	addressTimeout time.Duration
	log            logrus.FieldLogger
	now            func() time.Time

	err error // configuration error, returned on Verify()
}

// New creates a Verifier that runs the static stages only: syntax,
// disposable domain and role address. Add the network stages with WithDNS
// and WithSMTP.
func New() *Verifier {
	return &Verifier{
		syntax:         check.NewSyntaxChecker(),
		disposable:     check.NewDisposableChecker(check.DisposableConfig{TypoThreshold: defaultDisposableOptions().TypoThreshold}),
		role:           check.NewRoleChecker(nil),
		store:          domaincache.New(),
		addressTimeout: DefaultAddressTimeout,
		log:            discardLogger(),
		now:            time.Now,
	}
}

// Fresh returns a Verifier with v's configuration and an empty domain cache.
// Resolved mail hosts and catch-all answers are only trusted for one run, so
// batch runs call Fresh once at the start and long-lived servers call it
// periodically.
func (v *Verifier) Fresh() *Verifier {
	cp := *v
	cp.store = domaincache.New()
	if v.mx != nil {
		cp.mx = v.mx.WithStore(cp.store)
	}
	if v.smtp != nil {
		cp.smtp = v.smtp.WithStore(cp.store)
	}
	if v.catchAll != nil {
		cp.catchAll = v.catchAll.WithStore(cp.smtp, cp.store)
	}
	return &cp
}

// WithDisposable replaces the disposable domain list and typo settings.
// A list Source that cannot be loaded is reported by Verify.
func (v *Verifier) WithDisposable(opts DisposableOptions) *Verifier {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	list, err := disposable.Load(ctx, opts.Source, client)
	if err != nil {
		v.err = fmt.Errorf("%w: disposable list: %v", ErrInvalidOptions, err)
		return v
	}
	v.disposable = check.NewDisposableChecker(check.DisposableConfig{
		List:          list,
		TypoThreshold: opts.TypoThreshold,
	})
	return v
}

// WithRole replaces the role keyword list.
func (v *Verifier) WithRole(opts RoleOptions) *Verifier {
	v.role = check.NewRoleChecker(opts.Keywords)
	return v
}

// WithDNS adds the MX stage to the pipeline.
// Optionally overrides the default DNSOptions.
func (v *Verifier) WithDNS(opts ...DNSOptions) *Verifier {
	o := defaultDNSOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	v.mx = check.NewMXResolver(check.MXConfig{Timeout: o.Timeout}, v.store, o.Resolver)
	return v
}

// WithSMTP adds the SMTP probe and, unless SkipCatchAll is set, catch-all
// detection. The MX stage is added with default options when WithDNS was
// not called. SMTPOptions.HeloDomain and MailFrom are required.
func (v *Verifier) WithSMTP(opts SMTPOptions) *Verifier {
	if opts.HeloDomain == "" || opts.MailFrom == "" {
		v.err = ErrInvalidSMTPOptions
		return v
	}
	// Apply defaults for unset values
	def := defaultSMTPOptions()
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = def.CommandTimeout
	}
	if opts.MaxMXHosts == 0 {
		opts.MaxMXHosts = def.MaxMXHosts
	}
	if opts.Port == "" {
		opts.Port = def.Port
	}
	if opts.GreylistBackoff == 0 {
		opts.GreylistBackoff = def.GreylistBackoff
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = def.RateLimit
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = def.RateBurst
	}

	if v.mx == nil {
		v.WithDNS()
	}

	cfg := smtpprobe.Config{
		HeloDomain:     opts.HeloDomain,
		MailFrom:       opts.MailFrom,
		ConnectTimeout: opts.ConnectTimeout,
		CommandTimeout: opts.CommandTimeout,
		Port:           opts.Port,
		RateLimit:      opts.RateLimit,
		RateBurst:      opts.RateBurst,
		Dial:           opts.Dial,
		Logger:         v.log,
	}
	if opts.Proxy != nil {
		cfg.Proxy = &smtpprobe.ProxyConfig{
			Address:  opts.Proxy.Address,
			Username: opts.Proxy.Username,
			Password: opts.Proxy.Password,
		}
	}
	prober, err := smtpprobe.New(cfg)
	if err != nil {
		v.err = fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		return v
	}

	v.smtp = check.NewSMTPProbe(check.SMTPConfig{
		MaxMXHosts:      opts.MaxMXHosts,
		GreylistBackoff: opts.GreylistBackoff,
		CommandTimeout:  opts.CommandTimeout,
	}, v.store, prober)
	v.catchAll = nil
	if !opts.SkipCatchAll {
		v.catchAll = check.NewCatchAllDetector(v.smtp, v.store)
	}
	return v
}

// WithAddressTimeout sets the ceiling on the time spent verifying one
// address. Default: DefaultAddressTimeout
func (v *Verifier) WithAddressTimeout(d time.Duration) *Verifier {
	if d <= 0 {
		v.err = fmt.Errorf("%w: address timeout must be positive", ErrInvalidOptions)
		return v
	}
	v.addressTimeout = d
	return v
}

// WithLogger sets the logger. Call it before WithSMTP so the prober logs
// through it too. Default: discard
func (v *Verifier) WithLogger(log logrus.FieldLogger) *Verifier {
	if log != nil {
		v.log = log
	}
	return v
}

// Verify runs the pipeline for one candidate. The returned error is non-nil
// only for configuration errors; network conditions are reported in the
// result's check trail.
//
// The pipeline short-circuits on a syntax failure and on a domain without a
// mail host. The whole call is bounded by the address timeout.
func (v *Verifier) Verify(ctx context.Context, c Candidate) (VerificationResult, error) {
	if v.err != nil {
		return VerificationResult{}, v.err
	}

	start := v.now()
	actx, cancel := context.WithTimeout(ctx, v.addressTimeout)
	defer cancel()

	email := parse.NewEmail(c.Address)
	log := v.log.WithFields(logrus.Fields{
		"address":        email.Raw,
		"domain":         email.Domain,
		"correlation_id": c.CorrelationID,
	})

	t := &trail{log: log}
	t.record(v.syntax.Check(actx, email))
	if t.last().Status == types.StatusFail {
		return v.finish(c, email, t, start), nil
	}

	t.record(v.disposable.Check(actx, email))
	v.store.MarkDisposable(email.Domain, t.last().Status == types.StatusFail)
	t.record(v.role.Check(actx, email))

	if v.mx != nil {
		v.network(actx, email, t)
	}
	return v.finish(c, email, t, start), nil
}

// network runs the MX, SMTP and catch-all stages while holding the
// domain's network slot.
func (v *Verifier) network(ctx context.Context, email parse.Email, t *trail) {
	release, err := v.store.Acquire(ctx, email.Domain)
	if err != nil {
		t.fill(v.networkStages(types.StageMX), types.CodeTimeout, "address timeout while waiting for domain slot")
		return
	}
	defer release()

	mx, hosts := v.mx.Resolve(ctx, email)
	t.record(mx)
	switch mx.Status {
	case types.StatusFail:
		return
	case types.StatusInconclusive:
		code, detail := types.CodeMXUnresolved, "mail hosts not resolved"
		if mx.Code == types.CodeTimeout {
			code, detail = types.CodeTimeout, "address timeout"
		}
		t.fill(v.networkStages(types.StageSMTP), code, detail)
		return
	}

	if v.smtp == nil {
		return
	}
	rcpt := v.smtp.Probe(ctx, email, hosts)
	t.record(rcpt)
	if rcpt.Code == types.CodeTimeout {
		t.fill(v.networkStages(types.StageCatchAll), types.CodeTimeout, "address timeout")
		return
	}
	if rcpt.Status != types.StatusPass || v.catchAll == nil {
		return
	}
	t.record(v.catchAll.Detect(ctx, email, hosts))
}

// networkStages lists the configured network stages from stage on.
func (v *Verifier) networkStages(from types.Stage) []types.Stage {
	var stages []types.Stage
	add := func(s types.Stage, on bool) {
		if on && (len(stages) > 0 || s == from) {
			stages = append(stages, s)
		}
	}
	add(types.StageMX, v.mx != nil)
	add(types.StageSMTP, v.smtp != nil)
	add(types.StageCatchAll, v.catchAll != nil)
	return stages
}

func (v *Verifier) finish(c Candidate, email parse.Email, t *trail, start time.Time) VerificationResult {
	verdict, confidence, reasons := Aggregate(t.checks)
	res := VerificationResult{
		Address:       email.Raw,
		CorrelationID: c.CorrelationID,
		Verdict:       verdict,
		Confidence:    confidence,
		Reasons:       reasons,
		Checks:        t.checks,
		Elapsed:       v.now().Sub(start),
		VerifiedAt:    start.UTC(),
	}
	metrics.ObserveVerdict(verdict)
	t.log.WithFields(logrus.Fields{
		"verdict":    verdict,
		"confidence": confidence,
		"elapsed":    res.Elapsed.String(),
	}).Info("address verified")
	return res
}

// trail accumulates the stage outcomes of one address in pipeline order.
type trail struct {
	checks []types.CheckOutcome
	log    logrus.FieldLogger
}

func (t *trail) record(o types.CheckOutcome) {
	t.checks = append(t.checks, o)
	metrics.ObserveStage(o.Stage, o.Status, o.Code)
	t.log.WithFields(logrus.Fields{
		"stage":   o.Stage,
		"status":  o.Status,
		"code":    o.Code,
		"mx_host": o.MXHost,
	}).Debug(o.Detail)
}

func (t *trail) last() types.CheckOutcome {
	return t.checks[len(t.checks)-1]
}

// fill records stages that could not run.
func (t *trail) fill(stages []types.Stage, code, detail string) {
	for _, s := range stages {
		t.record(types.CheckOutcome{
			Stage:  s,
			Status: types.StatusInconclusive,
			Code:   code,
			Detail: detail,
		})
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
