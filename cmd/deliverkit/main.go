// Command deliverkit verifies email deliverability in batches or serves
// the verification HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/optimode/deliverkit/internal/api"
	"github.com/optimode/deliverkit/internal/config"
	"github.com/optimode/deliverkit/internal/runner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(runner.ExitHard)
	}

	var code int
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "run":
		code = run(ctx, os.Args[2:])
	case "serve":
		code = serve(ctx, os.Args[2:])
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		code = runner.ExitHard
	}
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	cfg, log, ok := setup("run", args)
	if !ok {
		return runner.ExitHard
	}
	defer sentry.Flush(2 * time.Second)

	src, err := runner.OpenSource(ctx, cfg)
	if err != nil {
		return hardFailure(log, "open source", err)
	}
	store, err := runner.OpenStore(ctx, cfg)
	if err != nil {
		return hardFailure(log, "open store", err)
	}

	if cfg.MetricsAddr != "" {
		metricsApp := api.NewMetrics()
		go func() {
			if err := metricsApp.Listen(cfg.MetricsAddr); err != nil {
				log.WithError(err).Warn("metrics listener stopped")
			}
		}()
		defer metricsApp.Shutdown()
	}

	r := &runner.Runner{
		Source:    src,
		Store:     store,
		Verifier:  runner.NewVerifier(cfg, log),
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Timeout:   cfg.OverallTimeout,
		Log:       log,
	}
	sum, err := r.Run(ctx)
	if err != nil {
		return hardFailure(log, "run", err)
	}
	log.WithFields(logrus.Fields{
		"processed": sum.Processed,
		"stored":    sum.Stored,
		"failed":    sum.Failed,
		"pending":   sum.Pending,
		"verdicts":  sum.Verdicts,
	}).Info("summary")
	return sum.ExitCode()
}

func serve(ctx context.Context, args []string) int {
	cfg, log, ok := setup("serve", args)
	if !ok {
		return runner.ExitHard
	}
	defer sentry.Flush(2 * time.Second)

	store, err := runner.OpenStore(ctx, cfg)
	if err != nil {
		return hardFailure(log, "open store", err)
	}
	app := api.New(runner.NewVerifier(cfg, log), store, log, cfg.CacheTTL)

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.APIAddr).Info("api listening")
		errc <- app.Listen(cfg.APIAddr)
	}()

	select {
	case err := <-errc:
		return hardFailure(log, "listen", err)
	case <-ctx.Done():
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	return runner.ExitOK
}

// setup loads the configuration, applies flag overrides, validates and
// builds the logger. Problems are reported on stderr.
func setup(name string, args []string) (*config.Config, *logrus.Logger, bool) {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return nil, nil, false
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.Source, "source", cfg.Source, "Candidate source: file, sqs (env: DELIVERKIT_SOURCE)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Result store: memory, file, dynamodb, redis, postgres (env: DELIVERKIT_STORE)")
	fs.StringVar(&cfg.InputFile, "input", cfg.InputFile, "Input file, one address per line or CSV with an email column (env: DELIVERKIT_INPUT_FILE)")
	fs.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Output JSON file for the file store (env: DELIVERKIT_OUTPUT_FILE)")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Candidates pulled per batch (env: DELIVERKIT_BATCH_SIZE)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Domains verified concurrently (env: DELIVERKIT_WORKERS)")
	fs.DurationVar(&cfg.AddressTimeout, "address-timeout", cfg.AddressTimeout, "Per-address timeout (env: DELIVERKIT_ADDRESS_TIMEOUT)")
	fs.DurationVar(&cfg.OverallTimeout, "timeout", cfg.OverallTimeout, "Overall run timeout, 0 disables (env: DELIVERKIT_OVERALL_TIMEOUT)")
	fs.StringVar(&cfg.DisposableSource, "disposable-list", cfg.DisposableSource, "Extra disposable domains, file path or URL (env: DELIVERKIT_DISPOSABLE_SOURCE)")
	roles := fs.String("role-keywords", "", "Comma separated role keywords replacing the built-in list (env: DELIVERKIT_ROLE_KEYWORDS)")
	fs.BoolVar(&cfg.SkipSMTP, "skip-smtp", cfg.SkipSMTP, "Run the static checks only (env: DELIVERKIT_SKIP_SMTP)")
	fs.BoolVar(&cfg.SkipCatchAll, "skip-catch-all", cfg.SkipCatchAll, "Disable catch-all detection (env: DELIVERKIT_SKIP_CATCH_ALL)")
	fs.StringVar(&cfg.HeloDomain, "helo", cfg.HeloDomain, "EHLO domain (env: DELIVERKIT_HELO_DOMAIN)")
	fs.StringVar(&cfg.MailFrom, "mail-from", cfg.MailFrom, "MAIL FROM address (env: DELIVERKIT_MAIL_FROM)")
	fs.StringVar(&cfg.SMTPPort, "port", cfg.SMTPPort, "SMTP port (env: DELIVERKIT_SMTP_PORT)")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "SMTP connect timeout (env: DELIVERKIT_CONNECT_TIMEOUT)")
	fs.DurationVar(&cfg.CommandTimeout, "command-timeout", cfg.CommandTimeout, "SMTP command timeout (env: DELIVERKIT_COMMAND_TIMEOUT)")
	fs.IntVar(&cfg.MaxMXHosts, "max-mx", cfg.MaxMXHosts, "Mail hosts tried per address (env: DELIVERKIT_MAX_MX_HOSTS)")
	fs.DurationVar(&cfg.GreylistBackoff, "greylist-backoff", cfg.GreylistBackoff, "Wait before retrying a greylisted recipient (env: DELIVERKIT_GREYLIST_BACKOFF)")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "New SMTP connections per second (env: DELIVERKIT_RATE_LIMIT)")
	fs.StringVar(&cfg.ProxyAddress, "proxy", cfg.ProxyAddress, "SOCKS5 proxy host:port (env: DELIVERKIT_PROXY_ADDRESS)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (env: LOG_LEVEL)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve /metrics on this address during run (env: DELIVERKIT_METRICS_ADDR)")
	fs.StringVar(&cfg.APIAddr, "listen", cfg.APIAddr, "API listen address for serve (env: DELIVERKIT_API_ADDR)")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "How long serve reuses resolved mail hosts and catch-all answers (env: DELIVERKIT_CACHE_TTL)")
	if err := fs.Parse(args); err != nil {
		return nil, nil, false
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if *roles != "" {
		cfg.RoleKeywords = config.SplitList(*roles)
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return nil, nil, false
	}

	log, err := cfg.NewLogger()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return nil, nil, false
	}
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.WithError(err).Warn("sentry disabled")
		}
	}
	return cfg, log, true
}

func hardFailure(log logrus.FieldLogger, step string, err error) int {
	log.WithError(err).Error(step + " failed")
	sentry.CaptureException(fmt.Errorf("%s: %w", step, err))
	return runner.ExitHard
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `deliverkit: email deliverability verification

Usage:
  deliverkit <command> [flags]

Commands:
  run    Verify candidates from the configured source and store the results
  serve  Serve the HTTP API (result lookup, on-demand verification, metrics)

Exit status of run:
  0  every candidate verified and stored
  1  some results not stored or acknowledged, or candidates left pending
  2  configuration, initialization or source failure

Configuration is read from .env, the YAML file named by DELIVERKIT_CONFIG
and DELIVERKIT_* environment variables; flags override all of them.

Examples:
  deliverkit run --input emails.txt --output results.json --helo verifier.example.com --mail-from probe@verifier.example.com
  deliverkit run --source sqs --store dynamodb --timeout 14m
  deliverkit serve --store redis --listen :8080

`)
}
