// Command deliverkit-lambda is the SQS-triggered Lambda entry point. Each
// invocation verifies the records of its event, stores the results and
// reports the records that were not stored as batch item failures.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/optimode/deliverkit"
	"github.com/optimode/deliverkit/internal/config"
	"github.com/optimode/deliverkit/internal/runner"
	"github.com/optimode/deliverkit/internal/source"
	"github.com/optimode/deliverkit/internal/storage"
)

// deadlineMargin is kept free at the end of an invocation for storing
// results and returning the response.
const deadlineMargin = 5 * time.Second

type handler struct {
	verifier *deliverkit.Verifier
	store    storage.Store
	cfg      *config.Config
	log      logrus.FieldLogger
}

// Handle processes one SQS event. Records left pending or not stored are
// returned as failures so SQS redelivers them.
func (h *handler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	src := source.NewLambdaSQS(event)

	timeout := h.cfg.OverallTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl) - deadlineMargin; left > 0 && (timeout == 0 || left < timeout) {
			timeout = left
		}
	}

	r := &runner.Runner{
		Source:    src,
		Store:     h.store,
		Verifier:  h.verifier,
		BatchSize: h.cfg.BatchSize,
		Workers:   h.cfg.Workers,
		Timeout:   timeout,
		Log:       h.log,
	}
	sum, err := r.Run(ctx)
	if err != nil {
		sentry.CaptureException(err)
		return events.SQSEventResponse{}, err
	}

	resp := src.Response()
	h.log.WithFields(logrus.Fields{
		"records":   len(event.Records),
		"processed": sum.Processed,
		"stored":    sum.Stored,
		"failed":    len(resp.BatchItemFailures),
		"pending":   sum.Pending,
	}).Info("invocation finished")
	return resp, nil
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	cfg.Source = config.SourceLambda
	if l, err := cfg.NewLogger(); err == nil {
		l.SetFormatter(&logrus.JSONFormatter{})
		log = l
	}
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.WithError(err).Warn("sentry disabled")
		}
		defer sentry.Flush(2 * time.Second)
	}

	store, err := runner.OpenStore(context.Background(), cfg)
	if err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		log.WithError(err).Error("open store")
		os.Exit(runner.ExitHard)
	}

	h := &handler{
		verifier: runner.NewVerifier(cfg, log),
		store:    store,
		cfg:      cfg,
		log:      log,
	}
	lambda.Start(h.Handle)
}
