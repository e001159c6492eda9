// Package api serves stored results and on-demand verification over HTTP.
package api

import (
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/optimode/deliverkit"
	"github.com/optimode/deliverkit/internal/storage"
)

// VerifyRequest is the body of POST /v1/verify.
type VerifyRequest struct {
	Address       string `json:"address" validate:"required,max=320"`
	CorrelationID string `json:"correlationId" validate:"max=128"`
}

// DefaultCacheTTL is used when New is given no positive cache TTL.
const DefaultCacheTTL = 15 * time.Minute

// Server holds the HTTP handlers.
type Server struct {
	verifiers *rotation
	store     storage.Store
	log       logrus.FieldLogger
	validate  *validator.Validate
}

// New returns the fiber app with every route registered. Requests share
// what the verifier learns about domains for cacheTTL, after which a fresh
// verifier takes over.
func New(v *deliverkit.Verifier, store storage.Store, log logrus.FieldLogger, cacheTTL time.Duration) *fiber.App {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	s := &Server{
		verifiers: &rotation{base: v, ttl: cacheTTL, now: time.Now},
		store:     store,
		log:       log,
		validate:  validator.New(),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(s.logRequests)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/v1")
	v1.Get("/results/:address", s.getResult)
	v1.Post("/verify", s.verify)
	return app
}

// NewMetrics returns an app serving only /metrics, for batch runs.
func NewMetrics() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	return app
}

func (s *Server) getResult(c *fiber.Ctx) error {
	address, err := url.PathUnescape(c.Params("address"))
	if err != nil || address == "" {
		return fiber.NewError(fiber.StatusBadRequest, "invalid address")
	}
	res, err := s.store.Get(c.UserContext(), address)
	if errors.Is(err, storage.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no result for address")
	}
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) verify(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	res, err := s.verifiers.current().Verify(c.UserContext(), deliverkit.Candidate{
		Address:       req.Address,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return err
	}
	if err := s.store.Upsert(c.UserContext(), res); err != nil {
		s.log.WithError(err).WithField("address", res.Address).Error("result not stored")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "result not stored",
			"result": res,
		})
	}
	return c.JSON(res)
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	} else if err != nil {
		status = fiber.StatusInternalServerError
	}
	s.log.WithFields(logrus.Fields{
		"method":  c.Method(),
		"path":    c.Path(),
		"status":  status,
		"elapsed": time.Since(start).String(),
	}).Debug("request")
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, msg = fe.Code, fe.Message
	} else {
		s.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// rotation hands out a Verifier whose domain cache is at most ttl old.
// Requests already running keep the verifier they started with.
type rotation struct {
	base *deliverkit.Verifier
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	live  *deliverkit.Verifier
	since time.Time
}

func (r *rotation) current() *deliverkit.Verifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.live == nil || now.Sub(r.since) >= r.ttl {
		r.live = r.base.Fresh()
		r.since = now
	}
	return r.live
}
