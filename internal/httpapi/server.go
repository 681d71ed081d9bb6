package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/logging"
	"PolicyWatch/internal/metrics"
	"PolicyWatch/internal/usecase"
)

// Server exposes the pipeline operations over JSON.
type Server struct {
	app      *fiber.App
	pipeline *usecase.Pipeline
	logger   *slog.Logger

	// base outlives requests; runs started over HTTP execute under it.
	base context.Context
	runs sync.WaitGroup
}

// New builds the fiber app and registers every route.
func New(base context.Context, pipeline *usecase.Pipeline, recorder *metrics.Recorder, logger *slog.Logger) *Server {
	s := &Server{
		pipeline: pipeline,
		logger:   logging.OrDiscard(logger).With("component", "http"),
		base:     base,
	}

	app := fiber.New(fiber.Config{
		AppName:               "policywatch",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(s.requestLog)

	api := app.Group("/api")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "time": time.Now().Unix()})
	})

	runs := api.Group("/pipeline/runs")
	runs.Post("/", s.startRun)
	runs.Get("/", s.listRuns)
	runs.Get("/latest", s.latestRun)
	runs.Get("/:id", s.getRun)
	runs.Post("/:id/approve", s.approveRun)
	runs.Post("/:id/reject", s.rejectRun)

	api.Get("/pipeline/findings", s.listFindings)
	api.Get("/pipeline/verifications", s.listVerifications)
	api.Get("/policies", s.listPolicies)

	app.Get("/metrics", recorder.Handler())

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks serving addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server starting", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for runs started over HTTP.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Wait blocks until background runs finish.
func (s *Server) Wait() { s.runs.Wait() }

func (s *Server) requestLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start),
	)
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrRunAwaitingReview),
		errors.Is(err, domain.ErrRunInProgress):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
