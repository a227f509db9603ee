// Package http provides the HTTP API for supportd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/opslinelabs/supportd/internal/knowledge"
	"github.com/opslinelabs/supportd/internal/orchestrator"
	"github.com/opslinelabs/supportd/internal/retrieval"
	"github.com/opslinelabs/supportd/internal/ticket"
)

// Resolver handles one support request end to end.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*orchestrator.Resolution, error)
}

// KnowledgeReader exposes the read-only corpus surface.
type KnowledgeReader interface {
	FaqDocument() knowledge.FaqDocument
	SopDocument() knowledge.SopDocument
}

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	resolver Resolver
	corpus   KnowledgeReader
	logger   *zap.Logger
	config   *Config
	metrics  *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(resolver Resolver, corpus KnowledgeReader, logger *zap.Logger, cfg *Config) (*Server, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if corpus == nil {
		return nil, fmt.Errorf("knowledge reader cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8085}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewHTTPMetrics(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			metrics.Record(c, duration)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		resolver: resolver,
		corpus:   corpus,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/resolve", s.handleResolve)
	v1.GET("/faq", s.handleFaq)
	v1.GET("/sop", s.handleSop)
}

// Echo exposes the underlying router so main can attach extra handlers
// (e.g. /metrics).
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// ResolveRequest is the request body for POST /api/v1/resolve.
type ResolveRequest struct {
	Query string `json:"query"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleResolve runs one support request through the resolution pipeline.
func (s *Server) handleResolve(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid resolve request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.resolver.Resolve(c.Request().Context(), req.Query)
	if err != nil {
		switch {
		case errors.Is(err, retrieval.ErrRetrievalUnavailable),
			errors.Is(err, knowledge.ErrStoreUnavailable):
			s.logger.Error("resolution backend unavailable", zap.Error(err))
			return echo.NewHTTPError(http.StatusServiceUnavailable, "support backend temporarily unavailable")
		case errors.Is(err, ticket.ErrTicketCreationFailed):
			// The resolution payload explains the failure to the user.
			return c.JSON(http.StatusOK, res)
		default:
			s.logger.Error("resolution failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleFaq(c echo.Context) error {
	return c.JSON(http.StatusOK, s.corpus.FaqDocument())
}

func (s *Server) handleSop(c echo.Context) error {
	return c.JSON(http.StatusOK, s.corpus.SopDocument())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
