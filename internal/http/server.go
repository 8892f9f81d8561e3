// Package http provides the HTTP API of autopilot.
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

	"github.com/fyrsmithlabs/autopilot/internal/governance"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/monitor"
	"github.com/fyrsmithlabs/autopilot/internal/orchestrator"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/runs"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// RunService starts and tracks workflow runs.
type RunService interface {
	Start(ctx context.Context, req workflow.Request) (workflow.Record, error)
	Get(id string) (workflow.Record, error)
	Cancel(id string) error
	Active() []workflow.Record
	Progress(id string) (orchestrator.StageProgress, bool)
	Wait(ctx context.Context, id string) (workflow.Record, error)
}

// ProjectStore is the project registry.
type ProjectStore interface {
	Register(ctx context.Context, e project.Entry) (project.Entry, error)
	List(ctx context.Context) []project.Entry
	Unregister(ctx context.Context, id string) error
}

// ProjectResolver resolves a project id to its directory and config.
type ProjectResolver interface {
	Resolve(ctx context.Context, id string) (*project.Project, error)
}

// PolicyEvaluator checks a diff against a governance policy.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, diffText string, policy governance.Policy) (*governance.Result, error)
}

// LogScanner scans log files for issues.
type LogScanner interface {
	Scan(ctx context.Context, paths []string, maxLines int) (monitor.Result, error)
}

// Deps are the services behind the API. Runs, Projects and Resolver are
// required.
type Deps struct {
	Runs       RunService
	Projects   ProjectStore
	Resolver   ProjectResolver
	Governance PolicyEvaluator
	Monitor    LogScanner
	// Metrics serves GET /metrics when set.
	Metrics     http.Handler
	HTTPMetrics *HTTPMetrics
}

// Server provides HTTP endpoints for autopilot.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// ShutdownTimeout bounds Shutdown when the caller's context has none.
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Runs == nil || deps.Projects == nil || deps.Resolver == nil {
		return nil, errors.New("runs, projects and resolver are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8600,
		}
	}
	if deps.Governance == nil {
		deps.Governance = governance.NewEvaluator()
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.NewScanner(monitor.WithLogger(logger))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("2M"))
	if deps.HTTPMetrics != nil {
		e.Use(deps.HTTPMetrics.MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), reqID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	s.echo.GET("/projects", s.handleListProjects)
	s.echo.POST("/projects/register", s.handleRegisterProject)
	s.echo.DELETE("/projects/:id", s.handleRemoveProject)

	// Synchronous run with the original response shape.
	s.echo.POST("/workflows/run", s.handleLegacyRun)
	s.echo.POST("/monitor/check", s.handleMonitorCheck)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/workflows", s.handleStartRun)
	v1.GET("/workflows", s.handleListRuns)
	v1.GET("/workflows/:id", s.handleGetRun)
	v1.POST("/workflows/:id/cancel", s.handleCancelRun)
	v1.POST("/governance/evaluate", s.handleEvaluate)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "healthy", ActiveRuns: len(s.deps.Runs.Active())})
}

// httpError maps domain errors to status codes.
func httpError(err error) *echo.HTTPError {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrInvalidRequest),
		errors.Is(err, project.ErrInvalidProjectID),
		errors.Is(err, project.ErrInvalidConfig):
		code = http.StatusBadRequest
	case errors.Is(err, project.ErrProjectNotFound), errors.Is(err, runs.ErrRunNotFound):
		code = http.StatusNotFound
	case errors.Is(err, project.ErrProjectExists), errors.Is(err, runs.ErrRunFinished):
		code = http.StatusConflict
	case errors.Is(err, runs.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	return echo.NewHTTPError(code, err.Error())
}

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	if _, ok := ctx.Deadline(); !ok && s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}
