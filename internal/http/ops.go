package http

import (
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/autopilot/internal/governance"
)

// handleEvaluate runs the governance evaluator over a submitted diff.
func (s *Server) handleEvaluate(c echo.Context) error {
	var req EvaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()

	var policy governance.Policy
	switch {
	case req.Policy != nil:
		policy = *req.Policy
	case req.ProjectID != "":
		p, err := s.deps.Resolver.Resolve(ctx, req.ProjectID)
		if err != nil {
			return httpError(err)
		}
		policy = p.Config.Governance
	}

	res, err := s.deps.Governance.Evaluate(ctx, req.Diff, policy)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// handleMonitorCheck scans log files on demand. It never starts a run.
func (s *Server) handleMonitorCheck(c echo.Context) error {
	var req MonitorCheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.LogPaths) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "log_paths is required")
	}
	ctx := c.Request().Context()

	paths := req.LogPaths
	if req.ProjectID != "" {
		p, err := s.deps.Resolver.Resolve(ctx, req.ProjectID)
		if err != nil {
			return httpError(err)
		}
		paths = make([]string, len(req.LogPaths))
		for i, lp := range req.LogPaths {
			if !filepath.IsAbs(lp) {
				lp = filepath.Join(p.Path, lp)
			}
			paths[i] = lp
		}
	}

	res, err := s.deps.Monitor.Scan(ctx, paths, req.MaxLines)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
