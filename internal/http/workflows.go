package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// handleStartRun accepts a run and executes it in the background.
func (s *Server) handleStartRun(c echo.Context) error {
	var req workflow.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	rec, err := s.deps.Runs.Start(ctx, req)
	if err != nil {
		s.logger.Warn(ctx, "workflow run rejected", zap.String("run_id", rec.ID), zap.Error(err))
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/workflows/"+rec.ID)
	return c.JSON(http.StatusAccepted, rec)
}

func (s *Server) handleListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, RunListResponse{Runs: s.deps.Runs.Active()})
}

func (s *Server) handleGetRun(c echo.Context) error {
	rec, err := s.deps.Runs.Get(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	resp := RunResponse{Record: rec}
	if last, ok := s.deps.Runs.Progress(rec.ID); ok {
		resp.Progress = &last
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCancelRun(c echo.Context) error {
	id := c.Param("id")
	if err := s.deps.Runs.Cancel(id); err != nil {
		return httpError(err)
	}
	s.logger.Info(c.Request().Context(), "workflow run cancel requested", zap.String("run_id", id))
	return c.JSON(http.StatusAccepted, CancelResponse{ID: id, Message: "cancellation requested"})
}

// handleLegacyRun runs a workflow to completion and answers in the
// original response shape.
func (s *Server) handleLegacyRun(c echo.Context) error {
	var body LegacyRunRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req, err := body.Request()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported workflow_type: "+body.WorkflowType)
	}

	ctx := c.Request().Context()
	rec, err := s.deps.Runs.Start(ctx, req)
	switch {
	case errors.Is(err, workflow.ErrInvalidRequest):
		return httpError(err)
	case err != nil && rec.ID == "":
		return httpError(err)
	case err != nil:
		return c.JSON(http.StatusOK, legacyResponse(rec, LegacyRejected))
	}

	rec, err = s.deps.Runs.Wait(ctx, rec.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "client went away before the run finished")
	}
	status := LegacyAccepted
	if rec.Status == workflow.StatusError {
		status = LegacyError
	}
	return c.JSON(http.StatusOK, legacyResponse(rec, status))
}
