package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/autopilot/internal/project"
)

func (s *Server) handleListProjects(c echo.Context) error {
	entries := s.deps.Projects.List(c.Request().Context())
	if entries == nil {
		entries = []project.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleRegisterProject(c echo.Context) error {
	var req RegisterProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e, err := s.deps.Projects.Register(c.Request().Context(), project.Entry{
		ProjectID: req.ProjectID,
		RepoURL:   req.RepoURL,
		Path:      req.Path,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ProjectResponse{
		ProjectID: e.ProjectID,
		RepoURL:   e.RepoURL,
		Message:   "project registered",
	})
}

func (s *Server) handleRemoveProject(c echo.Context) error {
	id := c.Param("id")
	if err := s.deps.Projects.Unregister(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ProjectResponse{ProjectID: id, Message: "project removed"})
}
