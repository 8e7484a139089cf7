package server

import (
	"net/http"
	"strconv"
	"time"

	"orchestra/internal/constants"
	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/operations"

	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"
)

// worktreeQueryFilters are the query parameters accepted by the worktree listing
var worktreeQueryFilters = []string{"status", "branch_name", "task_id", "issue_url"}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Swagger documentation
	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)

	s.echo.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	api := s.echo.Group("/api")

	worktrees := api.Group("/worktrees")
	worktrees.GET("", s.handleListWorktrees)
	worktrees.POST("", s.handleCreateWorktree)
	worktrees.GET("/stats", s.handleWorktreeStats)
	worktrees.POST("/reconcile", s.handleReconcile)
	worktrees.GET("/:id", s.handleGetWorktree)
	worktrees.PATCH("/:id", s.handleUpdateWorktree)
	worktrees.DELETE("/:id", s.handleDeleteWorktree)
	worktrees.POST("/:id/commands", s.handleRunCommand)

	zones := api.Group("/zones")
	zones.GET("", s.handleListZones)
	zones.POST("", s.handleCreateZone)
	zones.POST("/apply", s.handleApplyZones)
	zones.GET("/:id", s.handleGetZone)
	zones.PATCH("/:id", s.handleUpdateZone)
	zones.DELETE("/:id", s.handleDeleteZone)
	zones.POST("/:id/worktrees", s.handleAssignWorktree)
	zones.DELETE("/:id/worktrees/:wid", s.handleRemoveWorktree)
	zones.GET("/:id/executions", s.handleListExecutions)

	api.POST("/events", s.handlePostEvent)
	api.GET("/events/ws", s.handleEventStream)

	api.GET("/context/stats", s.handleContextStats)
	api.DELETE("/context/cache", s.handleClearContextCache)

	api.GET("/actions", s.handleListActions)
}

// handleHealth godoc
// @Summary Health check
// @Description Report API liveness, uptime, zone workers and database health
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:   "healthy",
		Version:  constants.Version,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Database: "unknown",
	}
	if s.deps.Zones != nil {
		resp.ActiveWorkers = s.deps.Zones.ActiveWorkers()
	}
	if s.deps.Bus != nil {
		resp.StreamClients = s.deps.Bus.Subscribers()
	}

	status := http.StatusOK
	if s.deps.Database != nil {
		if err := s.deps.Database.PingContext(requestContext(c)); err != nil {
			resp.Database = "unhealthy"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "healthy"
		}
	}
	return c.JSON(status, resp)
}

// handleListWorktrees godoc
// @Summary List worktrees
// @Description List worktrees, optionally filtered by status, branch, task or issue
// @Tags worktrees
// @Produce json
// @Param status query string false "Filter by status"
// @Param branch_name query string false "Filter by branch"
// @Param task_id query string false "Filter by task id"
// @Param issue_url query string false "Filter by issue URL"
// @Success 200 {object} WorktreesResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/worktrees [get]
func (s *Server) handleListWorktrees(c echo.Context) error {
	filters := map[string]interface{}{}
	for _, name := range worktreeQueryFilters {
		if v := c.QueryParam(name); v != "" {
			filters[name] = v
		}
	}

	worktrees, err := s.deps.Worktrees.ListWorktrees(requestContext(c), filters)
	if err != nil {
		return err
	}
	if worktrees == nil {
		worktrees = []*db.Worktree{}
	}
	return c.JSON(http.StatusOK, WorktreesResponse{Worktrees: worktrees, Total: len(worktrees)})
}

// handleCreateWorktree godoc
// @Summary Create worktree
// @Description Allocate a port, check out the branch and register an active worktree
// @Tags worktrees
// @Accept json
// @Produce json
// @Param request body operations.CreateWorktreeRequest true "Worktree to create"
// @Success 201 {object} db.Worktree
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/worktrees [post]
func (s *Server) handleCreateWorktree(c echo.Context) error {
	var req operations.CreateWorktreeRequest
	if err := c.Bind(&req); err != nil {
		return errors.BadRequest("Invalid request body", err.Error())
	}

	w, err := s.deps.Worktrees.CreateWorktree(requestContext(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, w)
}

// handleWorktreeStats godoc
// @Summary Worktree statistics
// @Description Count worktrees by status and report port utilization
// @Tags worktrees
// @Produce json
// @Success 200 {object} operations.WorktreeStats
// @Router /api/worktrees/stats [get]
func (s *Server) handleWorktreeStats(c echo.Context) error {
	stats, err := s.deps.Worktrees.GetStats(requestContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// handleReconcile godoc
// @Summary Reconcile worktrees
// @Description Run one orphan reconciliation pass now
// @Tags worktrees
// @Produce json
// @Success 200 {object} operations.ReconcileReport
// @Router /api/worktrees/reconcile [post]
func (s *Server) handleReconcile(c echo.Context) error {
	report, err := s.deps.Worktrees.Reconcile(requestContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// handleGetWorktree godoc
// @Summary Get worktree
// @Tags worktrees
// @Produce json
// @Param id path string true "Worktree ID"
// @Success 200 {object} db.Worktree
// @Failure 404 {object} ErrorResponse
// @Router /api/worktrees/{id} [get]
func (s *Server) handleGetWorktree(c echo.Context) error {
	w, err := s.deps.Worktrees.GetWorktree(requestContext(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

// handleUpdateWorktree godoc
// @Summary Update worktree
// @Description Change status or task id. Port and id are immutable.
// @Tags worktrees
// @Accept json
// @Produce json
// @Param id path string true "Worktree ID"
// @Param request body operations.WorktreeUpdate true "Fields to change"
// @Success 200 {object} db.Worktree
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/worktrees/{id} [patch]
func (s *Server) handleUpdateWorktree(c echo.Context) error {
	var update operations.WorktreeUpdate
	if err := c.Bind(&update); err != nil {
		return errors.BadRequest("Invalid request body", err.Error())
	}

	w, err := s.deps.Worktrees.UpdateWorktree(requestContext(c), c.Param("id"), update)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

// handleDeleteWorktree godoc
// @Summary Delete worktree
// @Description Remove the checkout, release the port and mark the worktree deleted
// @Tags worktrees
// @Produce json
// @Param id path string true "Worktree ID"
// @Success 200 {object} db.Worktree
// @Failure 404 {object} ErrorResponse
// @Router /api/worktrees/{id} [delete]
func (s *Server) handleDeleteWorktree(c echo.Context) error {
	w, err := s.deps.Worktrees.DeleteWorktree(requestContext(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

// handleRunCommand godoc
// @Summary Run command
// @Description Run an allow-listed command in an active worktree. A non-zero exit is reported in the body.
// @Tags worktrees
// @Accept json
// @Produce json
// @Param id path string true "Worktree ID"
// @Param request body CommandRequest true "Command line"
// @Success 200 {object} CommandResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/worktrees/{id}/commands [post]
func (s *Server) handleRunCommand(c echo.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return errors.BadRequest("Invalid request body", err.Error())
	}

	result, err := s.deps.Worktrees.RunCommand(requestContext(c), c.Param("id"), req.Command)
	if result != nil && (err == nil || errors.HasCode(err, errors.ErrActionFailed)) {
		return c.JSON(http.StatusOK, commandResponse(result.Command, result.ExitCode, result.Output, result.Duration))
	}
	if err != nil {
		return err
	}
	return errors.Internal("command produced no result", nil)
}

// queryLimit parses the limit query parameter; zero means the default
func queryLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.InvalidInput("limit", "must be a non-negative integer")
	}
	return n, nil
}
