package server

import (
	"net/http"

	"orchestra/internal/config"
	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/operations"

	"github.com/labstack/echo/v4"
)

// handleListZones godoc
// @Summary List zones
// @Tags zones
// @Produce json
// @Success 200 {object} ZonesResponse
// @Router /api/zones [get]
func (s *Server) handleListZones(c echo.Context) error {
	zones, err := s.deps.Zones.ListZones(requestContext(c))
	if err != nil {
		return err
	}
	if zones == nil {
		zones = []*db.Zone{}
	}
	return c.JSON(http.StatusOK, ZonesResponse{Zones: zones, Total: len(zones)})
}

// handleCreateZone godoc
// @Summary Create zone
// @Tags zones
// @Accept json
// @Produce json
// @Param request body operations.ZoneInput true "Zone to create"
// @Success 201 {object} db.Zone
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/zones [post]
func (s *Server) handleCreateZone(c echo.Context) error {
	var input operations.ZoneInput
	if err := c.Bind(&input); err != nil {
		return errors.BadRequest("Invalid request body", err.Error())
	}

	zone, err := s.deps.Zones.CreateZone(requestContext(c), input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, zone)
}

// handleApplyZones godoc
// @Summary Apply zone definitions
// @Description Create or update zones by name. Membership of existing zones is kept.
// @Tags zones
// @Accept json
// @Produce json
// @Param request body config.ZoneFile true "Zone definitions"
// @Success 200 {object} operations.ApplyReport
// @Failure 400 {object} ErrorResponse
// @Router /api/zones/apply [post]
func (s *Server) handleApplyZones(c echo.Context) error {
	var zf config.ZoneFile
	if err := c.Bind(&zf); err != nil {
		return errors.BadRequest("Invalid request body", err.Error())
	}

	report, err := s.deps.Zones.ApplyZoneFile(requestContext(c), &zf)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// handleGetZone godoc
// @Summary Get zone
// @Tags zones
// @Produce json
// @Param id path string true "Zone ID"
// @Success 200 {object} db.Zone
// @Failure 404 {object} ErrorResponse
// @Router /api/zones/{id} [get]
func (s *Server) handleGetZone(c echo.Context) error {
	zone, err := s.deps.Zones.GetZone(requestContext(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, zone)
}

// handleUpdateZone godoc
// @Summary Update zone
// @Tags zones
// @Accept json
// @Produce json
// @Param id path string true "Zone ID"
// @Param request body operations.ZoneUpdate true "Fields to change"
// @Success 200 {object} db.Zone
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/zones/{id} [patch]
func (s *Server) handleUpdateZone(c echo.Context) error {
	var update operations.ZoneUpdate
	if err := c.Bind(&update); err != nil {
		return errors.BadRequest("Invalid request body", err.Error())
	}

	zone, err := s.deps.Zones.UpdateZone(requestContext(c), c.Param("id"), update)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, zone)
}

// handleDeleteZone godoc
// @Summary Delete zone
// @Description Detach every member worktree and delete the zone
// @Tags zones
// @Produce json
// @Param id path string true "Zone ID"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/zones/{id} [delete]
func (s *Server) handleDeleteZone(c echo.Context) error {
	if err := s.deps.Zones.DeleteZone(requestContext(c), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Zone deleted"})
}

// handleAssignWorktree godoc
// @Summary Assign worktree
// @Description Add a worktree to the zone, moving it out of any other zone
// @Tags zones
// @Accept json
// @Produce json
// @Param id path string true "Zone ID"
// @Param request body AssignRequest true "Worktree to assign"
// @Success 200 {object} db.Zone
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/zones/{id}/worktrees [post]
func (s *Server) handleAssignWorktree(c echo.Context) error {
	var req AssignRequest
	if err := c.Bind(&req); err != nil {
		return errors.BadRequest("Invalid request body", err.Error())
	}
	if req.WorktreeID == "" {
		return errors.InvalidInput("worktree_id", "is required")
	}

	ctx := requestContext(c)
	if err := s.deps.Zones.AssignWorktreeToZone(ctx, req.WorktreeID, c.Param("id"), nil); err != nil {
		return err
	}
	zone, err := s.deps.Zones.GetZone(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, zone)
}

// handleRemoveWorktree godoc
// @Summary Remove worktree from zone
// @Tags zones
// @Produce json
// @Param id path string true "Zone ID"
// @Param wid path string true "Worktree ID"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/zones/{id}/worktrees/{wid} [delete]
func (s *Server) handleRemoveWorktree(c echo.Context) error {
	ctx := requestContext(c)
	zoneID, worktreeID := c.Param("id"), c.Param("wid")

	if _, err := s.deps.Zones.GetZone(ctx, zoneID); err != nil {
		return err
	}
	holder, err := s.deps.Zones.ZoneOfWorktree(ctx, worktreeID)
	if err != nil {
		return err
	}
	if holder == nil || holder.ID != zoneID {
		return errors.NotFound("zone member", worktreeID).WithContext("zone_id", zoneID)
	}

	if err := s.deps.Zones.RemoveWorktreeFromZone(ctx, worktreeID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Worktree removed from zone"})
}

// handleListExecutions godoc
// @Summary List trigger executions
// @Description Trigger executions of the zone, newest first
// @Tags zones
// @Produce json
// @Param id path string true "Zone ID"
// @Param status query string false "running, succeeded or failed"
// @Param limit query int false "Maximum number of executions"
// @Success 200 {object} ExecutionsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/zones/{id}/executions [get]
func (s *Server) handleListExecutions(c echo.Context) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}

	ctx := requestContext(c)
	if _, err := s.deps.Zones.GetZone(ctx, c.Param("id")); err != nil {
		return err
	}
	execs, err := s.deps.Zones.ListExecutions(ctx, c.Param("id"), c.QueryParam("status"), limit)
	if err != nil {
		return err
	}
	if execs == nil {
		execs = []*db.TriggerExecution{}
	}
	return c.JSON(http.StatusOK, ExecutionsResponse{Executions: execs, Total: len(execs)})
}

// handlePostEvent godoc
// @Summary Raise an external event
// @Description Queue trigger evaluation of an event for the zone holding the worktree
// @Tags events
// @Accept json
// @Produce json
// @Param request body operations.ExternalEvent true "Event"
// @Success 202 {object} EventAccepted
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/events [post]
func (s *Server) handlePostEvent(c echo.Context) error {
	var ev operations.ExternalEvent
	if err := c.Bind(&ev); err != nil {
		return errors.BadRequest("Invalid request body", err.Error())
	}

	queued, err := s.deps.Zones.HandleEvent(requestContext(c), ev)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, EventAccepted{Queued: queued})
}

// handleContextStats godoc
// @Summary Context cache statistics
// @Tags context
// @Produce json
// @Success 200 {object} ContextStatsResponse
// @Router /api/context/stats [get]
func (s *Server) handleContextStats(c echo.Context) error {
	if s.deps.Context == nil {
		return c.JSON(http.StatusOK, ContextStatsResponse{})
	}
	stats := s.deps.Context.GetCacheStats()
	return c.JSON(http.StatusOK, ContextStatsResponse{Hits: stats.Hits, Misses: stats.Misses, Size: stats.Size})
}

// handleClearContextCache godoc
// @Summary Clear context cache
// @Description Drop the cached context of one issue URL, or all entries when url is empty
// @Tags context
// @Produce json
// @Param url query string false "Issue URL"
// @Success 200 {object} MessageResponse
// @Router /api/context/cache [delete]
func (s *Server) handleClearContextCache(c echo.Context) error {
	if s.deps.Context != nil {
		s.deps.Context.ClearCache(c.QueryParam("url"))
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Context cache cleared"})
}

// handleListActions godoc
// @Summary List action types
// @Tags actions
// @Produce json
// @Success 200 {object} ActionTypesResponse
// @Router /api/actions [get]
func (s *Server) handleListActions(c echo.Context) error {
	types := []string{}
	if s.deps.Actions != nil {
		types = s.deps.Actions.Types()
	}
	return c.JSON(http.StatusOK, ActionTypesResponse{Actions: types})
}
