package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// scanIntegrity handles GET /api/v1/integrity/scan
// @Summary Scan integrity
// @Description Audit the catalog against the storage directories
// @Tags Integrity
// @Produce json
// @Success 200 {object} integrity.ScanReport "Scan report"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/integrity/scan [get]
func (s *Server) scanIntegrity(c echo.Context) error {
	report, err := s.engine.ScanIntegrity(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// repairIntegrity handles POST /api/v1/integrity/repair
//
// Only orphaned files are removed. dry_run=true reports what would be.
// @Summary Repair integrity
// @Description Remove orphaned files found by a fresh scan
// @Tags Integrity
// @Produce json
// @Param dry_run query bool false "Report without removing"
// @Success 200 {object} IntegrityRepairResponse "Scan and repair result"
// @Failure 400 {object} APIError "Invalid request"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/integrity/repair [post]
func (s *Server) repairIntegrity(c echo.Context) error {
	dryRun := false
	if v := c.QueryParam("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return BadRequestError("invalid dry_run parameter", "dry_run must be true or false")
		}
		dryRun = b
	}

	report, result, err := s.engine.RepairIntegrity(c.Request().Context(), dryRun)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, IntegrityRepairResponse{Scan: report, Repair: result})
}

// listMaintenanceJobs handles GET /api/v1/maintenance/jobs
// @Summary List maintenance jobs
// @Description Get the status of the background maintenance jobs
// @Tags Maintenance
// @Produce json
// @Success 200 {object} MaintenanceJobsResponse "Job status"
// @Router /api/v1/maintenance/jobs [get]
func (s *Server) listMaintenanceJobs(c echo.Context) error {
	jobs := s.engine.MaintenanceJobs()
	return c.JSON(http.StatusOK, MaintenanceJobsResponse{Count: len(jobs), Jobs: jobs})
}
