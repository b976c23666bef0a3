package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// maxExtendedHours bounds the extended history window to the store's
// retention.
const maxExtendedHours = 24

// getSystemMetrics handles GET /api/v1/system/metrics
// @Summary Get host metrics
// @Description Read host utilisation and capacity now
// @Tags Metrics
// @Produce json
// @Success 200 {object} models.HostSnapshot "Host snapshot"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/system/metrics [get]
func (s *Server) getSystemMetrics(c echo.Context) error {
	snap, err := s.engine.CurrentHost(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

// getMetricsHistory handles GET /api/v1/metrics/history
// @Summary Get metrics history
// @Description Get the in-memory sample rings of the host and every VM
// @Tags Metrics
// @Produce json
// @Success 200 {object} models.MetricsHistory "Sample rings"
// @Router /api/v1/metrics/history [get]
func (s *Server) getMetricsHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.History())
}

// getExtendedHistory handles GET /api/v1/metrics/history/extended
// @Summary Get extended metrics history
// @Description Get persisted samples of the last hours
// @Tags Metrics
// @Produce json
// @Param hours query int false "Window in hours, at most 24" default(24)
// @Param vm_id query string false "Restrict to one VM"
// @Success 200 {object} models.MetricsHistory "Persisted samples"
// @Failure 400 {object} APIError "Invalid request"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/metrics/history/extended [get]
func (s *Server) getExtendedHistory(c echo.Context) error {
	hours := maxExtendedHours
	if v := c.QueryParam("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return BadRequestError("invalid hours parameter", "hours must be a positive integer")
		}
		hours = n
		if hours > maxExtendedHours {
			hours = maxExtendedHours
		}
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	history, err := s.engine.ExtendedHistory(since, c.QueryParam("vm_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

// getVMMetrics handles GET /api/v1/vms/:id/metrics
// @Summary Get VM metrics
// @Description Get the latest utilisation sample of a running virtual machine
// @Tags Metrics
// @Produce json
// @Param id path string true "VM ID"
// @Success 200 {object} models.MetricSample "Latest sample"
// @Failure 404 {object} APIError "VM not found"
// @Failure 409 {object} APIError "VM is not running"
// @Router /api/v1/vms/{id}/metrics [get]
func (s *Server) getVMMetrics(c echo.Context) error {
	sample, err := s.engine.CurrentVM(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sample)
}

// getVMMetricsHistory handles GET /api/v1/vms/:id/metrics/history
// @Summary Get VM metrics history
// @Description Get the in-memory sample ring of a virtual machine
// @Tags Metrics
// @Produce json
// @Param id path string true "VM ID"
// @Success 200 {object} VMMetricsHistoryResponse "Sample ring"
// @Failure 404 {object} APIError "VM not found"
// @Router /api/v1/vms/{id}/metrics/history [get]
func (s *Server) getVMMetricsHistory(c echo.Context) error {
	id := c.Param("id")
	samples, err := s.engine.VMHistory(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, VMMetricsHistoryResponse{VMID: id, Samples: samples})
}
