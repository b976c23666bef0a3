package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// getConsole handles GET /api/v1/vms/:id/console
// @Summary Get console
// @Description Get the display protocol, port and open sessions of a running virtual machine
// @Tags Consoles
// @Produce json
// @Param id path string true "VM ID"
// @Success 200 {object} engine.ConsoleInfo "Console connection info"
// @Failure 404 {object} APIError "VM not found"
// @Failure 409 {object} APIError "VM is not running"
// @Router /api/v1/vms/{id}/console [get]
func (s *Server) getConsole(c echo.Context) error {
	info, err := s.engine.Console(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

// disconnectVMConsoles handles POST /api/v1/vms/:id/console/disconnect
// @Summary Disconnect consoles
// @Description Close every console session of a virtual machine
// @Tags Consoles
// @Produce json
// @Param id path string true "VM ID"
// @Success 200 {object} DisconnectResponse "Sessions closed"
// @Failure 404 {object} APIError "VM not found"
// @Router /api/v1/vms/{id}/console/disconnect [post]
func (s *Server) disconnectVMConsoles(c echo.Context) error {
	id := c.Param("id")
	n, err := s.engine.DisconnectVMConsoles(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DisconnectResponse{VMID: id, Disconnected: n})
}

// disconnectSession handles DELETE /api/v1/console/sessions/:sid
// @Summary Close console session
// @Description Close one console session
// @Tags Consoles
// @Produce json
// @Param sid path string true "Session ID"
// @Success 200 {object} MessageResponse "Session closed"
// @Failure 404 {object} APIError "Session not found"
// @Router /api/v1/console/sessions/{sid} [delete]
func (s *Server) disconnectSession(c echo.Context) error {
	sid := c.Param("sid")
	if !s.engine.DisconnectConsole(sid) {
		return NotFoundError("console session", sid)
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: "console session closed",
		ID:      sid,
	})
}
