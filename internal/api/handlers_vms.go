package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"evalgo.org/fastvm/models"
)

// listVMs handles GET /api/v1/vms
// @Summary List VMs
// @Description List virtual machines with optional status filter and pagination
// @Tags VMs
// @Produce json
// @Param status query string false "Filter by status"
// @Param limit query int false "Maximum number of results" default(100)
// @Param offset query int false "Number of results to skip" default(0)
// @Success 200 {object} VMsResponse "Paginated VMs"
// @Failure 400 {object} APIError "Invalid request"
// @Router /api/v1/vms [get]
func (s *Server) listVMs(c echo.Context) error {
	vms := s.engine.ListVMs()

	if status := c.QueryParam("status"); status != "" {
		filtered := make([]*models.VM, 0, len(vms))
		for _, vm := range vms {
			if string(vm.Status) == status {
				filtered = append(filtered, vm)
			}
		}
		vms = filtered
	}

	limit, offset := parsePagination(c)
	total := len(vms)
	vms = paginate(vms, limit, offset)

	return c.JSON(http.StatusOK, VMsResponse{
		Count:  len(vms),
		Total:  total,
		Limit:  limit,
		Offset: offset,
		VMs:    vms,
	})
}

// getVM handles GET /api/v1/vms/:id
// @Summary Get VM
// @Description Get a virtual machine by its ID
// @Tags VMs
// @Produce json
// @Param id path string true "VM ID"
// @Success 200 {object} models.VM "VM definition and runtime"
// @Failure 404 {object} APIError "VM not found"
// @Router /api/v1/vms/{id} [get]
func (s *Server) getVM(c echo.Context) error {
	vm, err := s.engine.GetVM(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, vm)
}

// createVM handles POST /api/v1/vms
// @Summary Create VM
// @Description Create a stopped virtual machine and its disk
// @Tags VMs
// @Accept json
// @Produce json
// @Param vm body models.VMCreate true "VM definition"
// @Success 201 {object} models.VM "Created VM"
// @Failure 400 {object} APIError "Invalid request"
// @Failure 409 {object} APIError "Name or address already in use"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/vms [post]
func (s *Server) createVM(c echo.Context) error {
	var req models.VMCreate
	if err := c.Bind(&req); err != nil {
		return BadRequestError("invalid request body", err.Error())
	}

	vm, err := s.engine.CreateVM(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, vm)
}

// updateVM handles PUT /api/v1/vms/:id
// @Summary Update VM
// @Description Change the definition of a stopped virtual machine
// @Tags VMs
// @Accept json
// @Produce json
// @Param id path string true "VM ID"
// @Param vm body models.VMUpdate true "Fields to change"
// @Success 200 {object} models.VM "Updated VM"
// @Failure 400 {object} APIError "Invalid request"
// @Failure 404 {object} APIError "VM not found"
// @Failure 409 {object} APIError "VM is running"
// @Router /api/v1/vms/{id} [put]
func (s *Server) updateVM(c echo.Context) error {
	var req models.VMUpdate
	if err := c.Bind(&req); err != nil {
		return BadRequestError("invalid request body", err.Error())
	}

	vm, err := s.engine.UpdateVM(c.Request().Context(), c.Param("id"), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, vm)
}

// deleteVM handles DELETE /api/v1/vms/:id
// @Summary Delete VM
// @Description Delete a stopped virtual machine, optionally with its volumes and snapshots
// @Tags VMs
// @Produce json
// @Param id path string true "VM ID"
// @Param reclaim_volumes query bool false "Delete attached volumes"
// @Param reclaim_snapshots query bool false "Delete snapshots"
// @Success 200 {object} MessageResponse "VM deleted"
// @Failure 404 {object} APIError "VM not found"
// @Failure 409 {object} APIError "VM is running"
// @Router /api/v1/vms/{id} [delete]
func (s *Server) deleteVM(c echo.Context) error {
	var opts models.VMDelete
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &opts); err != nil {
		return BadRequestError("invalid query parameters", err.Error())
	}

	id := c.Param("id")
	if err := s.engine.DeleteVM(c.Request().Context(), id, opts); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: "vm deleted",
		ID:      id,
	})
}

// startVM handles POST /api/v1/vms/:id/start
// @Summary Start VM
// @Description Launch the hypervisor process of a stopped virtual machine
// @Tags VMs
// @Produce json
// @Param id path string true "VM ID"
// @Success 200 {object} models.VM "Running VM"
// @Failure 404 {object} APIError "VM not found"
// @Failure 409 {object} APIError "VM is not stopped"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/vms/{id}/start [post]
func (s *Server) startVM(c echo.Context) error {
	vm, err := s.engine.StartVM(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, vm)
}

// stopVM handles POST /api/v1/vms/:id/stop
// @Summary Stop VM
// @Description Stop a running virtual machine, gracefully first
// @Tags VMs
// @Produce json
// @Param id path string true "VM ID"
// @Success 200 {object} models.VM "Stopped VM"
// @Failure 404 {object} APIError "VM not found"
// @Failure 409 {object} APIError "VM is not running"
// @Router /api/v1/vms/{id}/stop [post]
func (s *Server) stopVM(c echo.Context) error {
	vm, err := s.engine.StopVM(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, vm)
}

// restartVM handles POST /api/v1/vms/:id/restart
// @Summary Restart VM
// @Description Stop and start a running virtual machine
// @Tags VMs
// @Produce json
// @Param id path string true "VM ID"
// @Success 200 {object} models.VM "Running VM"
// @Failure 404 {object} APIError "VM not found"
// @Failure 409 {object} APIError "VM is not running"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/vms/{id}/restart [post]
func (s *Server) restartVM(c echo.Context) error {
	vm, err := s.engine.RestartVM(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, vm)
}

// cloneVM handles POST /api/v1/vms/:id/clone
// @Summary Clone VM
// @Description Create a copy-on-write clone of a stopped virtual machine
// @Tags VMs
// @Accept json
// @Produce json
// @Param id path string true "VM ID"
// @Param clone body models.VMClone true "Clone name"
// @Success 201 {object} models.VM "Created clone"
// @Failure 400 {object} APIError "Invalid request"
// @Failure 404 {object} APIError "VM not found"
// @Failure 409 {object} APIError "VM is running or name taken"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/vms/{id}/clone [post]
func (s *Server) cloneVM(c echo.Context) error {
	var req models.VMClone
	if err := c.Bind(&req); err != nil {
		return BadRequestError("invalid request body", err.Error())
	}

	vm, err := s.engine.CloneVM(c.Request().Context(), c.Param("id"), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, vm)
}

// getVMLogs handles GET /api/v1/vms/:id/logs
// @Summary Get VM logs
// @Description Return the tail of the hypervisor log of a virtual machine
// @Tags VMs
// @Produce json
// @Param id path string true "VM ID"
// @Param lines query int false "Number of lines" default(100)
// @Success 200 {object} LogsResponse "Log lines"
// @Failure 404 {object} APIError "VM not found"
// @Router /api/v1/vms/{id}/logs [get]
func (s *Server) getVMLogs(c echo.Context) error {
	lines := 100
	if v := c.QueryParam("lines"); v != "" {
		lines, _ = strconv.Atoi(v)
		if lines > 10000 {
			lines = 10000
		}
	}

	id := c.Param("id")
	out, err := s.engine.Logs(id, lines)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, LogsResponse{VMID: id, Lines: out})
}
