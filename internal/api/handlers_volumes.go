package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/fastvm/models"
)

// listVolumes handles GET /api/v1/volumes
// @Summary List volumes
// @Description List data volumes with pagination
// @Tags Volumes
// @Produce json
// @Param limit query int false "Maximum number of results" default(100)
// @Param offset query int false "Number of results to skip" default(0)
// @Success 200 {object} VolumesResponse "Paginated volumes"
// @Router /api/v1/volumes [get]
func (s *Server) listVolumes(c echo.Context) error {
	volumes := s.engine.ListVolumes()

	limit, offset := parsePagination(c)
	total := len(volumes)
	volumes = paginate(volumes, limit, offset)

	return c.JSON(http.StatusOK, VolumesResponse{
		Count:   len(volumes),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		Volumes: volumes,
	})
}

// getVolume handles GET /api/v1/volumes/:id
// @Summary Get volume
// @Description Get a data volume by its ID
// @Tags Volumes
// @Produce json
// @Param id path string true "Volume ID"
// @Success 200 {object} models.Volume "Volume"
// @Failure 404 {object} APIError "Volume not found"
// @Router /api/v1/volumes/{id} [get]
func (s *Server) getVolume(c echo.Context) error {
	vol, err := s.engine.GetVolume(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, vol)
}

// createVolume handles POST /api/v1/volumes
// @Summary Create volume
// @Description Create a detached data volume
// @Tags Volumes
// @Accept json
// @Produce json
// @Param volume body models.VolumeCreate true "Volume definition"
// @Success 201 {object} models.Volume "Created volume"
// @Failure 400 {object} APIError "Invalid request"
// @Failure 409 {object} APIError "Name already in use"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/volumes [post]
func (s *Server) createVolume(c echo.Context) error {
	var req models.VolumeCreate
	if err := c.Bind(&req); err != nil {
		return BadRequestError("invalid request body", err.Error())
	}

	vol, err := s.engine.CreateVolume(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, vol)
}

// deleteVolume handles DELETE /api/v1/volumes/:id
// @Summary Delete volume
// @Description Delete a detached data volume and its file
// @Tags Volumes
// @Produce json
// @Param id path string true "Volume ID"
// @Success 200 {object} MessageResponse "Volume deleted"
// @Failure 404 {object} APIError "Volume not found"
// @Failure 409 {object} APIError "Volume is attached"
// @Router /api/v1/volumes/{id} [delete]
func (s *Server) deleteVolume(c echo.Context) error {
	id := c.Param("id")
	if err := s.engine.DeleteVolume(id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: "volume deleted",
		ID:      id,
	})
}

// attachVolume handles POST /api/v1/vms/:id/volumes/:vol
// @Summary Attach volume
// @Description Attach a volume to a stopped virtual machine
// @Tags Volumes
// @Produce json
// @Param id path string true "VM ID"
// @Param vol path string true "Volume ID"
// @Success 200 {object} models.VM "Updated VM"
// @Failure 404 {object} APIError "VM or volume not found"
// @Failure 409 {object} APIError "VM is running or volume is attached"
// @Router /api/v1/vms/{id}/volumes/{vol} [post]
func (s *Server) attachVolume(c echo.Context) error {
	vm, err := s.engine.AttachVolume(c.Request().Context(), c.Param("id"), c.Param("vol"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, vm)
}

// detachVolume handles DELETE /api/v1/vms/:id/volumes/:vol
// @Summary Detach volume
// @Description Detach a volume from a stopped virtual machine
// @Tags Volumes
// @Produce json
// @Param id path string true "VM ID"
// @Param vol path string true "Volume ID"
// @Success 200 {object} models.VM "Updated VM"
// @Failure 404 {object} APIError "VM or volume not found"
// @Failure 409 {object} APIError "VM is running"
// @Router /api/v1/vms/{id}/volumes/{vol} [delete]
func (s *Server) detachVolume(c echo.Context) error {
	vm, err := s.engine.DetachVolume(c.Request().Context(), c.Param("id"), c.Param("vol"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, vm)
}
