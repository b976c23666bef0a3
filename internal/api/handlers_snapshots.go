package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/fastvm/models"
)

// listSnapshots handles GET /api/v1/vms/:id/snapshots
//
// Snapshots kept after their VM was deleted are still listed under the old
// VM id.
// @Summary List snapshots
// @Description List the disk snapshots taken of a virtual machine
// @Tags Snapshots
// @Produce json
// @Param id path string true "VM ID"
// @Success 200 {object} SnapshotsResponse "Snapshots"
// @Router /api/v1/vms/{id}/snapshots [get]
func (s *Server) listSnapshots(c echo.Context) error {
	id := c.Param("id")
	snaps := s.engine.ListSnapshots(id)
	return c.JSON(http.StatusOK, SnapshotsResponse{
		VMID:      id,
		Count:     len(snaps),
		Snapshots: snaps,
	})
}

// createSnapshot handles POST /api/v1/vms/:id/snapshots
// @Summary Create snapshot
// @Description Snapshot the disk of a stopped virtual machine
// @Tags Snapshots
// @Accept json
// @Produce json
// @Param id path string true "VM ID"
// @Param snapshot body models.SnapshotCreate true "Snapshot name"
// @Success 201 {object} models.Snapshot "Created snapshot"
// @Failure 400 {object} APIError "Invalid request"
// @Failure 404 {object} APIError "VM not found"
// @Failure 409 {object} APIError "VM is running"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/vms/{id}/snapshots [post]
func (s *Server) createSnapshot(c echo.Context) error {
	var req models.SnapshotCreate
	if err := c.Bind(&req); err != nil {
		return BadRequestError("invalid request body", err.Error())
	}

	snap, err := s.engine.CreateSnapshot(c.Request().Context(), c.Param("id"), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, snap)
}

// restoreSnapshot handles POST /api/v1/vms/:id/snapshots/:snap/restore
// @Summary Restore snapshot
// @Description Replace the disk of a stopped virtual machine with a snapshot
// @Tags Snapshots
// @Produce json
// @Param id path string true "VM ID"
// @Param snap path string true "Snapshot ID"
// @Success 200 {object} models.VM "Restored VM"
// @Failure 404 {object} APIError "VM or snapshot not found"
// @Failure 409 {object} APIError "VM is running"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/vms/{id}/snapshots/{snap}/restore [post]
func (s *Server) restoreSnapshot(c echo.Context) error {
	vm, err := s.engine.RestoreSnapshot(c.Request().Context(), c.Param("id"), c.Param("snap"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, vm)
}

// deleteSnapshot handles DELETE /api/v1/vms/:id/snapshots/:snap
// @Summary Delete snapshot
// @Description Delete a snapshot and its image file
// @Tags Snapshots
// @Produce json
// @Param id path string true "VM ID"
// @Param snap path string true "Snapshot ID"
// @Success 200 {object} MessageResponse "Snapshot deleted"
// @Failure 404 {object} APIError "Snapshot not found"
// @Router /api/v1/vms/{id}/snapshots/{snap} [delete]
func (s *Server) deleteSnapshot(c echo.Context) error {
	snapID := c.Param("snap")
	if err := s.engine.DeleteSnapshot(c.Request().Context(), c.Param("id"), snapID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: "snapshot deleted",
		ID:      snapID,
	})
}
