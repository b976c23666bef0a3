package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/fastvm/internal/validation"
)

// validateVM handles POST /api/v1/validate/vm
//
// The body is checked the way createVM would check it, without creating
// anything. A JSON or YAML descriptor is accepted.
// @Summary Validate VM descriptor
// @Description Check a JSON or YAML VM descriptor without creating anything
// @Tags Validation
// @Accept json,application/x-yaml
// @Produce json
// @Param descriptor body models.VMCreate true "VM descriptor"
// @Success 200 {object} validation.ValidationResult "Descriptor is valid"
// @Failure 400 {object} validation.ValidationResult "Descriptor is invalid"
// @Router /api/v1/validate/vm [post]
func (s *Server) validateVM(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequestError("failed to read request body", err.Error())
	}

	result := validation.New().Validate(body)
	if result.Valid {
		return c.JSON(http.StatusOK, result)
	}
	return c.JSON(http.StatusBadRequest, result)
}
