package api

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/fastvm/models"
)

// ValidateContentType middleware ensures that requests with a body have the correct Content-Type
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method

		if method == "POST" || method == "PUT" || method == "PATCH" {
			contentType := c.Request().Header.Get("Content-Type")

			// actions like start and stop carry no body
			if c.Request().ContentLength == 0 {
				return next(c)
			}

			if strings.HasPrefix(contentType, "application/json") {
				return next(c)
			}
			// descriptors may also be validated in their YAML form
			if isYAML(contentType) && strings.HasPrefix(c.Request().URL.Path, "/api/v1/validate/") {
				return next(c)
			}
			return BadRequestError(
				"Invalid Content-Type",
				"Content-Type must be 'application/json'. Got: "+contentType,
			)
		}

		return next(c)
	}
}

func isYAML(contentType string) bool {
	for _, t := range []string{"application/yaml", "application/x-yaml", "text/yaml"} {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}

// ValidateAcceptHeader middleware ensures that clients can accept JSON responses.
// WebSocket upgrades, the prometheus endpoint and the API docs are exempt.
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		if strings.HasPrefix(path, "/ws/") || strings.HasPrefix(path, "/docs/") || path == "/metrics" {
			return next(c)
		}

		accept := c.Request().Header.Get("Accept")
		if accept == "" {
			return next(c)
		}

		if !strings.Contains(accept, "application/json") &&
			!strings.Contains(accept, "*/*") &&
			!strings.Contains(accept, "application/*") {
			return BadRequestError(
				"Invalid Accept header",
				"API only returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
			)
		}

		return next(c)
	}
}

// ValidateIDFormat middleware validates that resource IDs follow expected patterns
func ValidateIDFormat(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		for _, name := range c.ParamNames() {
			if err := validateID(c.Param(name)); err != nil {
				return err
			}
		}
		return next(c)
	}
}

func validateID(id string) error {
	if id == "" {
		return nil
	}
	if strings.ContainsAny(id, " /") {
		return BadRequestError("Invalid ID format", "ID cannot contain spaces or slashes")
	}
	if len(id) < 3 {
		return BadRequestError("Invalid ID format", "ID must be at least 3 characters long")
	}
	if len(id) > 256 {
		return BadRequestError("Invalid ID format", "ID must not exceed 256 characters")
	}
	return nil
}

// ValidateQueryParams middleware validates common query parameters
func ValidateQueryParams(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		for _, name := range []string{"lines", "hours"} {
			if v := c.QueryParam(name); v != "" {
				if n, err := strconv.Atoi(v); err != nil || n <= 0 {
					return BadRequestError(
						"Invalid "+name+" parameter",
						name+" must be a positive integer. Got: "+v,
					)
				}
			}
		}

		if status := c.QueryParam("status"); status != "" {
			switch models.VMStatus(status) {
			case models.StatusRunning, models.StatusStopped:
			default:
				return BadRequestError(
					"Invalid status parameter",
					"Status must be one of: running, stopped. Got: "+status,
				)
			}
		}

		for _, name := range []string{"reclaim_volumes", "reclaim_snapshots"} {
			if v := c.QueryParam(name); v != "" {
				if _, err := strconv.ParseBool(v); err != nil {
					return BadRequestError(
						"Invalid "+name+" parameter",
						name+" must be true or false. Got: "+v,
					)
				}
			}
		}

		return next(c)
	}
}

// SecurityHeaders middleware adds security headers to responses
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")
		c.Response().Header().Set("X-Frame-Options", "DENY")
		c.Response().Header().Set("X-XSS-Protection", "1; mode=block")
		c.Response().Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		return next(c)
	}
}
