package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/fastvm/internal/vmerr"
)

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code       int                    `json:"code"`
	Kind       string                 `json:"kind,omitempty"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	FieldError map[string]string      `json:"field_errors,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message string, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func BadRequestError(message, details string) *APIError {
	return NewAPIError(http.StatusBadRequest, message, details)
}

func NotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Context: map[string]interface{}{"id": id},
	}
}

func ValidationError(message string, fieldErrors map[string]string) *APIError {
	return &APIError{
		Code:       http.StatusBadRequest,
		Message:    message,
		FieldError: fieldErrors,
	}
}

func InternalError(message, details string) *APIError {
	return NewAPIError(http.StatusInternalServerError, message, details)
}

func ConflictError(message, details string) *APIError {
	return NewAPIError(http.StatusConflict, message, details)
}

// kindStatus maps engine error kinds to HTTP status codes.
var kindStatus = map[vmerr.Kind]int{
	vmerr.KindInternal:          http.StatusInternalServerError,
	vmerr.KindValidation:        http.StatusBadRequest,
	vmerr.KindNotFound:          http.StatusNotFound,
	vmerr.KindConflict:          http.StatusConflict,
	vmerr.KindResourceExhausted: http.StatusServiceUnavailable,
	vmerr.KindExternal:          http.StatusBadGateway,
	vmerr.KindProcessFailure:    http.StatusInternalServerError,
	vmerr.KindTimeout:           http.StatusGatewayTimeout,
}

// FromEngineError converts a classified engine error into an APIError.
// Captured process output travels in the context so callers can see why a
// hypervisor died.
func FromEngineError(e *vmerr.Error) *APIError {
	code, ok := kindStatus[e.Kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	apiErr := &APIError{
		Code:       code,
		Kind:       e.Kind.String(),
		Message:    e.Message,
		FieldError: e.Fields,
	}
	if e.Err != nil {
		apiErr.Details = e.Err.Error()
	}
	if apiErr.Message == "" {
		apiErr.Message = getHTTPMessage(code)
	}
	if e.Output != "" {
		apiErr.Context = map[string]interface{}{"output": e.Output}
	}
	return apiErr
}

// HTTPErrorHandler is a custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	// Don't send response if already sent
	if c.Response().Committed {
		return
	}

	var (
		apiErr *APIError
		engErr *vmerr.Error
		he     *echo.HTTPError
	)
	code := http.StatusInternalServerError

	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &engErr):
		apiErr = FromEngineError(engErr)
		code = apiErr.Code
	case errors.As(err, &he):
		code = he.Code
		apiErr = &APIError{
			Code:    code,
			Message: getHTTPMessage(code),
			Details: fmt.Sprintf("%v", he.Message),
		}
	default:
		apiErr = &APIError{
			Code:    code,
			Message: "Internal server error",
			Details: err.Error(),
		}
	}

	// Don't expose internal errors in production
	if code == http.StatusInternalServerError && !c.Echo().Debug && apiErr.Kind != vmerr.KindProcessFailure.String() {
		apiErr.Details = "An internal error occurred. Please try again later."
	}

	if err := c.JSON(code, apiErr); err != nil {
		c.Logger().Error(err)
	}
}

// getHTTPMessage returns a user-friendly message for HTTP status codes.
func getHTTPMessage(code int) string {
	messages := map[int]string{
		http.StatusBadRequest:          "Bad request",
		http.StatusUnauthorized:        "Unauthorized",
		http.StatusForbidden:           "Forbidden",
		http.StatusNotFound:            "Resource not found",
		http.StatusMethodNotAllowed:    "Method not allowed",
		http.StatusConflict:            "Conflict",
		http.StatusUnprocessableEntity: "Unprocessable entity",
		http.StatusTooManyRequests:     "Too many requests",
		http.StatusInternalServerError: "Internal server error",
		http.StatusBadGateway:          "Bad gateway",
		http.StatusServiceUnavailable:  "Service unavailable",
		http.StatusGatewayTimeout:      "Gateway timeout",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
