package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"evalgo.org/fastvm/internal/vmerr"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		want     string
	}{
		{
			name: "error with details",
			apiError: &APIError{
				Code:    400,
				Message: "Bad Request",
				Details: "Invalid JSON format",
			},
			want: "Bad Request: Invalid JSON format",
		},
		{
			name: "error without details",
			apiError: &APIError{
				Code:    404,
				Message: "Not Found",
			},
			want: "Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.want {
				t.Errorf("APIError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("VM", "abc123")

	if err.Code != http.StatusNotFound {
		t.Errorf("NotFoundError().Code = %v, want %v", err.Code, http.StatusNotFound)
	}
	if err.Message != "VM not found" {
		t.Errorf("NotFoundError().Message = %v, want %v", err.Message, "VM not found")
	}
	if id, ok := err.Context["id"].(string); !ok || id != "abc123" {
		t.Errorf("NotFoundError().Context['id'] = %v, want 'abc123'", id)
	}
}

func TestValidationError(t *testing.T) {
	fieldErrors := map[string]string{
		"name":   "is required",
		"memory": "must be at least 512",
	}
	err := ValidationError("Validation failed", fieldErrors)

	if err.Code != http.StatusBadRequest {
		t.Errorf("ValidationError().Code = %v, want %v", err.Code, http.StatusBadRequest)
	}
	if len(err.FieldError) != 2 {
		t.Errorf("ValidationError().FieldError length = %v, want 2", len(err.FieldError))
	}
}

func TestConflictError(t *testing.T) {
	err := ConflictError("VM is running", "stop it first")

	if err.Code != http.StatusConflict {
		t.Errorf("ConflictError().Code = %v, want %v", err.Code, http.StatusConflict)
	}
	if err.Details != "stop it first" {
		t.Errorf("ConflictError().Details = %v, want %v", err.Details, "stop it first")
	}
}

func TestFromEngineError(t *testing.T) {
	tests := []struct {
		name string
		err  *vmerr.Error
		want int
	}{
		{"validation", vmerr.Invalid("bad vm", map[string]string{"name": "is required"}), http.StatusBadRequest},
		{"not found", vmerr.NotFound("vm", "x"), http.StatusNotFound},
		{"conflict", vmerr.Conflict("vm x is running"), http.StatusConflict},
		{"exhausted", vmerr.New(vmerr.KindResourceExhausted, "no free console port"), http.StatusServiceUnavailable},
		{"external", vmerr.New(vmerr.KindExternal, "bridge br9 not found"), http.StatusBadGateway},
		{"process", &vmerr.Error{Kind: vmerr.KindProcessFailure, Message: "exited", Output: "could not open disk"}, http.StatusInternalServerError},
		{"timeout", vmerr.New(vmerr.KindTimeout, "probe"), http.StatusGatewayTimeout},
		{"internal", vmerr.Wrap(vmerr.KindInternal, errors.New("disk full"), "write catalog"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromEngineError(tt.err)
			if got.Code != tt.want {
				t.Errorf("FromEngineError().Code = %v, want %v", got.Code, tt.want)
			}
			if got.Kind != tt.err.Kind.String() {
				t.Errorf("FromEngineError().Kind = %v, want %v", got.Kind, tt.err.Kind.String())
			}
		})
	}

	got := FromEngineError(vmerr.Invalid("bad vm", map[string]string{"name": "is required"}))
	if got.FieldError["name"] != "is required" {
		t.Errorf("FromEngineError().FieldError['name'] = %v, want 'is required'", got.FieldError["name"])
	}
	got = FromEngineError(&vmerr.Error{Kind: vmerr.KindProcessFailure, Message: "exited", Output: "could not open disk"})
	if got.Context["output"] != "could not open disk" {
		t.Errorf("FromEngineError().Context['output'] = %v, want captured output", got.Context["output"])
	}
}

func TestHTTPErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"api error", ConflictError("busy", ""), http.StatusConflict, ""},
		{"wrapped engine error", fmt.Errorf("start: %w", vmerr.NotFound("vm", "x")), http.StatusNotFound, "not_found"},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, ""},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			HTTPErrorHandler(tt.err, c)

			if rec.Code != tt.wantCode {
				t.Errorf("HTTPErrorHandler() status = %v, want %v", rec.Code, tt.wantCode)
			}
			var body APIError
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Kind != tt.wantKind {
				t.Errorf("HTTPErrorHandler() kind = %v, want %v", body.Kind, tt.wantKind)
			}
		})
	}
}

func TestHTTPErrorHandlerHidesInternalDetails(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	HTTPErrorHandler(errors.New("secret path /var/lib"), c)

	var body APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Details == "secret path /var/lib" {
		t.Error("HTTPErrorHandler() exposed internal error details")
	}
}

func TestGetHTTPMessage(t *testing.T) {
	tests := []struct {
		name string
		code int
		want string
	}{
		{"Bad Request", http.StatusBadRequest, "Bad request"},
		{"Not Found", http.StatusNotFound, "Resource not found"},
		{"Gateway Timeout", http.StatusGatewayTimeout, "Gateway timeout"},
		{"Unknown Code", 999, http.StatusText(999)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getHTTPMessage(tt.code); got != tt.want {
				t.Errorf("getHTTPMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}
