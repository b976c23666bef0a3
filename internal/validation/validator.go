// Package validation checks VM descriptor documents before they reach the
// engine.
//
// A descriptor is the body of a create request, written either as JSON or as
// YAML. Validation applies the same defaults the engine applies, runs the
// struct constraints from the models package and then a set of cross-field
// checks that only make sense for a whole document:
//
//   - NAT host ports must be unique across all interfaces
//   - an explicit cdrom boot entry needs removable media
//   - an explicit network boot entry needs at least one interface
//
// # Usage Example
//
//	result := validation.New().Validate(data)
//	if !result.Valid {
//	    for _, e := range result.Errors {
//	        fmt.Printf("%s: %s\n", e.Field, e.Message)
//	    }
//	}
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// ValidationError is a single problem found in a descriptor.
type ValidationError struct {
	// Field is the dotted path of the offending field
	Field string `json:"field"`

	Message string `json:"message"`

	// Value is the offending value (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult is the outcome of validating one descriptor.
type ValidationResult struct {
	Valid bool `json:"valid"`

	// Errors make the descriptor unusable.
	Errors []ValidationError `json:"errors,omitempty"`

	// Warnings are accepted by the engine but probably not intended.
	Warnings []ValidationError `json:"warnings,omitempty"`

	// VM is the descriptor with defaults applied, set when it parsed.
	VM *models.VMCreate `json:"vm,omitempty"`
}

// Validator validates VM descriptors.
type Validator struct {
	// Strict rejects unknown fields in YAML documents.
	Strict bool
}

// New creates a Validator with strict YAML decoding.
func New() *Validator {
	return &Validator{Strict: true}
}

// ValidateFile reads and validates the descriptor at path.
func (v *Validator) ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	return v.Validate(data), nil
}

// Validate parses data as JSON or YAML and checks the resulting descriptor.
func (v *Validator) Validate(data []byte) *ValidationResult {
	req, err := v.decode(data)
	if err != nil {
		return &ValidationResult{
			Errors: []ValidationError{{
				Field:   "document",
				Message: err.Error(),
			}},
		}
	}
	return v.ValidateVM(req)
}

// ValidateVM checks an already decoded descriptor. Defaults are applied to
// req in place.
func (v *Validator) ValidateVM(req *models.VMCreate) *ValidationResult {
	explicitBoot := len(req.BootOrder) > 0
	req.ApplyDefaults()
	result := &ValidationResult{VM: req}

	if err := req.Validate(); err != nil {
		var verr *vmerr.Error
		if !errors.As(err, &verr) || len(verr.Fields) == 0 {
			result.Errors = append(result.Errors, ValidationError{Field: "document", Message: err.Error()})
		} else {
			result.Errors = append(result.Errors, fieldErrors(verr.Fields)...)
		}
	}

	result.Errors = append(result.Errors, checkHostPorts(req)...)
	if explicitBoot {
		result.Warnings = checkBootOrder(req)
	}
	result.Valid = len(result.Errors) == 0
	return result
}

func (v *Validator) decode(data []byte) (*models.VMCreate, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	var req models.VMCreate
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		if v.Strict {
			dec.DisallowUnknownFields()
		}
		if err := dec.Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return &req, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(trimmed))
	dec.KnownFields(v.Strict)
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return &req, nil
}

func fieldErrors(fields map[string]string) []ValidationError {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ValidationError, 0, len(keys))
	for _, k := range keys {
		out = append(out, ValidationError{Field: k, Message: fields[k]})
	}
	return out
}

// checkHostPorts rejects the same host port and protocol forwarded by two
// rules, which the hypervisor would refuse at start.
func checkHostPorts(req *models.VMCreate) []ValidationError {
	var errs []ValidationError
	seen := map[string]string{}
	for i, n := range req.Networks {
		nat, ok := n.Backend.(models.NATBackend)
		if !ok {
			continue
		}
		for j, pf := range nat.PortForwards {
			key := fmt.Sprintf("%s/%d", strings.ToLower(pf.Protocol), pf.HostPort)
			field := fmt.Sprintf("networks[%d].port_forwards[%d].host_port", i, j)
			if prev, dup := seen[key]; dup {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: "host port already forwarded by " + prev,
					Value:   pf.HostPort,
				})
				continue
			}
			seen[key] = field
		}
	}
	return errs
}

func checkBootOrder(req *models.VMCreate) []ValidationError {
	var warns []ValidationError
	for i, d := range req.BootOrder {
		field := fmt.Sprintf("boot_order[%d]", i)
		switch d {
		case models.BootCDROM:
			if req.ISOPath == "" && req.SecondaryISOPath == "" {
				warns = append(warns, ValidationError{Field: field, Message: "cdrom boot without iso_path is skipped", Value: d})
			}
		case models.BootNetwork:
			if len(req.Networks) == 0 {
				warns = append(warns, ValidationError{Field: field, Message: "network boot without networks is skipped", Value: d})
			}
		}
	}
	return warns
}
