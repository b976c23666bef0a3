package models

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"evalgo.org/fastvm/internal/vmerr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return v
}

// Validate checks field constraints and network descriptors.
func (r *VMCreate) Validate() error {
	fields := structFields(r)
	validateNetworks(r.Networks, fields)
	return fieldsError(fields)
}

// Validate checks the fields that are set.
func (r *VMUpdate) Validate() error {
	fields := structFields(r)
	validateNetworks(r.Networks, fields)
	return fieldsError(fields)
}

func (r *VMClone) Validate() error {
	return fieldsError(structFields(r))
}

func (r *VolumeCreate) Validate() error {
	return fieldsError(structFields(r))
}

func (r *SnapshotCreate) Validate() error {
	return fieldsError(structFields(r))
}

// ApplyDefaults fills in the values the original dashboard used.
func (r *VMCreate) ApplyDefaults() {
	if r.MemoryMB == 0 {
		r.MemoryMB = 2048
	}
	if r.VCPUs == 0 {
		r.VCPUs = 2
	}
	if r.DiskSizeGB == 0 {
		r.DiskSizeGB = 20
	}
	if r.CPUModel == "" {
		r.CPUModel = "host"
	}
	if r.Display == "" {
		r.Display = DisplaySpice
	}
	if r.OSType == "" {
		r.OSType = OSLinux
	}
	if len(r.BootOrder) == 0 {
		r.BootOrder = []BootDevice{BootCDROM, BootDisk}
	}
	for i := range r.Networks {
		if r.Networks[i].Model == "" {
			r.Networks[i].Model = NICVirtio
		}
	}
}

func structFields(s interface{}) map[string]string {
	fields := make(map[string]string)
	err := validate.Struct(s)
	if err == nil {
		return fields
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["_"] = err.Error()
		return fields
	}
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return fields
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func fieldsError(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return vmerr.Invalid("validation failed", fields)
}
