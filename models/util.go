package models

import (
	"github.com/google/uuid"
)

// NewID generates an opaque, stable record id.
func NewID() string {
	return uuid.New().String()
}
