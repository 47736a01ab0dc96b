package types

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job does not exist or is not visible to the caller
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidPipeline is returned for an unknown pipeline type
	ErrInvalidPipeline = errors.New("invalid pipeline type")
	// ErrEmptyInput is returned when a submission carries no payload
	ErrEmptyInput = errors.New("input payload is empty")
	// ErrInvalidTransition is returned when a status change is not allowed from the current state
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// ValidationError indicates a submission payload failed validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}
