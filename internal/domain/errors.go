package domain

import "errors"

// Error taxonomy surfaced by the engine. NotFound and validation errors
// propagate to the caller; everything else is absorbed into evaluation
// assumptions or reported through telemetry.
var (
	ErrNotFound   = errors.New("record not found")
	ErrValidation = errors.New("validation failed")
)
