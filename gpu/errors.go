package gpu

import "errors"

var (
	// ErrNoGPU is returned by every entry point of a build without the gpu tag.
	ErrNoGPU = errors.New("gpu unavailable (build with -tags=gpu to enable)")

	// ErrTooLarge is returned when a table does not fit a storage binding or
	// the configured buffer budget.
	ErrTooLarge = errors.New("table exceeds gpu buffer limits")
)
