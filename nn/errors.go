package nn

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when an embedding layer cannot be built from its config.
	ErrConfiguration = errors.New("invalid embedding configuration")

	// ErrShape is returned when tensor ranks or sizes are incompatible.
	ErrShape = errors.New("incompatible tensor shape")

	// ErrIndexOutOfRange is returned when a lookup id does not address a table row.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrUnknownInitializer is returned when an initializer name is not registered.
	ErrUnknownInitializer = errors.New("unknown initializer")
)

// ConfigError describes a rejected configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// ShapeError describes a shape mismatch detected by operation Op.
type ShapeError struct {
	Op   string
	Want string
	Got  []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%v: %s: want %s, got %v", ErrShape, e.Op, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error { return ErrShape }
