package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for model loading and integration.
var (
	// ErrConfiguration marks a model or study definition that cannot be used.
	// It is detected at load time, before any individual is simulated.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrNumericDomain indicates a non-finite state or derivative during integration.
	ErrNumericDomain = errors.New("dynamo: non-finite state (NaN or Inf detected)")

	// ErrStepRejected is returned by adaptive integrators when the error
	// estimate exceeds the tolerance. The returned step size is the retry size.
	ErrStepRejected = errors.New("dynamo: step rejected by error control")

	// ErrStepTooSmall indicates adaptive timestep became too small.
	ErrStepTooSmall = errors.New("dynamo: adaptive timestep below minimum")

	// ErrTooManySteps indicates the step budget ran out before reaching the target time.
	ErrTooManySteps = errors.New("dynamo: step limit exceeded")

	// ErrDimensionMismatch indicates mismatched state/control dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")
)

// ConfigError names the offending field of a rejected configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Subject int
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("subject %d, step %d (t=%.4f): %v", e.Subject, e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
