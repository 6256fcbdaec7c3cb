package dynamo

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Sum is the total amount across all compartments.
func (s State) Sum() float64 {
	total := 0.0
	for _, v := range s {
		total += v
	}
	return total
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// Control holds a zero-order input rate per compartment.
type Control []float64

type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

type AdaptiveIntegrator interface {
	Integrator
	StepAdaptive(dyn System, x State, u Control, t, dt, tol float64) (State, float64, error)
}

type Config struct {
	Dt            float64
	Tolerance     float64
	MaxDt         float64
	MinDt         float64
	MaxSteps      int
	Adaptive      bool
	ValidateState bool
}

func DefaultConfig() Config {
	return Config{
		Dt:            0.05,
		Tolerance:     1e-6,
		MaxDt:         1.0,
		MinDt:         1e-9,
		MaxSteps:      1_000_000,
		Adaptive:      true,
		ValidateState: true,
	}
}

func (c Config) Validate() error {
	if c.Dt <= 0 {
		return &ConfigError{Field: "dt", Reason: fmt.Sprintf("must be positive, got %g", c.Dt)}
	}
	if c.Adaptive {
		if c.Tolerance <= 0 {
			return &ConfigError{Field: "tolerance", Reason: "must be positive for adaptive stepping"}
		}
		if c.MinDt <= 0 || c.MaxDt <= 0 || c.MinDt > c.MaxDt {
			return &ConfigError{Field: "min_dt/max_dt", Reason: fmt.Sprintf("need 0 < min_dt <= max_dt, got %g and %g", c.MinDt, c.MaxDt)}
		}
	}
	if c.MaxSteps < 0 {
		return &ConfigError{Field: "max_steps", Reason: "must not be negative"}
	}
	return nil
}
