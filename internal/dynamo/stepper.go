package dynamo

import (
	"errors"
	"math"
)

// Stepper advances one trajectory between requested times. The adaptive
// step size carries over from one segment to the next.
type Stepper struct {
	dyn        System
	integrator Integrator
	cfg        Config
	dt         float64
	steps      int
	rejected   int
}

func NewStepper(dyn System, integrator Integrator, cfg Config) *Stepper {
	return &Stepper{
		dyn:        dyn,
		integrator: integrator,
		cfg:        cfg,
		dt:         cfg.Dt,
	}
}

func (s *Stepper) Steps() int    { return s.steps }
func (s *Stepper) Rejected() int { return s.rejected }

// Advance integrates x from t0 to t1 under the constant input u and returns
// the state at exactly t1. The input state is not modified.
func (s *Stepper) Advance(x State, u Control, t0, t1 float64) (State, error) {
	if len(x) != s.dyn.StateDim() {
		return nil, ErrDimensionMismatch
	}
	if u != nil && len(u) != s.dyn.ControlDim() {
		return nil, ErrDimensionMismatch
	}

	x = x.Clone()
	t := t0
	eps := 1e-12 * math.Max(1, math.Abs(t1))

	for t1-t > eps {
		if s.cfg.MaxSteps > 0 && s.steps >= s.cfg.MaxSteps {
			return x, &SimulationError{Step: s.steps, Time: t, State: x, Wrapped: ErrTooManySteps}
		}

		var (
			next State
			h    float64
			err  error
		)
		if s.cfg.Adaptive {
			next, h, err = s.adaptiveStep(x, u, t, t1-t)
		} else {
			h = math.Min(s.cfg.Dt, t1-t)
			next = s.integrator.Step(s.dyn, x, u, t, h)
		}
		if err != nil {
			return x, &SimulationError{Step: s.steps, Time: t, State: x, Wrapped: err}
		}

		s.steps++
		if s.cfg.ValidateState && !next.IsValid() {
			return next, &SimulationError{Step: s.steps, Time: t + h, State: next, Wrapped: ErrNumericDomain}
		}

		x = next
		t += h
	}

	return x, nil
}

// adaptiveStep takes one accepted step no longer than remaining and returns
// the new state with the size of the step taken.
func (s *Stepper) adaptiveStep(x State, u Control, t, remaining float64) (State, float64, error) {
	for {
		h := math.Min(s.dt, remaining)
		next, dtNext, err := s.try(x, u, t, h)
		if errors.Is(err, ErrStepRejected) {
			s.rejected++
			if h <= s.cfg.MinDt {
				return nil, h, ErrStepTooSmall
			}
			s.dt = math.Max(math.Min(dtNext, h*0.5), s.cfg.MinDt)
			continue
		}
		if err != nil {
			return nil, h, err
		}

		if dtNext > 0 && !math.IsInf(dtNext, 0) {
			s.dt = math.Min(math.Max(dtNext, s.cfg.MinDt), s.cfg.MaxDt)
		}
		return next, h, nil
	}
}

func (s *Stepper) try(x State, u Control, t, h float64) (State, float64, error) {
	if adaptive, ok := s.integrator.(AdaptiveIntegrator); ok {
		return adaptive.StepAdaptive(s.dyn, x, u, t, h, s.cfg.Tolerance)
	}

	// step doubling for integrators without an embedded error estimate
	x1 := s.integrator.Step(s.dyn, x, u, t, h)
	xHalf := s.integrator.Step(s.dyn, x, u, t, h/2)
	x2 := s.integrator.Step(s.dyn, xHalf, u, t+h/2, h/2)

	errEst := x1.Sub(x2).Norm() / (1 + x2.Norm())
	if errEst > s.cfg.Tolerance {
		return x2, h / 2, ErrStepRejected
	}
	if errEst < s.cfg.Tolerance/10 {
		return x2, h * 2, nil
	}
	return x2, h, nil
}
