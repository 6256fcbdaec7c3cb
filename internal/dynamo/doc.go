// Package dynamo provides the numeric primitives shared by the model and
// the simulation driver.
//
//   - [State]: compartment amounts, in topology order
//   - [Control]: zero-order input rate per compartment
//   - [System]: interface for ODE systems (dX/dt = f(X, u, t))
//   - [Integrator], [AdaptiveIntegrator]: single-step methods
//   - [Stepper]: advances a state to an exact target time
//
// # Example
//
//	sys := model.System(model.Typical())
//	st := dynamo.NewStepper(sys, integrators.NewRK45(), dynamo.DefaultConfig())
//	x, err := st.Advance(dynamo.State{100, 0, 0}, nil, 0, 24)
//
// # Errors
//
// Load-time problems wrap [ErrConfiguration] through [ConfigError].
// Integration failures are reported as [*SimulationError]; a non-finite
// state wraps [ErrNumericDomain] and ends that trajectory.
//
// # Thread Safety
//
// A Stepper and the integrator it drives keep per-trajectory scratch
// state and must not be shared between goroutines.
package dynamo
