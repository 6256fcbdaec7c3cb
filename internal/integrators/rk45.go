package integrators

import (
	"math"

	"github.com/san-kum/pksim/internal/dynamo"
)

// Dormand-Prince 5(4) tableau.
var (
	dpC = [7]float64{0, 1.0 / 5.0, 3.0 / 10.0, 4.0 / 5.0, 8.0 / 9.0, 1, 1}

	dpA = [7][6]float64{
		{},
		{1.0 / 5.0},
		{3.0 / 40.0, 9.0 / 40.0},
		{44.0 / 45.0, -56.0 / 15.0, 32.0 / 9.0},
		{19372.0 / 6561.0, -25360.0 / 2187.0, 64448.0 / 6561.0, -212.0 / 729.0},
		{9017.0 / 3168.0, -355.0 / 33.0, 46732.0 / 5247.0, 49.0 / 176.0, -5103.0 / 18656.0},
		{35.0 / 384.0, 0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0},
	}

	// fifth-order weights minus the embedded fourth-order weights
	dpE = [7]float64{
		35.0/384.0 - 5179.0/57600.0,
		0,
		500.0/1113.0 - 7571.0/16695.0,
		125.0/192.0 - 393.0/640.0,
		-2187.0/6784.0 + 92097.0/339200.0,
		11.0/84.0 - 187.0/2100.0,
		-1.0 / 40.0,
	}
)

type RK45 struct {
	safety   float64
	minScale float64
	maxScale float64
	absTol   float64
}

func NewRK45() *RK45 {
	return &RK45{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
		absTol:   1e-10,
	}
}

// Step takes a single unchecked step of size dt.
func (r *RK45) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	xNew, _, _ := r.stages(dyn, x, u, t, dt)
	return xNew
}

// StepAdaptive returns the new state and the suggested next step. When the
// scaled error exceeds tol the step is rejected: the state is returned
// unchanged together with a smaller retry step and dynamo.ErrStepRejected.
func (r *RK45) StepAdaptive(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt, tol float64) (dynamo.State, float64, error) {
	xNew, k, errEst := r.stages(dyn, x, u, t, dt)

	errMax := 0.0
	for i := range x {
		scale := math.Max(math.Abs(x[i]), math.Abs(xNew[i])) + math.Abs(dt*k[0][i]) + r.absTol
		errMax = math.Max(errMax, math.Abs(errEst[i])/scale)
	}
	errRatio := errMax / tol

	if errRatio > 1 {
		scale := math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
		return x, dt * scale, dynamo.ErrStepRejected
	}

	if errRatio > 0 {
		return xNew, dt * math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2)), nil
	}
	return xNew, dt * r.maxScale, nil
}

// stages evaluates the seven FSAL stages and returns the fifth-order
// solution, the stage derivatives and the local error estimate.
func (r *RK45) stages(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, [7]dynamo.State, dynamo.State) {
	n := len(x)
	var k [7]dynamo.State
	k[0] = dyn.Derive(x, u, t)

	tmp := make(dynamo.State, n)
	for s := 1; s < 7; s++ {
		for i := 0; i < n; i++ {
			acc := 0.0
			for j := 0; j < s; j++ {
				acc += dpA[s][j] * k[j][i]
			}
			tmp[i] = x[i] + dt*acc
		}
		k[s] = dyn.Derive(tmp, u, t+dpC[s]*dt)
	}

	// the last stage point is the fifth-order solution
	xNew := tmp
	errEst := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		acc := 0.0
		for s := 0; s < 7; s++ {
			acc += dpE[s] * k[s][i]
		}
		errEst[i] = dt * acc
	}
	return xNew, k, errEst
}
