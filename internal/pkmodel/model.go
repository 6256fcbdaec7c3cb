package pkmodel

import (
	"fmt"

	"github.com/san-kum/pksim/internal/dynamo"
	"github.com/san-kum/pksim/internal/randeff"
)

// Table quantities that can be captured in the simulated output.
const (
	OutCP   = "CP"
	OutCT   = "CT"
	OutCLNL = "CLNL"
	OutDV   = "DV"
)

var (
	TableOutputs   = []string{OutCP, OutCT, OutCLNL, OutDV}
	DefaultCapture = []string{OutCP, OutDV}
)

// Outputs holds the captured quantities of one observation.
type Outputs map[string]float64

// Model is the loaded, validated model definition. It is immutable and safe
// to share between goroutines simulating different individuals.
type Model struct {
	Name     string
	Params   ParameterTable
	Topology *Topology
	Omega    *randeff.Matrix
	Sigma    *randeff.Matrix
	Capture  []string

	ev1, cent, periph int
}

func New(name string, params ParameterTable, topo *Topology, omega, sigma *randeff.Matrix, capture []string) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if topo == nil {
		return nil, &dynamo.ConfigError{Field: "cmt", Reason: "no compartments declared"}
	}
	if omega == nil || omega.Dim() < EtaDim {
		return nil, &dynamo.ConfigError{Field: "omega", Reason: fmt.Sprintf("need dimension %d for ETA(1..%d)", EtaDim, EtaDim)}
	}
	if sigma == nil || sigma.Dim() < 1 {
		return nil, &dynamo.ConfigError{Field: "sigma", Reason: "need dimension 1 for EPS(1)"}
	}

	m := &Model{
		Name:     name,
		Params:   make(ParameterTable, len(params)),
		Topology: topo,
		Omega:    omega,
		Sigma:    sigma,
	}
	for k, v := range params {
		m.Params[k] = v
	}

	for _, ref := range []struct {
		name string
		dst  *int
	}{
		{CmtEV1, &m.ev1},
		{CmtCENT, &m.cent},
		{CmtPERIPH, &m.periph},
	} {
		i, ok := topo.Index(ref.name)
		if !ok {
			return nil, &dynamo.ConfigError{Field: "cmt", Reason: fmt.Sprintf("compartment %s is required", ref.name)}
		}
		*ref.dst = i
	}

	if len(capture) == 0 {
		capture = DefaultCapture
	}
	seen := make(map[string]bool, len(capture))
	for _, name := range capture {
		if !isTableOutput(name) {
			return nil, &dynamo.ConfigError{Field: "capture", Reason: fmt.Sprintf("unknown output %q (valid: %v)", name, TableOutputs)}
		}
		if seen[name] {
			return nil, &dynamo.ConfigError{Field: "capture", Reason: fmt.Sprintf("duplicate output %q", name)}
		}
		seen[name] = true
	}
	m.Capture = append([]string(nil), capture...)

	return m, nil
}

func isTableOutput(name string) bool {
	for _, o := range TableOutputs {
		if o == name {
			return true
		}
	}
	return false
}

func (m *Model) Individualize(eta []float64) (IndividualParameters, error) {
	return Individualize(m.Params, eta)
}

// Typical returns the individual parameters at ETA = 0.
func (m *Model) Typical() IndividualParameters {
	ip, _ := Individualize(m.Params, make([]float64, EtaDim))
	return ip
}

func (m *Model) Amounts(x dynamo.State) Amounts {
	return Amounts{
		EV1:    x[m.ev1],
		CENT:   x[m.cent],
		PERIPH: x[m.periph],
	}
}

// State lays out named amounts into a fresh state vector; compartments
// outside the three modeled ones keep their initial amounts.
func (m *Model) State(a Amounts) dynamo.State {
	x := m.Topology.InitialState()
	x[m.ev1] = a.EV1
	x[m.cent] = a.CENT
	x[m.periph] = a.PERIPH
	return x
}

// System binds one individual's parameters to the ODE right-hand side.
func (m *Model) System(ip IndividualParameters) dynamo.System {
	return &subject{model: m, ip: ip}
}

// Output evaluates the table after the state has been advanced to an
// observation time. CP is recomputed from x; DV applies the proportional
// residual error EPS(1).
func (m *Model) Output(x dynamo.State, ip IndividualParameters, eps []float64) (Outputs, error) {
	if len(eps) < 1 {
		return nil, &dynamo.ConfigError{Field: "eps", Reason: "need 1 residual error term, got 0"}
	}

	a := m.Amounts(x)
	cp := CP(a, ip)

	out := make(Outputs, len(m.Capture))
	for _, name := range m.Capture {
		switch name {
		case OutCP:
			out[name] = cp
		case OutCT:
			out[name] = CT(a, ip)
		case OutCLNL:
			out[name] = CLNL(a, ip)
		case OutDV:
			out[name] = cp * (1 + eps[0])
		}
	}
	return out, nil
}

type subject struct {
	model *Model
	ip    IndividualParameters
}

func (s *subject) StateDim() int   { return s.model.Topology.Len() }
func (s *subject) ControlDim() int { return s.model.Topology.Len() }

func (s *subject) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	d := Derivative(s.model.Amounts(x), s.ip)

	dx := make(dynamo.State, len(x))
	dx[s.model.ev1] = d.EV1
	dx[s.model.cent] = d.CENT
	dx[s.model.periph] = d.PERIPH
	for i := range u {
		dx[i] += u[i]
	}
	return dx
}
