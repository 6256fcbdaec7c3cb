package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/pksim/internal/dynamo"
	"github.com/san-kum/pksim/internal/metrics"
	"github.com/san-kum/pksim/internal/pkmodel"
)

// Record is one reported observation of one individual.
type Record struct {
	ID      int
	Time    float64
	Amounts dynamo.State
	Outputs pkmodel.Outputs
}

// Profile is the simulated trajectory of one individual.
type Profile struct {
	ID       int
	Eta      []float64
	Params   pkmodel.IndividualParameters
	Records  []Record
	Metrics  map[string]float64
	Steps    int
	Rejected int
}

// Simulator runs single individuals. It holds no per-individual state, so
// one Simulator serves any number of concurrent RunSubject calls.
type Simulator struct {
	model         *pkmodel.Model
	newIntegrator func() dynamo.Integrator
	cfg           dynamo.Config
	newMetrics    func() []metrics.Metric
}

func New(model *pkmodel.Model, newIntegrator func() dynamo.Integrator, cfg dynamo.Config) *Simulator {
	return &Simulator{
		model:         model,
		newIntegrator: newIntegrator,
		cfg:           cfg,
		newMetrics:    func() []metrics.Metric { return nil },
	}
}

// SetMetrics installs a factory producing fresh metrics for each individual.
func (s *Simulator) SetMetrics(factory func() []metrics.Metric) {
	s.newMetrics = factory
}

func (s *Simulator) Model() *pkmodel.Model { return s.model }

// RunSubject simulates one individual with random effects eta, drawing EPS
// from epsRNG once per observation. The design must already be validated.
func (s *Simulator) RunSubject(ctx context.Context, id int, eta []float64, epsRNG *rand.Rand, design Design) (*Profile, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	ip, err := s.model.Individualize(eta)
	if err != nil {
		return nil, err
	}

	topo := s.model.Topology
	stepper := dynamo.NewStepper(s.model.System(ip), s.newIntegrator(), s.cfg)
	ms := s.newMetrics()
	for _, m := range ms {
		m.Reset()
	}

	profile := &Profile{
		ID:      id,
		Eta:     append([]float64(nil), eta...),
		Params:  ip,
		Records: make([]Record, 0, len(design.Times)),
		Metrics: make(map[string]float64, len(ms)),
	}

	x := topo.InitialState()
	u := make(dynamo.Control, topo.Len())
	t := 0.0

	for _, ev := range design.events(topo) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if ev.time > t {
			x, err = stepper.Advance(x, u, t, ev.time)
			if err != nil {
				return nil, withSubject(err, id)
			}
			t = ev.time
		}

		switch ev.kind {
		case eventInfusionEnd:
			u[ev.cmt] -= ev.rate
			if math.Abs(u[ev.cmt]) < 1e-12 {
				u[ev.cmt] = 0
			}
		case eventDose:
			if ev.rate > 0 {
				u[ev.cmt] += ev.rate
			} else {
				x[ev.cmt] += ev.amount
			}
		case eventObserve:
			eps := s.model.Sigma.Draw(epsRNG, nil)
			out, err := s.model.Output(x, ip, eps)
			if err != nil {
				return nil, err
			}
			for _, v := range out {
				if !finite(v) {
					return nil, &dynamo.SimulationError{Subject: id, Step: stepper.Steps(), Time: t, State: x.Clone(), Wrapped: dynamo.ErrNumericDomain}
				}
			}

			profile.Records = append(profile.Records, Record{ID: id, Time: t, Amounts: x.Clone(), Outputs: out})
			for _, m := range ms {
				m.Observe(t, out)
			}
		}
	}

	for _, m := range ms {
		profile.Metrics[m.Name()] = m.Value()
	}
	profile.Steps = stepper.Steps()
	profile.Rejected = stepper.Rejected()

	logrus.Debugf("subject %d: %d records, %d steps, %d rejected", id, len(profile.Records), profile.Steps, profile.Rejected)
	return profile, nil
}

func withSubject(err error, id int) error {
	var simErr *dynamo.SimulationError
	if errors.As(err, &simErr) {
		simErr.Subject = id
	}
	return err
}
