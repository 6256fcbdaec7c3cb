package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/pksim/internal/dynamo"
	"github.com/san-kum/pksim/internal/integrators"
	"github.com/san-kum/pksim/internal/metrics"
	"github.com/san-kum/pksim/internal/pkmodel"
	"github.com/san-kum/pksim/internal/randeff"
)

func testModel(t *testing.T, overrides map[string]float64, omegaValues []float64) *pkmodel.Model {
	t.Helper()

	params := pkmodel.ParameterTable{
		"TVCL": 1, "TVVC": 20, "TVQ": 2, "TVVP": 10, "TVKA": 1, "TVVMAX": 10, "TVKM": 2,
	}
	for k, v := range overrides {
		params[k] = v
	}

	topo, err := pkmodel.NewTopology(
		pkmodel.Compartment{Name: "EV1"},
		pkmodel.Compartment{Name: "CENT"},
		pkmodel.Compartment{Name: "PERIPH"},
	)
	require.NoError(t, err)
	omega, err := randeff.FromBlock("omega", omegaValues, false)
	require.NoError(t, err)
	sigma, err := randeff.Diagonal("sigma", []float64{0.01})
	require.NoError(t, err)

	m, err := pkmodel.New("test", params, topo, omega, sigma, nil)
	require.NoError(t, err)
	return m
}

func newRK45() dynamo.Integrator { return integrators.NewRK45() }

func tightConfig() dynamo.Config {
	cfg := dynamo.DefaultConfig()
	cfg.Tolerance = 1e-9
	return cfg
}

var declaredOmega = []float64{0.1, 0.02, 0.3}
var zeroOmega = []float64{0, 0, 0}

func noElimination() map[string]float64 {
	return map[string]float64{"TVCL": 0, "TVVMAX": 0}
}

func TestRunSubject_ObservationTimesAndDoseOrdering(t *testing.T) {
	m := testModel(t, nil, zeroOmega)
	sim := New(m, newRK45, tightConfig())

	design := Design{
		Doses: []Dose{{Time: 0, Amount: 100, Cmt: "EV1"}},
		Times: []float64{0, 1, 2.5, 24},
	}
	require.NoError(t, design.Validate(m.Topology))

	prof, err := sim.RunSubject(context.Background(), 1, []float64{0, 0}, NewStreams(1).Subject(SubsystemEps, 1), design)
	require.NoError(t, err)
	require.Len(t, prof.Records, 4)

	for i, want := range design.Times {
		assert.Equal(t, want, prof.Records[i].Time)
	}

	// the dose at t=0 is visible in the t=0 observation
	first := prof.Records[0]
	assert.Equal(t, dynamo.State{100, 0, 0}, first.Amounts)
	assert.Equal(t, 0.0, first.Outputs["CP"])
	assert.Equal(t, 0.0, first.Outputs["DV"])

	// EV1 decays with KA=1 regardless of the rest of the model
	assert.InDelta(t, 100*math.Exp(-1), prof.Records[1].Amounts[0], 1e-6)
	assert.Greater(t, prof.Records[1].Outputs["CP"], 0.0)
	assert.Equal(t, m.Typical(), prof.Params)
}

func TestRunSubject_ResidualErrorIsProportional(t *testing.T) {
	m := testModel(t, nil, zeroOmega)
	sim := New(m, newRK45, tightConfig())
	design := Design{Doses: []Dose{{Amount: 100, Cmt: "EV1"}}, Times: []float64{1, 2, 3, 4}}

	prof, err := sim.RunSubject(context.Background(), 1, []float64{0, 0}, NewStreams(9).Subject(SubsystemEps, 1), design)
	require.NoError(t, err)

	differs := false
	for _, rec := range prof.Records {
		cp, dv := rec.Outputs["CP"], rec.Outputs["DV"]
		assert.InDelta(t, cp, dv, 0.6*cp, "DV should stay within a few SDs of CP")
		if dv != cp {
			differs = true
		}
	}
	assert.True(t, differs, "EPS draws should perturb DV")
}

func TestRunSubject_InfusionDeliversAmount(t *testing.T) {
	m := testModel(t, noElimination(), declaredOmega)
	sim := New(m, newRK45, tightConfig())

	design := Design{
		Doses: []Dose{{Time: 0, Amount: 100, Cmt: "CENT", Rate: 50}},
		Times: []float64{1, 2, 5},
	}
	prof, err := sim.RunSubject(context.Background(), 1, []float64{0.2, -0.1}, NewStreams(1).Subject(SubsystemEps, 1), design)
	require.NoError(t, err)

	assert.InDelta(t, 50, prof.Records[0].Amounts.Sum(), 1e-6)
	assert.InDelta(t, 100, prof.Records[1].Amounts.Sum(), 1e-6)
	assert.InDelta(t, 100, prof.Records[2].Amounts.Sum(), 1e-6)
	assert.Equal(t, 0.0, prof.Records[0].Amounts[0])
}

func TestRunSubject_ZeroAmountInfusionDeliversNothing(t *testing.T) {
	m := testModel(t, noElimination(), zeroOmega)
	sim := New(m, newRK45, tightConfig())

	design := Design{
		Doses: []Dose{
			{Time: 0, Amount: 0, Cmt: "CENT", Rate: 50},
			{Time: 2, Amount: 0, Cmt: "EV1", Rate: 10, II: 4, ADDL: 1},
		},
		Times: []float64{1, 10},
	}
	require.NoError(t, design.Validate(m.Topology))

	prof, err := sim.RunSubject(context.Background(), 1, []float64{0, 0}, NewStreams(1).Subject(SubsystemEps, 1), design)
	require.NoError(t, err)
	require.Len(t, prof.Records, 2)
	assert.Equal(t, 0.0, prof.Records[0].Amounts.Sum())
	assert.Equal(t, 0.0, prof.Records[1].Amounts.Sum())

	for _, ev := range design.events(m.Topology) {
		assert.Equal(t, eventObserve, ev.kind)
	}
}

func TestRunSubject_AdditionalDoses(t *testing.T) {
	m := testModel(t, noElimination(), zeroOmega)
	sim := New(m, newRK45, tightConfig())

	design := Design{
		Doses: []Dose{{Time: 0, Amount: 100, Cmt: "EV1", II: 12, ADDL: 2}},
		Times: []float64{6, 18, 30},
	}
	prof, err := sim.RunSubject(context.Background(), 1, []float64{0, 0}, NewStreams(1).Subject(SubsystemEps, 1), design)
	require.NoError(t, err)

	assert.InDelta(t, 100, prof.Records[0].Amounts.Sum(), 1e-6)
	assert.InDelta(t, 200, prof.Records[1].Amounts.Sum(), 1e-6)
	assert.InDelta(t, 300, prof.Records[2].Amounts.Sum(), 1e-6)
}

func TestRunSubject_Metrics(t *testing.T) {
	m := testModel(t, nil, zeroOmega)
	sim := New(m, newRK45, tightConfig())
	sim.SetMetrics(func() []metrics.Metric { return metrics.Exposure("CP") })

	times := make([]float64, 0, 49)
	for i := 0; i <= 48; i++ {
		times = append(times, float64(i)*0.5)
	}
	design := Design{Doses: []Dose{{Amount: 100, Cmt: "EV1"}}, Times: times}

	prof, err := sim.RunSubject(context.Background(), 1, []float64{0, 0}, NewStreams(1).Subject(SubsystemEps, 1), design)
	require.NoError(t, err)

	assert.Greater(t, prof.Metrics["cmax"], 0.0)
	assert.Greater(t, prof.Metrics["tmax"], 0.0)
	assert.Less(t, prof.Metrics["tmax"], 24.0)
	assert.Greater(t, prof.Metrics["auc"], 0.0)
}

func TestRunSubject_NumericDomainFailure(t *testing.T) {
	m := testModel(t, map[string]float64{"TVVC": 0}, zeroOmega)
	sim := New(m, newRK45, tightConfig())

	design := Design{Doses: []Dose{{Amount: 100, Cmt: "EV1"}}, Times: []float64{1}}
	_, err := sim.RunSubject(context.Background(), 7, []float64{0, 0}, NewStreams(1).Subject(SubsystemEps, 7), design)
	require.Error(t, err)
	assert.ErrorIs(t, err, dynamo.ErrNumericDomain)

	var simErr *dynamo.SimulationError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, 7, simErr.Subject)
}

func TestDesign_Validate(t *testing.T) {
	m := testModel(t, nil, zeroOmega)

	tests := []struct {
		name   string
		design Design
	}{
		{"no times", Design{}},
		{"negative time", Design{Times: []float64{-1}}},
		{"unknown compartment", Design{Times: []float64{1}, Doses: []Dose{{Amount: 1, Cmt: "GUT"}}}},
		{"negative amount", Design{Times: []float64{1}, Doses: []Dose{{Amount: -1, Cmt: "EV1"}}}},
		{"negative rate", Design{Times: []float64{1}, Doses: []Dose{{Amount: 1, Rate: -2, Cmt: "EV1"}}}},
		{"addl without ii", Design{Times: []float64{1}, Doses: []Dose{{Amount: 1, ADDL: 2, Cmt: "EV1"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.design.Validate(m.Topology), dynamo.ErrConfiguration)
		})
	}
}

func TestDesign_EventOrder(t *testing.T) {
	m := testModel(t, nil, zeroOmega)
	d := Design{
		Doses: []Dose{
			{Time: 2, Amount: 10, Cmt: "CENT", Rate: 5},
			{Time: 4, Amount: 10, Cmt: "EV1"},
		},
		Times: []float64{4, 0},
	}

	evs := d.events(m.Topology)
	require.Len(t, evs, 5)

	kinds := make([]eventKind, len(evs))
	times := make([]float64, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.kind
		times[i] = ev.time
	}
	assert.Equal(t, []float64{0, 2, 4, 4, 4}, times)
	assert.Equal(t, []eventKind{eventObserve, eventDose, eventInfusionEnd, eventDose, eventObserve}, kinds)
}

type countingObserver struct {
	mu   sync.Mutex
	seen map[int]bool
	errs int
}

func (c *countingObserver) OnSubject(id int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[id] = true
	if err != nil {
		c.errs++
	}
}

func TestPopulation_DeterministicAcrossWorkers(t *testing.T) {
	m := testModel(t, nil, declaredOmega)
	design := Design{Doses: []Dose{{Amount: 100, Cmt: "EV1"}}, Times: []float64{0.5, 1, 2, 4, 8, 12, 24}}

	run := func(workers int) *Result {
		pop := NewPopulation(New(m, newRK45, dynamo.DefaultConfig()), 12, 2024, workers)
		res, err := pop.Run(context.Background(), design)
		require.NoError(t, err)
		return res
	}

	serial := run(1)
	parallel := run(4)

	require.Len(t, serial.Profiles, 12)
	require.Len(t, parallel.Profiles, 12)
	assert.Empty(t, serial.Failures)

	for i := range serial.Profiles {
		a, b := serial.Profiles[i], parallel.Profiles[i]
		assert.Equal(t, i+1, a.ID)
		assert.Equal(t, a.Eta, b.Eta)
		assert.Equal(t, a.Records, b.Records)

		require.Len(t, a.Eta, 2)
		assert.Equal(t, math.Exp(a.Eta[0]), a.Params.CL)
		assert.Equal(t, 20*math.Exp(a.Eta[1]), a.Params.VC)
	}

	assert.NotEqual(t, serial.Profiles[0].Eta, serial.Profiles[1].Eta)
}

func TestPopulation_CollectsFailures(t *testing.T) {
	m := testModel(t, map[string]float64{"TVVC": 0}, zeroOmega)
	pop := NewPopulation(New(m, newRK45, dynamo.DefaultConfig()), 3, 1, 2)

	obs := &countingObserver{seen: map[int]bool{}}
	pop.AddObserver(obs)

	res, err := pop.Run(context.Background(), Design{Doses: []Dose{{Amount: 100, Cmt: "EV1"}}, Times: []float64{1}})
	require.NoError(t, err)
	assert.Empty(t, res.Profiles)
	require.Len(t, res.Failures, 3)
	for i, f := range res.Failures {
		assert.Equal(t, i+1, f.ID)
		assert.ErrorIs(t, f.Err, dynamo.ErrNumericDomain)
	}
	assert.Len(t, obs.seen, 3)
	assert.Equal(t, 3, obs.errs)
}

func TestPopulation_AbortsOnConfigurationAndCancel(t *testing.T) {
	m := testModel(t, nil, zeroOmega)
	pop := NewPopulation(New(m, newRK45, dynamo.DefaultConfig()), 2, 1, 1)

	_, err := pop.Run(context.Background(), Design{Times: []float64{1}, Doses: []Dose{{Amount: 1, Cmt: "NOPE"}}})
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pop.Run(ctx, Design{Times: []float64{1}})
	assert.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)

	_, err = NewPopulation(New(m, newRK45, dynamo.DefaultConfig()), 0, 1, 1).Run(context.Background(), Design{Times: []float64{1}})
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
}

func TestStreams(t *testing.T) {
	s := NewStreams(42)

	a := s.Subject(SubsystemEta, 1).Float64()
	b := s.Subject(SubsystemEta, 1).Float64()
	c := s.Subject(SubsystemEps, 1).Float64()
	d := s.Subject(SubsystemEta, 2).Float64()

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}
