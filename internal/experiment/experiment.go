package experiment

import (
	"context"

	"github.com/san-kum/pksim/internal/config"
	"github.com/san-kum/pksim/internal/engine"
	"github.com/san-kum/pksim/internal/pkmodel"
)

// Experiment is a validated configuration wired to a population runner.
type Experiment struct {
	cfg        *config.Config
	model      *pkmodel.Model
	design     engine.Design
	population *engine.Population
}

func New(cfg *config.Config, reg *Registry) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	newIntegrator, err := reg.Integrator(cfg.Run.Integrator)
	if err != nil {
		return nil, err
	}
	model, err := cfg.BuildModel()
	if err != nil {
		return nil, err
	}
	design, err := cfg.Design()
	if err != nil {
		return nil, err
	}

	sim := engine.New(model, newIntegrator, cfg.StepConfig())
	sim.SetMetrics(reg.DefaultMetrics(ExposureOutput(model.Capture)))

	return &Experiment{
		cfg:        cfg,
		model:      model,
		design:     design,
		population: engine.NewPopulation(sim, cfg.Run.Individuals, cfg.Run.Seed, cfg.Run.Workers),
	}, nil
}

func (e *Experiment) AddObserver(o engine.Observer) { e.population.AddObserver(o) }

func (e *Experiment) Run(ctx context.Context) (*engine.Result, error) {
	return e.population.Run(ctx, e.design)
}

func (e *Experiment) Config() *config.Config { return e.cfg }

func (e *Experiment) Model() *pkmodel.Model { return e.model }

func (e *Experiment) Design() engine.Design { return e.design }
